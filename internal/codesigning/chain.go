/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"crypto/x509"
	"fmt"
)

// TrustEvaluator decides whether chain (leaf first) resolves to anchor and
// nothing else. Implementations must not touch the network.
type TrustEvaluator interface {
	Evaluate(chain []*Certificate, anchor *Certificate) error
}

// x509TrustEvaluator pins anchor as the only root of a crypto/x509 pool.
// crypto/x509 never fetches AIA issuers or revocation data, so evaluation
// is offline.
type x509TrustEvaluator struct{}

func (x509TrustEvaluator) Evaluate(chain []*Certificate, anchor *Certificate) error {
	if len(chain) == 0 || chain[0] == nil {
		return fmt.Errorf("%w: %w", ErrCertificateChain, ErrChainTrustBuild)
	}
	if anchor == nil {
		return fmt.Errorf("%w: %w", ErrCertificateChain, ErrChainAnchor)
	}

	roots := x509.NewCertPool()
	roots.AddCert(anchor.cert)
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		if c != anchor {
			intermediates.AddCert(c.cert)
		}
	}

	// key usage is enforced on the leaf separately; the basic policy does not
	// constrain extended key usage along the path
	_, err := chain[0].cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrCertificateChain, ErrChainEvaluation, err)
	}
	return nil
}

// CertificateChain is an ordered list of certificates, leaf first and root
// last.
type CertificateChain struct {
	certificates []*Certificate
	evaluator    TrustEvaluator
}

// NewCertificateChain parses each PEM string (leaf first).
func NewCertificateChain(pemCertificates []string) (*CertificateChain, error) {
	if len(pemCertificates) == 0 {
		return nil, ErrCertificateEmpty
	}
	certificates := make([]*Certificate, 0, len(pemCertificates))
	for i, s := range pemCertificates {
		c, err := ParseCertificatePEM(s)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		certificates = append(certificates, c)
	}
	return &CertificateChain{
		certificates: certificates,
		evaluator:    x509TrustEvaluator{},
	}, nil
}

func (c *CertificateChain) Len() int {
	return len(c.certificates)
}

// CodeSigningCertificate validates the whole chain and returns the leaf.
//
// The checks run in order: validity of every certificate, offline trust
// evaluation with the root pinned as the only anchor, self-signed root, CA
// root with consistent project information down the chain (only for chains
// longer than one), and finally the code signing usages of the leaf.
func (c *CertificateChain) CodeSigningCertificate() (*Certificate, error) {
	if len(c.certificates) == 0 {
		return nil, ErrCertificateEmpty
	}
	for i, cert := range c.certificates {
		if !cert.CheckValidity() {
			return nil, fmt.Errorf("certificate %d (%s): %w", i, cert.SubjectDN(), ErrCertificateValidity)
		}
	}

	leaf := c.certificates[0]
	root := c.certificates[len(c.certificates)-1]

	if err := c.evaluator.Evaluate(c.certificates, root); err != nil {
		return nil, err
	}

	if !root.IsSelfSigned() {
		return nil, ErrCertificateRootNotSelfSigned
	}

	if len(c.certificates) > 1 {
		if !root.IsCA() {
			return nil, ErrCertificateRootNotCA
		}
		if _, err := c.effectiveProjectInformation(); err != nil {
			return nil, err
		}
	}

	if !leaf.IsCodeSigningCertificate() {
		return nil, ErrCertificateMissingCodeSigning
	}
	return leaf, nil
}

// effectiveProjectInformation walks from the root toward the leaf. A
// certificate may omit project information, but once an ancestor declares
// it every descendant that declares it must agree. The returned value is the
// nearest declaration at or above the leaf.
func (c *CertificateChain) effectiveProjectInformation() (*ExpoProjectInformation, error) {
	var last *ExpoProjectInformation
	for i := len(c.certificates) - 1; i >= 0; i-- {
		current, err := c.certificates[i].ExpoProjectInformation()
		if err != nil {
			return nil, err
		}
		if current == nil {
			continue
		}
		if last != nil && *last != *current {
			return nil, ErrCertificateProjectInformationChain
		}
		last = current
	}
	return last, nil
}
