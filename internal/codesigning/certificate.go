/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// OIDExpoProjectInformation binds a certificate to "<projectId>,<scopeKey>".
	OIDExpoProjectInformation = asn1.ObjectIdentifier{1, 2, 840, 113556, 1, 8000, 2554, 43437, 254, 128, 102, 157, 7894389, 20439, 2, 1}
	OIDExtKeyUsageCodeSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
)

// ExpoProjectInformation is the project a certificate is restricted to.
type ExpoProjectInformation struct {
	ProjectID string
	ScopeKey  string
}

// Certificate is an immutable parsed X.509 certificate.
type Certificate struct {
	cert *x509.Certificate
}

// ParseCertificate parses a single DER-encoded certificate.
func ParseCertificate(der []byte) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateDERDecode, err)
	}
	return &Certificate{cert: cert}, nil
}

// ParseCertificatePEM parses a PEM string holding exactly one certificate.
func ParseCertificatePEM(s string) (*Certificate, error) {
	der, err := DecodePEMToDER(s, PEMTypeCertificate)
	if err != nil {
		return nil, err
	}
	return ParseCertificate(der)
}

func (c *Certificate) X509() *x509.Certificate {
	return c.cert
}

func (c *Certificate) SubjectDN() string {
	return c.cert.Subject.String()
}

func (c *Certificate) IssuerDN() string {
	return c.cert.Issuer.String()
}

// IsSelfSigned compares the raw subject and issuer names.
func (c *Certificate) IsSelfSigned() bool {
	return bytes.Equal(c.cert.RawSubject, c.cert.RawIssuer)
}

// CheckValidity reports whether now is inside [NotBefore, NotAfter].
func (c *Certificate) CheckValidity() bool {
	return c.checkValidityAt(time.Now())
}

func (c *Certificate) checkValidityAt(now time.Time) bool {
	return !now.Before(c.cert.NotBefore) && !now.After(c.cert.NotAfter)
}

// IsCA requires both the CA basic constraint and the keyCertSign usage bit.
func (c *Certificate) IsCA() bool {
	return c.cert.BasicConstraintsValid && c.cert.IsCA && c.cert.KeyUsage&x509.KeyUsageCertSign != 0
}

// IsCodeSigningCertificate requires the digitalSignature usage bit and the
// code signing extended key usage.
func (c *Certificate) IsCodeSigningCertificate() bool {
	if c.cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return false
	}
	if slices.Contains(c.cert.ExtKeyUsage, x509.ExtKeyUsageCodeSigning) {
		return true
	}
	return slices.ContainsFunc(c.cert.UnknownExtKeyUsage, func(oid asn1.ObjectIdentifier) bool {
		return oid.Equal(OIDExtKeyUsageCodeSigning)
	})
}

// ExpoProjectInformation returns nil, nil when the extension is absent.
func (c *Certificate) ExpoProjectInformation() (*ExpoProjectInformation, error) {
	for _, ext := range c.cert.Extensions {
		if !ext.Id.Equal(OIDExpoProjectInformation) {
			continue
		}
		var value string
		if rest, err := asn1.Unmarshal(ext.Value, &value); err != nil || len(rest) != 0 {
			return nil, ErrInvalidExpoProjectInfo
		}
		components := strings.Split(value, ",")
		if len(components) != 2 {
			return nil, ErrInvalidExpoProjectInfo
		}
		return &ExpoProjectInformation{
			ProjectID: strings.TrimSpace(components[0]),
			ScopeKey:  strings.TrimSpace(components[1]),
		}, nil
	}
	return nil, nil
}
