/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testChain struct {
	root         *KeyPair
	intermediate *KeyPair
	leaf         *KeyPair
}

// pem returns leaf then intermediate, without the root.
func (c *testChain) pem() string {
	return EncodeCertificatePEM(c.leaf.Certificate) + "\n" + EncodeCertificatePEM(c.intermediate.Certificate)
}

func (c *testChain) rootPEM() string {
	return EncodeCertificatePEM(c.root.Certificate)
}

func newTestKeyPair(t *testing.T, tmpl CertificateTemplate, parent *KeyPair) *KeyPair {
	t.Helper()
	if tmpl.NotBefore.IsZero() {
		tmpl.NotBefore = time.Now().Add(-time.Hour)
	}
	if tmpl.NotAfter.IsZero() {
		tmpl.NotAfter = time.Now().Add(24 * time.Hour)
	}
	key, err := GenerateKey()
	require.NoError(t, err)
	cert, err := GenerateCertificate(tmpl, key, parent)
	require.NoError(t, err)
	return &KeyPair{PrivateKey: key, Certificate: cert}
}

// newTestChain issues root -> intermediate -> leaf. rootInfo and
// intermediateInfo set the project information of the two CA certificates.
func newTestChain(t *testing.T, rootInfo, intermediateInfo, leafInfo *ExpoProjectInformation) *testChain {
	t.Helper()
	root := newTestKeyPair(t, CertificateTemplate{CommonName: "root", IsCA: true, ProjectInformation: rootInfo}, nil)
	intermediate := newTestKeyPair(t, CertificateTemplate{CommonName: "intermediate", IsCA: true, ProjectInformation: intermediateInfo}, root)
	leaf := newTestKeyPair(t, CertificateTemplate{CommonName: "leaf", ProjectInformation: leafInfo}, intermediate)
	return &testChain{root: root, intermediate: intermediate, leaf: leaf}
}

func pemList(certs ...*Certificate) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, strings.TrimSpace(EncodeCertificatePEM(c)))
	}
	return out
}
