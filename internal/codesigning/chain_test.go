/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateChain_SelfSignedLeaf(t *testing.T) {
	kp, err := GenerateCodeSigning("self", 1)
	require.NoError(t, err)

	chain, err := NewCertificateChain(pemList(kp.Certificate))
	require.NoError(t, err)
	leaf, err := chain.CodeSigningCertificate()
	require.NoError(t, err)
	assert.Equal(t, kp.Certificate.X509().Raw, leaf.X509().Raw)
}

func TestCertificateChain_ThreeCertificates(t *testing.T) {
	info := &ExpoProjectInformation{ProjectID: "p1", ScopeKey: "@owner/app"}
	c := newTestChain(t, nil, info, info)

	chain, err := NewCertificateChain(pemList(c.leaf.Certificate, c.intermediate.Certificate, c.root.Certificate))
	require.NoError(t, err)
	assert.Equal(t, 3, chain.Len())

	leaf, err := chain.CodeSigningCertificate()
	require.NoError(t, err)
	assert.Equal(t, c.leaf.Certificate.X509().Raw, leaf.X509().Raw)

	got, err := chain.effectiveProjectInformation()
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestCertificateChain_ProjectInformationInherited(t *testing.T) {
	info := &ExpoProjectInformation{ProjectID: "p1", ScopeKey: "@owner/app"}
	c := newTestChain(t, info, nil, nil)

	chain, err := NewCertificateChain(pemList(c.leaf.Certificate, c.intermediate.Certificate, c.root.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	require.NoError(t, err)

	got, err := chain.effectiveProjectInformation()
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestCertificateChain_ProjectInformationDiverges(t *testing.T) {
	c := newTestChain(t,
		&ExpoProjectInformation{ProjectID: "p1", ScopeKey: "@owner/app"},
		&ExpoProjectInformation{ProjectID: "p2", ScopeKey: "@owner/app"},
		nil,
	)

	chain, err := NewCertificateChain(pemList(c.leaf.Certificate, c.intermediate.Certificate, c.root.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateProjectInformationChain)
}

func TestCertificateChain_RootNotSelfSigned(t *testing.T) {
	c := newTestChain(t, nil, nil, nil)

	chain, err := NewCertificateChain(pemList(c.leaf.Certificate, c.intermediate.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateRootNotSelfSigned)
}

func TestCertificateChain_LeafNotCodeSigning(t *testing.T) {
	c := newTestChain(t, nil, nil, nil)

	chain, err := NewCertificateChain(pemList(c.intermediate.Certificate, c.root.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateMissingCodeSigning)
}

func TestCertificateChain_Untrusted(t *testing.T) {
	c1 := newTestChain(t, nil, nil, nil)
	c2 := newTestChain(t, nil, nil, nil)

	chain, err := NewCertificateChain(pemList(c1.leaf.Certificate, c1.intermediate.Certificate, c2.root.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateChain)
	assert.ErrorIs(t, err, ErrChainEvaluation)
}

func TestCertificateChain_Expired(t *testing.T) {
	now := time.Now()
	kp := newTestKeyPair(t, CertificateTemplate{
		CommonName: "expired",
		NotBefore:  now.Add(-48 * time.Hour),
		NotAfter:   now.Add(-24 * time.Hour),
	}, nil)

	chain, err := NewCertificateChain(pemList(kp.Certificate))
	require.NoError(t, err)
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateValidity)
}

func TestNewCertificateChain_Errors(t *testing.T) {
	_, err := NewCertificateChain(nil)
	assert.ErrorIs(t, err, ErrCertificateEmpty)

	_, err = NewCertificateChain([]string{"garbage"})
	assert.ErrorIs(t, err, ErrCertificateEncoding)
}

type rejectingEvaluator struct{ called int }

func (r *rejectingEvaluator) Evaluate([]*Certificate, *Certificate) error {
	r.called++
	return ErrCertificateChain
}

func TestCertificateChain_UsesEvaluator(t *testing.T) {
	kp, err := GenerateCodeSigning("self", 1)
	require.NoError(t, err)
	chain, err := NewCertificateChain(pemList(kp.Certificate))
	require.NoError(t, err)

	ev := &rejectingEvaluator{}
	chain.evaluator = ev
	_, err = chain.CodeSigningCertificate()
	assert.ErrorIs(t, err, ErrCertificateChain)
	assert.Equal(t, 1, ev.called)
}

func TestValidateKeyPair(t *testing.T) {
	kp, err := GenerateCodeSigning("pair", 1)
	require.NoError(t, err)
	assert.NoError(t, ValidateKeyPair(kp.PrivateKey, kp.Certificate))

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.ErrorIs(t, ValidateKeyPair(other, kp.Certificate), ErrKeyPairMismatch)

	keyPEM, err := EncodePrivateKeyPEM(kp.PrivateKey)
	require.NoError(t, err)
	parsed, err := ParsePrivateKeyPEM(keyPEM)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(kp.PrivateKey))
}
