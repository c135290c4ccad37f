/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import "errors"

var (
	// encoding
	ErrCertificateEncoding    = errors.New("certificate PEM must contain exactly one certificate")
	ErrCertificateDERDecode   = errors.New("certificate DER could not be decoded")
	ErrSignatureEncoding      = errors.New("signature is not valid base64")
	ErrPrivateKeyEncoding     = errors.New("private key PEM could not be decoded")
	ErrInvalidExpoProjectInfo = errors.New("invalid expo project information extension value")

	// validity
	ErrCertificateEmpty    = errors.New("certificate chain is empty")
	ErrCertificateValidity = errors.New("certificate is outside of its validity period")

	// trust
	ErrCertificateChain                   = errors.New("certificate chain is not trusted")
	ErrChainTrustBuild                    = errors.New("could not build trust context")
	ErrChainAnchor                        = errors.New("could not set trust anchor")
	ErrChainEvaluation                    = errors.New("trust evaluation failed")
	ErrCertificateRootNotSelfSigned       = errors.New("root certificate is not self-signed")
	ErrCertificateRootNotCA               = errors.New("root certificate is not a CA certificate")
	ErrCertificateProjectInformationChain = errors.New("expo project information must be a subset or equal of that of parent certificates")
	ErrCertificateMissingCodeSigning      = errors.New("certificate is not a code signing certificate")
	ErrCertificateMissingPublicKey        = errors.New("certificate has no public key")
	ErrUnsupportedPublicKey               = errors.New("certificate public key is not RSA")
	ErrKeyPairMismatch                    = errors.New("private key does not match certificate public key")

	// protocol
	ErrSignatureHeaderMissing              = errors.New("no expo-signature header specified")
	ErrSignatureHeaderStructuredFieldParse = errors.New("expo-signature header is not a valid structured dictionary")
	ErrSignatureHeaderSigMissing           = errors.New("expo-signature header does not contain sig")
	ErrAlgorithmParse                      = errors.New("invalid code signing algorithm")
	ErrKeyIDMismatch                       = errors.New("key with keyid from signature not found in client configuration")
)
