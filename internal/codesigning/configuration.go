/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"

	"github.com/kentakayama/updates-over-http/internal/structuredheaders"
)

const (
	MetadataKeyID     = "keyid"
	MetadataAlgorithm = "alg"
)

type ValidationResult int

const (
	ValidationResultValid ValidationResult = iota
	ValidationResultInvalid
	ValidationResultSkipped
)

func (r ValidationResult) String() string {
	switch r {
	case ValidationResultValid:
		return "valid"
	case ValidationResultInvalid:
		return "invalid"
	case ValidationResultSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("ValidationResult(%d)", int(r))
	}
}

type SignatureValidationResult struct {
	Result                 ValidationResult
	ExpoProjectInformation *ExpoProjectInformation
}

// ConfigurationOptions are read once from app configuration.
type ConfigurationOptions struct {
	// EmbeddedCertificate is the PEM certificate shipped with the app.
	EmbeddedCertificate string
	// Metadata carries "keyid" and "alg"; both are optional.
	Metadata                                map[string]string
	IncludeManifestResponseCertificateChain bool
	AllowUnsignedManifests                  bool
	Logger                                  *log.Logger
}

// Configuration verifies manifest and directive signatures. It is immutable
// after construction and safe for concurrent use.
type Configuration struct {
	embeddedCertificate                     string
	keyIDFromMetadata                       string
	algorithmFromMetadata                   Algorithm
	includeManifestResponseCertificateChain bool
	allowUnsignedManifests                  bool
	logger                                  *log.Logger
}

func NewConfiguration(opts ConfigurationOptions) (*Configuration, error) {
	if _, err := ParseCertificatePEM(opts.EmbeddedCertificate); err != nil {
		return nil, fmt.Errorf("embedded certificate: %w", err)
	}

	algorithm, err := ParseAlgorithm(opts.Metadata[MetadataAlgorithm])
	if err != nil {
		return nil, err
	}
	keyID := opts.Metadata[MetadataKeyID]
	if keyID == "" {
		keyID = DefaultKeyID
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Configuration{
		embeddedCertificate:                     opts.EmbeddedCertificate,
		keyIDFromMetadata:                       keyID,
		algorithmFromMetadata:                   algorithm,
		includeManifestResponseCertificateChain: opts.IncludeManifestResponseCertificateChain,
		allowUnsignedManifests:                  opts.AllowUnsignedManifests,
		logger:                                  logger,
	}, nil
}

func (c *Configuration) KeyID() string {
	return c.keyIDFromMetadata
}

func (c *Configuration) Algorithm() Algorithm {
	return c.algorithmFromMetadata
}

// CreateAcceptSignatureHeader builds the expo-expect-signature request header
// value, e.g. `sig, keyid="root", alg="rsa-v1_5-sha256"`.
func (c *Configuration) CreateAcceptSignatureHeader() (string, error) {
	return structuredheaders.SerializeDictionary(
		structuredheaders.Entry{Key: signatureFieldSig, Value: true},
		structuredheaders.Entry{Key: signatureFieldKeyID, Value: c.keyIDFromMetadata},
		structuredheaders.Entry{Key: signatureFieldAlg, Value: string(c.algorithmFromMetadata)},
	)
}

// ValidateSignature checks signature (the raw expo-signature header, "" when
// absent) over signedData. certificateChain is the PEM chain sent with the
// response and is only consulted when the configuration includes response
// certificate chains.
//
// A signature that was computed but does not match is reported as
// ValidationResultInvalid; every other failure is returned as an error.
func (c *Configuration) ValidateSignature(signature string, signedData []byte, certificateChain string) (*SignatureValidationResult, error) {
	if signature == "" {
		if c.allowUnsignedManifests {
			return &SignatureValidationResult{Result: ValidationResultSkipped}, nil
		}
		return nil, ErrSignatureHeaderMissing
	}

	info, err := ParseSignatureHeader(signature)
	if err != nil {
		return nil, err
	}

	var pemCertificates []string
	if c.includeManifestResponseCertificateChain {
		pemCertificates = append(SeparateCertificateChain(certificateChain), c.embeddedCertificate)
	} else {
		if info.KeyID != c.keyIDFromMetadata {
			return nil, fmt.Errorf("%w: %q", ErrKeyIDMismatch, info.KeyID)
		}
		if info.Algorithm != c.algorithmFromMetadata {
			c.logger.Printf("code signing algorithm mismatch: signature uses %q, configuration expects %q", info.Algorithm, c.algorithmFromMetadata)
		}
		pemCertificates = []string{c.embeddedCertificate}
	}

	chain, err := NewCertificateChain(pemCertificates)
	if err != nil {
		return nil, err
	}
	leaf, err := chain.CodeSigningCertificate()
	if err != nil {
		return nil, err
	}
	projectInformation, err := chain.effectiveProjectInformation()
	if err != nil {
		return nil, err
	}

	if leaf.cert.PublicKey == nil {
		return nil, ErrCertificateMissingPublicKey
	}
	publicKey, ok := leaf.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPublicKey, leaf.cert.PublicKey)
	}

	rawSignature, err := base64.StdEncoding.DecodeString(info.Signature)
	if err != nil {
		return nil, ErrSignatureEncoding
	}

	digest := sha256.Sum256(signedData)
	result := ValidationResultValid
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], rawSignature); err != nil {
		if !errors.Is(err, rsa.ErrVerification) {
			return nil, fmt.Errorf("verify signature: %w", err)
		}
		result = ValidationResultInvalid
	}

	return &SignatureValidationResult{
		Result:                 result,
		ExpoProjectInformation: projectInformation,
	}, nil
}
