/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"github.com/kentakayama/updates-over-http/internal/structuredheaders"
)

// Algorithm is a code signing algorithm name as it appears in the alg
// parameter of expo-signature.
type Algorithm string

const (
	AlgorithmRSASHA256 Algorithm = "rsa-v1_5-sha256"

	DefaultKeyID     = "root"
	DefaultAlgorithm = AlgorithmRSASHA256

	signatureFieldSig   = "sig"
	signatureFieldKeyID = "keyid"
	signatureFieldAlg   = "alg"
)

// ParseAlgorithm maps "" to the default algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "":
		return DefaultAlgorithm, nil
	case AlgorithmRSASHA256:
		return AlgorithmRSASHA256, nil
	default:
		return "", ErrAlgorithmParse
	}
}

// SignatureHeaderInfo is the parsed value of an expo-signature header.
type SignatureHeaderInfo struct {
	Signature string
	KeyID     string
	Algorithm Algorithm
}

// ParseSignatureHeader parses `sig="<base64>", keyid="<id>", alg="<alg>"`.
// Unrecognized members and all parameters are ignored.
func ParseSignatureHeader(header string) (*SignatureHeaderInfo, error) {
	dict, err := structuredheaders.ParseDictionary(header)
	if err != nil {
		return nil, ErrSignatureHeaderStructuredFieldParse
	}

	sig, ok := structuredheaders.StringMember(dict, signatureFieldSig)
	if !ok {
		return nil, ErrSignatureHeaderSigMissing
	}

	keyID, ok := structuredheaders.StringMember(dict, signatureFieldKeyID)
	if !ok {
		keyID = DefaultKeyID
	}

	alg, _ := structuredheaders.StringMember(dict, signatureFieldAlg)
	algorithm, err := ParseAlgorithm(alg)
	if err != nil {
		return nil, err
	}

	return &SignatureHeaderInfo{
		Signature: sig,
		KeyID:     keyID,
		Algorithm: algorithm,
	}, nil
}

// CreateSignatureHeader serializes an expo-signature header value. Servers
// and tests use it to sign responses.
func CreateSignatureHeader(signature string, keyID string, alg Algorithm) (string, error) {
	return structuredheaders.SerializeDictionary(
		structuredheaders.Entry{Key: signatureFieldSig, Value: signature},
		structuredheaders.Entry{Key: signatureFieldKeyID, Value: keyID},
		structuredheaders.Entry{Key: signatureFieldAlg, Value: string(alg)},
	)
}
