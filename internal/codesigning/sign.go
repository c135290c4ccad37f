/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SignRSASHA256 signs data with RSASSA-PKCS1-v1_5 over SHA-256 and returns
// the standard base64 encoding expected in the sig member.
func SignRSASHA256(data []byte, privateKey *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignatureHeaderFor signs data and returns a complete expo-signature value.
func SignatureHeaderFor(data []byte, privateKey *rsa.PrivateKey, keyID string) (string, error) {
	sig, err := SignRSASHA256(data, privateKey)
	if err != nil {
		return "", err
	}
	return CreateSignatureHeader(sig, keyID, AlgorithmRSASHA256)
}
