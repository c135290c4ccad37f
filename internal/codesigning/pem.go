/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"encoding/pem"
	"strings"
)

const (
	PEMTypeCertificate = "CERTIFICATE"

	beginCertificateDelimiter = "-----BEGIN CERTIFICATE-----"
	endCertificateDelimiter   = "-----END CERTIFICATE-----"
)

// DecodePEMToDER returns the DER payload of the only PEM block in s. Input
// holding zero blocks, a block of another type, or more than one block is
// rejected.
func DecodePEMToDER(s string, blockType string) ([]byte, error) {
	block, rest := pem.Decode([]byte(s))
	if block == nil || block.Type != blockType {
		return nil, ErrCertificateEncoding
	}
	if next, _ := pem.Decode(rest); next != nil {
		return nil, ErrCertificateEncoding
	}
	return block.Bytes, nil
}

// SeparateCertificateChain splits concatenated PEM certificates into one
// string per certificate, scanning left to right. Content after the last
// complete BEGIN/END pair is ignored.
func SeparateCertificateChain(chain string) []string {
	var certificates []string
	rest := chain
	for {
		begin := strings.Index(rest, beginCertificateDelimiter)
		if begin < 0 {
			break
		}
		end := strings.Index(rest[begin:], endCertificateDelimiter)
		if end < 0 {
			break
		}
		end += begin + len(endCertificateDelimiter)
		certificates = append(certificates, rest[begin:end])
		rest = rest[end:]
	}
	return certificates
}
