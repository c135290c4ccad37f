/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/kentakayama/updates-over-http/internal/manifest"
)

// multipart part names
const (
	partManifest         = "manifest"
	partDirective        = "directive"
	partExtensions       = "extensions"
	partCertificateChain = "certificate_chain"
)

const maxPartBytes = 4 << 20

// SignedBody is a manifest or directive body together with the
// expo-signature header that covers it.
type SignedBody struct {
	Body      []byte
	Signature string
}

// UpdateResponse is a manifest response split into its parts. Manifest and
// Directive are both nil when the server has no update.
type UpdateResponse struct {
	Headers          *manifest.ResponseHeaderData
	Manifest         *SignedBody
	Directive        *SignedBody
	Extensions       *manifest.Extensions
	CertificateChain string
}

// ParseUpdateResponse splits a manifest response. multipart/mixed bodies are
// read part by part; any other body is a single manifest signed by the
// response's expo-signature header.
func ParseUpdateResponse(statusCode int, header http.Header, body []byte, logger *log.Logger) (*UpdateResponse, error) {
	if logger == nil {
		logger = log.Default()
	}

	headers, err := manifest.ParseResponseHeaderData(header, logger)
	if err != nil {
		return nil, err
	}
	res := &UpdateResponse{
		Headers:    headers,
		Extensions: &manifest.Extensions{},
	}

	protocolV1 := headers.ProtocolVersion != nil && *headers.ProtocolVersion >= 1
	if statusCode == http.StatusNoContent || len(body) == 0 {
		if protocolV1 {
			return res, nil
		}
		return nil, ErrEmptyResponse
	}

	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/mixed" {
		if err := res.readMultipart(body, params["boundary"]); err != nil {
			return nil, err
		}
		return res, nil
	}

	res.Manifest = &SignedBody{
		Body:      body,
		Signature: header.Get(manifest.HeaderSignature),
	}
	res.CertificateChain = header.Get(manifest.HeaderCertificateChain)
	return res, nil
}

func (res *UpdateResponse) readMultipart(body []byte, boundary string) error {
	if boundary == "" {
		return fmt.Errorf("%w: missing boundary", ErrMultipartParse)
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := r.NextPart()
		// only the closing delimiter yields a bare io.EOF; a truncated body
		// yields a wrapped one
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMultipartParse, err)
		}

		name := partName(part)
		data, err := io.ReadAll(io.LimitReader(part, maxPartBytes+1))
		part.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMultipartParse, name, err)
		}
		if len(data) > maxPartBytes {
			return fmt.Errorf("%w: %s: part too large", ErrMultipartParse, name)
		}

		switch name {
		case partManifest:
			res.Manifest = &SignedBody{Body: data, Signature: part.Header.Get(manifest.HeaderSignature)}
		case partDirective:
			res.Directive = &SignedBody{Body: data, Signature: part.Header.Get(manifest.HeaderSignature)}
		case partExtensions:
			ext, err := manifest.ParseExtensions(data)
			if err != nil {
				return err
			}
			res.Extensions = ext
		case partCertificateChain:
			res.CertificateChain = string(data)
		}
	}
}

// partName reads the name parameter of the part's Content-Disposition,
// whatever the disposition type.
func partName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["name"]
}

// unwrapLegacyBody returns the manifest carried in a legacy
// {"manifestString": ..., "signature": ...} envelope, or body itself.
func unwrapLegacyBody(body []byte) []byte {
	var envelope struct {
		ManifestString *string `json:"manifestString"`
		Signature      *string `json:"signature"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	if envelope.ManifestString == nil || envelope.Signature == nil {
		return body
	}
	return []byte(*envelope.ManifestString)
}
