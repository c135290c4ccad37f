/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/kentakayama/updates-over-http/internal/structuredheaders"
)

const (
	HeaderProtocolVersion      = "expo-protocol-version"
	HeaderServerDefinedHeaders = "expo-server-defined-headers"
	HeaderManifestFilters      = "expo-manifest-filters"
	HeaderSignature            = "expo-signature"
	HeaderCertificateChain     = "expo-certificate-chain"
)

// ResponseHeaderData is what a manifest response carries in its headers.
type ResponseHeaderData struct {
	// ProtocolVersion is nil when the server did not send the header, which
	// identifies a legacy response.
	ProtocolVersion      *int
	ServerDefinedHeaders map[string]any
	ManifestFilters      map[string]any
	Signature            string
	CertificateChain     string
}

// ParseResponseHeaderData reads the update protocol headers of a manifest
// response. Malformed server-defined headers and manifest filters are logged
// and omitted; only a malformed protocol version is an error.
func ParseResponseHeaderData(h http.Header, logger *log.Logger) (*ResponseHeaderData, error) {
	if logger == nil {
		logger = log.Default()
	}

	data := &ResponseHeaderData{
		Signature:        h.Get(HeaderSignature),
		CertificateChain: h.Get(HeaderCertificateChain),
	}

	if v := strings.TrimSpace(h.Get(HeaderProtocolVersion)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProtocolVersion, v)
		}
		data.ProtocolVersion = &n
	}

	data.ServerDefinedHeaders = primitiveHeader(h, HeaderServerDefinedHeaders, logger)
	data.ManifestFilters = primitiveHeader(h, HeaderManifestFilters, logger)
	return data, nil
}

func primitiveHeader(h http.Header, name string, logger *log.Logger) map[string]any {
	raw := h.Values(name)
	if len(raw) == 0 {
		return nil
	}
	dict, err := structuredheaders.PrimitiveDictionary(strings.Join(raw, ", "))
	if err != nil {
		logger.Printf("ignoring malformed %s header: %v", name, err)
		return nil
	}
	return dict
}
