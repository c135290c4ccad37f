/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"
)

const (
	HeaderAccept           = "Accept"
	HeaderPlatform         = "Expo-Platform"
	HeaderProtocolVersion  = "Expo-Protocol-Version"
	HeaderAPIVersion       = "Expo-API-Version"
	HeaderRuntimeVersion   = "Expo-Runtime-Version"
	HeaderCurrentUpdateID  = "Expo-Current-Update-ID"
	HeaderEmbeddedUpdateID = "Expo-Embedded-Update-ID"
	HeaderEASClientID      = "EAS-Client-ID"
	HeaderExpectSignature  = "expo-expect-signature"
	HeaderJSONError        = "Expo-JSON-Error"

	acceptManifest = "multipart/mixed,application/expo+json,application/json"
)

// RequestHeaderOptions is everything that goes into a manifest request.
type RequestHeaderOptions struct {
	Platform         string
	RuntimeVersion   string
	LaunchedUpdateID uuid.UUID
	EmbeddedUpdateID uuid.UUID
	EASClientID      string
	// ServerDefinedHeaders were stored from the previous manifest response
	// and are echoed back verbatim.
	ServerDefinedHeaders map[string]any
	// ExpectSignature is set when code signing is configured.
	ExpectSignature string
	// ConfiguredHeaders come from the app configuration and override
	// everything else.
	ConfiguredHeaders map[string]string
}

// BuildRequestHeaders assembles the headers of a manifest request. Later
// sources replace earlier ones: protocol headers, then server-defined
// headers and update ids, then the runtime version and signature
// expectation, then configured headers.
func BuildRequestHeaders(opts RequestHeaderOptions) http.Header {
	h := http.Header{}
	h.Set(HeaderAccept, acceptManifest)
	h.Set(HeaderPlatform, opts.Platform)
	h.Set(HeaderProtocolVersion, "1")
	h.Set(HeaderAPIVersion, "1")
	h.Set(HeaderJSONError, "true")
	if opts.EASClientID != "" {
		h.Set(HeaderEASClientID, opts.EASClientID)
	}

	for _, k := range sortedKeys(opts.ServerDefinedHeaders) {
		h.Set(k, fmt.Sprint(opts.ServerDefinedHeaders[k]))
	}
	if opts.LaunchedUpdateID != uuid.Nil {
		h.Set(HeaderCurrentUpdateID, opts.LaunchedUpdateID.String())
	}
	if opts.EmbeddedUpdateID != uuid.Nil {
		h.Set(HeaderEmbeddedUpdateID, opts.EmbeddedUpdateID.String())
	}

	if opts.RuntimeVersion != "" {
		h.Set(HeaderRuntimeVersion, opts.RuntimeVersion)
	}
	if opts.ExpectSignature != "" {
		h.Set(HeaderExpectSignature, opts.ExpectSignature)
	}

	for k, v := range opts.ConfiguredHeaders {
		h.Set(k, v)
	}
	return h
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
