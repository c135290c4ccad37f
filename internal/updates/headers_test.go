/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBuildRequestHeaders(t *testing.T) {
	launched := uuid.MustParse(testUpdateID)
	h := BuildRequestHeaders(RequestHeaderOptions{
		Platform:         "ios",
		RuntimeVersion:   "2.0",
		LaunchedUpdateID: launched,
		EASClientID:      "client",
		ServerDefinedHeaders: map[string]any{
			"branch-override": "beta",
			"count":           float64(3),
			HeaderPlatform:    "web",
		},
		ExpectSignature: `sig, keyid="root", alg="rsa-v1_5-sha256"`,
		ConfiguredHeaders: map[string]string{
			HeaderRuntimeVersion: "3.0",
			"X-Custom":           "yes",
		},
	})

	assert.Equal(t, "multipart/mixed,application/expo+json,application/json", h.Get(HeaderAccept))
	assert.Equal(t, "1", h.Get(HeaderProtocolVersion))
	assert.Equal(t, "1", h.Get(HeaderAPIVersion))
	assert.Equal(t, "client", h.Get(HeaderEASClientID))
	assert.Equal(t, testUpdateID, h.Get(HeaderCurrentUpdateID))
	assert.Empty(t, h.Get(HeaderEmbeddedUpdateID))
	assert.Equal(t, "beta", h.Get("branch-override"))
	assert.Equal(t, "3", h.Get("count"))
	assert.Equal(t, `sig, keyid="root", alg="rsa-v1_5-sha256"`, h.Get(HeaderExpectSignature))
	assert.Equal(t, "yes", h.Get("X-Custom"))

	// server-defined headers replace protocol headers, configured headers
	// replace everything
	assert.Equal(t, "web", h.Get(HeaderPlatform))
	assert.Equal(t, "3.0", h.Get(HeaderRuntimeVersion))
}

func TestBuildRequestHeaders_Minimal(t *testing.T) {
	h := BuildRequestHeaders(RequestHeaderOptions{Platform: "android"})
	assert.Equal(t, "android", h.Get(HeaderPlatform))
	assert.Empty(t, h.Get(HeaderCurrentUpdateID))
	assert.Empty(t, h.Get(HeaderRuntimeVersion))
	assert.Empty(t, h.Get(HeaderEASClientID))
	assert.Empty(t, h.Get(HeaderExpectSignature))
}
