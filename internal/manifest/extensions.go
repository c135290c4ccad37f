/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"encoding/json"
	"fmt"
)

// Extensions is the optional "extensions" part of a multipart response.
type Extensions struct {
	// AssetRequestHeaders maps an asset key to headers that must be sent
	// when downloading that asset.
	AssetRequestHeaders map[string]map[string]string `json:"assetRequestHeaders,omitempty"`
}

func ParseExtensions(data []byte) (*Extensions, error) {
	ext := &Extensions{}
	if len(data) == 0 {
		return ext, nil
	}
	if err := json.Unmarshal(data, ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtensions, err)
	}
	return ext, nil
}

func (e *Extensions) requestHeadersFor(key string) map[string]string {
	if e == nil {
		return nil
	}
	return e.AssetRequestHeaders[key]
}
