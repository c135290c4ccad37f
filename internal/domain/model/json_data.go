/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

const (
	JSONDataKeyServerDefinedHeaders = "serverDefinedHeaders"
	JSONDataKeyManifestFilters      = "manifestFilters"
)

// JSONData is a per-scope JSON value such as the last server-defined headers.
type JSONData struct {
	ID          int64
	Key         string
	ScopeKey    string
	Value       []byte
	LastUpdated time.Time
}
