/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

type UpdateStatus int

const (
	// UpdateStatusPending updates have a manifest but not all assets yet.
	UpdateStatusPending UpdateStatus = iota
	UpdateStatusReady
	UpdateStatusEmbedded
)

// Update represents an update stored in DB, keyed by (ScopeKey, UpdateID).
type Update struct {
	ID             int64
	UpdateID       string
	ScopeKey       string
	CommitTime     time.Time
	RuntimeVersion string
	LaunchAssetKey string
	// ManifestFormat is the manifest.Format of Manifest.
	ManifestFormat int
	// Assets is the CBOR encoding of the asset list.
	Assets    []byte
	Manifest  []byte
	Status    UpdateStatus
	CreatedAt time.Time
}
