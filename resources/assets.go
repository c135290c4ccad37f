/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	_ "embed"
)

var (
	// EmbeddedManifest is the update shipped inside the app binary, in the
	// bare manifest format.
	//go:embed app.manifest
	EmbeddedManifest []byte
)
