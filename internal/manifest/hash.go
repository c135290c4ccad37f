/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"crypto/sha256"
	"encoding/base64"
)

// AssetHash is the base64url (unpadded) SHA-256 digest carried in the hash
// field of manifest assets.
func AssetHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
