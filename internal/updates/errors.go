/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import "errors"

var (
	ErrEmptyResponse     = errors.New("manifest response body is empty")
	ErrMultipartParse    = errors.New("failed to parse multipart manifest response")
	ErrInvalidSignature  = errors.New("manifest download was successful, but signature was incorrect")
	ErrProjectMismatch   = errors.New("invalid certificate for manifest project ID or scope key")
	ErrFiltersMismatch   = errors.New("downloaded manifest is invalid; provides filters that do not match its content")
	ErrNoUpdateAvailable = errors.New("no update available to download")
	ErrNoPendingUpdate   = errors.New("no downloaded update to reload into")
	ErrDuplicateAssetKey = errors.New("update lists the same asset key twice")
	ErrInvalidAssetName  = errors.New("asset key or file extension does not name a file in the assets directory")
)
