/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import "errors"

var (
	ErrInvalidManifest            = errors.New("invalid manifest")
	ErrMissingField               = errors.New("manifest is missing a required field")
	ErrInvalidUpdateID            = errors.New("update id is not a valid UUID")
	ErrUnsupportedProtocolVersion = errors.New("unsupported expo-protocol-version")
	ErrInvalidProtocolVersion     = errors.New("expo-protocol-version is not an integer")
	ErrInvalidDirective           = errors.New("invalid directive")
	ErrUnknownDirectiveType       = errors.New("unknown directive type")
	ErrInvalidExtensions          = errors.New("invalid manifest extensions")
)
