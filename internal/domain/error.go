/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import "errors"

var (
	// ErrNotFound is returned by repository writes that target a missing
	// update; reads return nil instead.
	ErrNotFound = errors.New("update not found in store")
)
