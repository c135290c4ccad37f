/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet[string]()
	assert.False(t, s.Has("bundle"))
	s.Add("bundle")
	s.Add("bundle")
	assert.True(t, s.Has("bundle"))
	assert.Len(t, s, 1)
}

func TestSetOf(t *testing.T) {
	s := SetOf("ios", "android", "ios")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("android"))
	assert.False(t, s.Has("web"))
}
