/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"encoding/json"
	"fmt"
	"sync"
)

// NewEmbeddedUpdate parses the manifest bundled into the app at build time.
// A manifest with a releaseId is legacy, anything else is bare. Embedded
// updates were signed at build time and are always marked verified.
func NewEmbeddedUpdate(data []byte, opts ParseOptions) (*Update, error) {
	var probe struct {
		ReleaseID *string `json:"releaseId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: embedded: %v", ErrInvalidManifest, err)
	}

	format := FormatBare
	if probe.ReleaseID != nil {
		format = FormatLegacy
	}
	m, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	u, err := m.normalize(nil, &opts)
	if err != nil {
		return nil, err
	}
	if format == FormatBare {
		u.IsDevelopmentMode = false
	}
	u.IsVerified = true
	return u, nil
}

// EmbeddedCache parses the embedded manifest once and hands out the same
// Update for the life of the process.
type EmbeddedCache struct {
	load func() ([]byte, error)
	opts ParseOptions

	once   sync.Once
	update *Update
	err    error
}

func NewEmbeddedCache(load func() ([]byte, error), opts ParseOptions) *EmbeddedCache {
	return &EmbeddedCache{load: load, opts: opts}
}

// Get returns the embedded update. A load or parse failure is cached too.
func (c *EmbeddedCache) Get() (*Update, error) {
	c.once.Do(func() {
		data, err := c.load()
		if err != nil {
			c.err = fmt.Errorf("load embedded manifest: %w", err)
			return
		}
		c.update, c.err = NewEmbeddedUpdate(data, c.opts)
	})
	return c.update, c.err
}
