/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kentakayama/updates-over-http/internal/domain/model"
)

// JSONDataRepository handles per-scope JSON values.
type JSONDataRepository struct {
	db *sql.DB
}

func NewJSONDataRepository(db *sql.DB) *JSONDataRepository {
	return &JSONDataRepository{db: db}
}

// Set inserts or replaces the value stored under (ScopeKey, Key).
func (r *JSONDataRepository) Set(ctx context.Context, d *model.JSONData) error {
	if d.Key == "" {
		return errors.New("key is required")
	}
	const q = `
		INSERT INTO json_data (data_key, scope_key, value, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope_key, data_key) DO UPDATE SET value = excluded.value, last_updated = excluded.last_updated
	`
	_, err := r.db.ExecContext(ctx, q, d.Key, d.ScopeKey, d.Value, d.LastUpdated)
	return err
}

func (r *JSONDataRepository) Get(ctx context.Context, scopeKey string, key string) (*model.JSONData, error) {
	const q = `
		SELECT id, data_key, scope_key, value, last_updated
		FROM json_data
		WHERE scope_key = ? AND data_key = ?
	`
	var d model.JSONData
	if err := r.db.QueryRowContext(ctx, q, scopeKey, key).Scan(&d.ID, &d.Key, &d.ScopeKey, &d.Value, &d.LastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("json data scan: %w", err)
	}
	return &d, nil
}
