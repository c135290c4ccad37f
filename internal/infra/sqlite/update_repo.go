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

	"github.com/kentakayama/updates-over-http/internal/domain"
	"github.com/kentakayama/updates-over-http/internal/domain/model"
)

// UpdateRepository handles update persistence.
type UpdateRepository struct {
	db *sql.DB
}

func NewUpdateRepository(db *sql.DB) *UpdateRepository {
	return &UpdateRepository{db: db}
}

const updateColumns = `id, update_id, scope_key, commit_time, runtime_version, launch_asset_key, manifest_format, assets, manifest, status, created_at`

func scanUpdate(row interface{ Scan(...any) error }) (*model.Update, error) {
	var u model.Update
	if err := row.Scan(&u.ID, &u.UpdateID, &u.ScopeKey, &u.CommitTime, &u.RuntimeVersion, &u.LaunchAssetKey, &u.ManifestFormat, &u.Assets, &u.Manifest, &u.Status, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new update and returns the inserted id.
func (r *UpdateRepository) Create(ctx context.Context, u *model.Update) (int64, error) {
	if u.UpdateID == "" || u.ScopeKey == "" {
		return 0, errors.New("update_id and scope_key are required")
	}
	const q = `
		INSERT INTO updates (update_id, scope_key, commit_time, runtime_version, launch_asset_key, manifest_format, assets, manifest, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, u.UpdateID, u.ScopeKey, u.CommitTime, u.RuntimeVersion, u.LaunchAssetKey, u.ManifestFormat, u.Assets, u.Manifest, u.Status, u.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *UpdateRepository) FindByID(ctx context.Context, scopeKey string, updateID string) (*model.Update, error) {
	q := `SELECT ` + updateColumns + ` FROM updates WHERE scope_key = ? AND update_id = ?`
	u, err := scanUpdate(r.db.QueryRowContext(ctx, q, scopeKey, updateID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("update scan: %w", err)
	}
	return u, nil
}

// ListReady returns every ready update for a scope and runtime version, newest
// first.
func (r *UpdateRepository) ListReady(ctx context.Context, scopeKey string, runtimeVersion string) ([]*model.Update, error) {
	q := `SELECT ` + updateColumns + `
		FROM updates
		WHERE scope_key = ? AND runtime_version = ? AND status IN (?, ?)
		ORDER BY commit_time DESC`
	rows, err := r.db.QueryContext(ctx, q, scopeKey, runtimeVersion, model.UpdateStatusReady, model.UpdateStatusEmbedded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("update scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkReady records that every asset of the update has been downloaded.
func (r *UpdateRepository) MarkReady(ctx context.Context, scopeKey string, updateID string) error {
	const q = `UPDATE updates SET status = ? WHERE scope_key = ? AND update_id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, model.UpdateStatusReady, scopeKey, updateID, model.UpdateStatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
