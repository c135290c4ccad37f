/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/updates-over-http/internal/domain/model"
)

// UpdateRepository defines the interface for update persistence.
type UpdateRepository interface {
	Create(ctx context.Context, u *model.Update) (int64, error)
	FindByID(ctx context.Context, scopeKey string, updateID string) (*model.Update, error)
	ListReady(ctx context.Context, scopeKey string, runtimeVersion string) ([]*model.Update, error)
	MarkReady(ctx context.Context, scopeKey string, updateID string) error
}

// JSONDataRepository defines the interface for per-scope JSON values.
type JSONDataRepository interface {
	Set(ctx context.Context, d *model.JSONData) error
	Get(ctx context.Context, scopeKey string, key string) (*model.JSONData, error)
}
