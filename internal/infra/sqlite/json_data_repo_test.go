/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kentakayama/updates-over-http/internal/domain/model"
)

func TestJSONData_SetGet(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	require.NoError(t, err)
	defer CloseDB(db)

	repo := NewJSONDataRepository(db)

	got, err := repo.Get(ctx, "@owner/app", model.JSONDataKeyManifestFilters)
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Set(ctx, &model.JSONData{
		Key:         model.JSONDataKeyManifestFilters,
		ScopeKey:    "@owner/app",
		Value:       []byte(`{"branch":"main"}`),
		LastUpdated: now,
	}))
	// replaced, not duplicated
	require.NoError(t, repo.Set(ctx, &model.JSONData{
		Key:         model.JSONDataKeyManifestFilters,
		ScopeKey:    "@owner/app",
		Value:       []byte(`{"branch":"beta"}`),
		LastUpdated: now.Add(time.Minute),
	}))

	got, err = repo.Get(ctx, "@owner/app", model.JSONDataKeyManifestFilters)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"branch":"beta"}`, string(got.Value))
	assert.True(t, got.LastUpdated.Equal(now.Add(time.Minute)))

	// scopes are separate
	got, err = repo.Get(ctx, "@owner/other", model.JSONDataKeyManifestFilters)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, repo.Set(ctx, &model.JSONData{ScopeKey: "@owner/app"}))
}
