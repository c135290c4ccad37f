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

	"github.com/kentakayama/updates-over-http/internal/domain"
	"github.com/kentakayama/updates-over-http/internal/domain/model"
)

func TestUpdate_CreateFindMarkReady(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	require.NoError(t, err)
	defer CloseDB(db)

	now := time.Now().UTC().Truncate(time.Second)
	repo := NewUpdateRepository(db)

	older := &model.Update{
		UpdateID:       "0eef8214-4833-4089-9dff-b4138a14f196",
		ScopeKey:       "@owner/app",
		CommitTime:     now.Add(-time.Hour),
		RuntimeVersion: "1.0",
		LaunchAssetKey: "bundle-a",
		Assets:         []byte{0x80},
		Manifest:       []byte(`{"id":"a"}`),
		Status:         model.UpdateStatusEmbedded,
		CreatedAt:      now,
	}
	newer := &model.Update{
		UpdateID:       "0754dad0-d200-d634-113c-ef1f26106028",
		ScopeKey:       "@owner/app",
		CommitTime:     now,
		RuntimeVersion: "1.0",
		LaunchAssetKey: "bundle-b",
		Assets:         []byte{0x80},
		Manifest:       []byte(`{"id":"b"}`),
		Status:         model.UpdateStatusPending,
		CreatedAt:      now,
	}

	id, err := repo.Create(ctx, older)
	require.NoError(t, err)
	assert.NotZero(t, id)
	_, err = repo.Create(ctx, newer)
	require.NoError(t, err)

	// same key twice is rejected
	_, err = repo.Create(ctx, newer)
	assert.Error(t, err)

	got, err := repo.FindByID(ctx, "@owner/app", newer.UpdateID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.UpdateStatusPending, got.Status)
	assert.Equal(t, newer.Manifest, got.Manifest)
	assert.True(t, newer.CommitTime.Equal(got.CommitTime))

	missing, err := repo.FindByID(ctx, "@other/app", newer.UpdateID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// pending updates are not launchable yet
	list, err := repo.ListReady(ctx, "@owner/app", "1.0")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.UpdateID, list[0].UpdateID)

	require.NoError(t, repo.MarkReady(ctx, "@owner/app", newer.UpdateID))
	assert.ErrorIs(t, repo.MarkReady(ctx, "@owner/app", newer.UpdateID), domain.ErrNotFound)

	list, err = repo.ListReady(ctx, "@owner/app", "1.0")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.UpdateID, list[0].UpdateID)
	assert.Equal(t, older.UpdateID, list[1].UpdateID)

	none, err := repo.ListReady(ctx, "@owner/app", "2.0")
	require.NoError(t, err)
	assert.Empty(t, none)
}
