package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingRepo_SetGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	got, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Set(ctx, "device_name", "PlexBridge"))
	got, err = repo.Get(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "PlexBridge", got)

	// Set is an upsert.
	require.NoError(t, repo.Set(ctx, "device_name", "Living Room"))
	got, err = repo.Get(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "Living Room", got)
}

func TestSettingRepo_GetInt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	n, err := repo.GetInt(ctx, "max_concurrent_streams", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, repo.Set(ctx, "max_concurrent_streams", "8"))
	n, err = repo.GetInt(ctx, "max_concurrent_streams", 5)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// Garbage falls back to the default rather than erroring.
	require.NoError(t, repo.Set(ctx, "max_concurrent_streams", "lots"))
	n, err = repo.GetInt(ctx, "max_concurrent_streams", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSettingRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "guide_days", "7"))
	require.NoError(t, repo.Delete(ctx, "guide_days"))

	got, err := repo.Get(ctx, "guide_days")
	require.NoError(t, err)
	assert.Empty(t, got)
}
