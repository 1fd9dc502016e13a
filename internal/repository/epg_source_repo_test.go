package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestEpgSourceRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	src := &models.EpgSource{Name: "Primary Guide", URL: "http://example.com/guide.xml"}
	require.NoError(t, repo.Create(ctx, src))
	assert.False(t, src.ID.IsZero())

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Primary Guide", got.Name)
	assert.Equal(t, "4h", got.RefreshInterval)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEpgSourceRepo_CreateRequiresNameAndURL(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	err := repo.Create(ctx, &models.EpgSource{URL: "http://example.com/guide.xml"})
	assert.ErrorIs(t, err, models.ErrNameRequired)

	err = repo.Create(ctx, &models.EpgSource{Name: "No URL"})
	assert.ErrorIs(t, err, models.ErrURLRequired)
}

func TestEpgSourceRepo_GetEnabled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	on := createTestEpgSource(t, db, "enabled")
	off := &models.EpgSource{
		Name:    "disabled",
		URL:     "http://example.com/disabled.xml",
		Enabled: models.BoolPtr(false),
	}
	require.NoError(t, repo.Create(ctx, off))

	enabled, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, on.ID, enabled[0].ID)
}

func TestEpgSourceRepo_RefreshMarkers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	src := createTestEpgSource(t, db, "guide")
	started := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	// The markers write partial rows, so they must not trip the
	// full-model BeforeUpdate validation.
	require.NoError(t, repo.MarkRefreshStarted(ctx, src.ID, started))

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRefresh)
	assert.Equal(t, started, got.LastRefresh.UTC())
	assert.Nil(t, got.LastSuccess)

	finished := started.Add(30 * time.Second)
	require.NoError(t, repo.MarkRefreshResult(ctx, src.ID, finished, nil))

	got, err = repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSuccess)
	assert.Equal(t, finished, got.LastSuccess.UTC())
	assert.Empty(t, got.LastError)
	assert.Equal(t, "guide", got.Name)
}

func TestEpgSourceRepo_MarkRefreshResultFailure(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	src := createTestEpgSource(t, db, "flaky")
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkRefreshResult(ctx, src.ID, at, errors.New("download: connection refused")))

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "download: connection refused", got.LastError)
	assert.Nil(t, got.LastSuccess)

	// A later success clears the recorded error.
	require.NoError(t, repo.MarkRefreshResult(ctx, src.ID, at.Add(time.Hour), nil))
	got, err = repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.LastSuccess)
}

func TestEpgSourceRepo_MarkRefreshResultTruncatesError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	src := createTestEpgSource(t, db, "verbose")
	long := errors.New(strings.Repeat("x", maxLastErrorLen+500))

	require.NoError(t, repo.MarkRefreshResult(ctx, src.ID, time.Now(), long))

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Len(t, got.LastError, maxLastErrorLen)
}

func TestEpgSourceRepo_DeleteCascadesChannels(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEpgSourceRepository(db)
	ctx := context.Background()

	src := createTestEpgSource(t, db, "doomed")
	require.NoError(t, db.Create(&models.EpgChannel{
		SourceID:    src.ID,
		EpgID:       "news.example",
		DisplayName: "News",
	}).Error)

	require.NoError(t, repo.Delete(ctx, src.ID))

	gone, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	var count int64
	require.NoError(t, db.Model(&models.EpgChannel{}).Where("source_id = ?", src.ID).Count(&count).Error)
	assert.Zero(t, count)
}
