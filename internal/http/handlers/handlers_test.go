package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func setupHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgProgram{},
		&models.Setting{},
	)
	require.NoError(t, err)

	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// handlerEnv bundles the repositories and guide plumbing the handler
// tests share.
type handlerEnv struct {
	db          *gorm.DB
	channels    repository.ChannelRepository
	streams     repository.StreamRepository
	sources     repository.EpgSourceRepository
	epgChannels repository.EpgChannelRepository
	programs    repository.EpgProgramRepository
	settings    repository.SettingRepository
	cache       *cache.Cache
	query       *epg.Query
	guide       *epg.Guide
}

func setupEnv(t *testing.T) *handlerEnv {
	t.Helper()
	db := setupHandlerDB(t)

	c, err := cache.New(cache.Options{InMemory: true, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	env := &handlerEnv{
		db:          db,
		channels:    repository.NewChannelRepository(db),
		streams:     repository.NewStreamRepository(db),
		sources:     repository.NewEpgSourceRepository(db),
		epgChannels: repository.NewEpgChannelRepository(db),
		programs:    repository.NewEpgProgramRepository(db),
		settings:    repository.NewSettingRepository(db),
		cache:       c,
	}
	env.query = epg.NewQuery(env.channels, env.programs, c, discardLogger())
	env.guide = epg.NewGuide(env.channels, env.query, discardLogger())
	return env
}

func (e *handlerEnv) createLineupChannel(t *testing.T, number int, name, epgID string) *models.Channel {
	t.Helper()
	ctx := context.Background()
	ch := &models.Channel{Number: number, Name: name, EpgID: epgID}
	require.NoError(t, e.channels.Create(ctx, ch))
	require.NoError(t, e.streams.Create(ctx, &models.Stream{
		ChannelID: ch.ID,
		URL:       "http://example.com/stream.ts",
		Kind:      models.StreamKindHTTP,
	}))
	return ch
}

func (e *handlerEnv) storeProgram(t *testing.T, key, title string, start time.Time, d time.Duration) *models.EpgProgram {
	t.Helper()
	p := &models.EpgProgram{
		ChannelKey: key,
		Title:      title,
		Start:      start,
		Stop:       start.Add(d),
	}
	require.NoError(t, e.programs.UpsertBatch(context.Background(), []*models.EpgProgram{p}))
	return p
}
