// Package repository defines data access interfaces for plexbridge
// entities. All database access goes through these interfaces so handlers
// and services can be tested against an in-memory SQLite database.
package repository

import (
	"context"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// CreateBatch creates multiple channels in a single batch.
	CreateBatch(ctx context.Context, channels []*models.Channel) error
	// GetByID retrieves a channel by ID, streams preloaded.
	GetByID(ctx context.Context, id string) (*models.Channel, error)
	// GetByNumber retrieves a channel by its lineup number.
	GetByNumber(ctx context.Context, number int) (*models.Channel, error)
	// GetByIDOrEPGID resolves id as a channel UUID first, then as an epg_id
	// alias. Returns nil when neither matches.
	GetByIDOrEPGID(ctx context.Context, id string) (*models.Channel, error)
	// GetAll retrieves all channels ordered by number, streams preloaded.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetEnabledWithStreams retrieves enabled channels that have at least
	// one enabled stream, ordered by number. This is the lineup set.
	GetEnabledWithStreams(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID, cascading to its streams.
	Delete(ctx context.Context, id string) error
	// Count returns the total number of channels.
	Count(ctx context.Context) (int64, error)
	// Transaction executes fn within a transaction against a transactional
	// repository. Rolls back when fn returns an error.
	Transaction(ctx context.Context, fn func(ChannelRepository) error) error
}

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id string) (*models.Stream, error)
	// GetByChannelID retrieves all streams for a channel in insertion
	// order. The first enabled stream is the channel's primary.
	GetByChannelID(ctx context.Context, channelID string) ([]*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Delete deletes a stream by ID.
	Delete(ctx context.Context, id string) error
	// RecordFailure increments failure_count, decays reliability_score and
	// stamps last_failure.
	RecordFailure(ctx context.Context, id string) error
	// RecordSuccess nudges reliability_score back toward 1 after a session
	// that streamed without upstream errors.
	RecordSuccess(ctx context.Context, id string) error
}

// EpgSourceRepository defines operations for EPG source persistence.
type EpgSourceRepository interface {
	// Create creates a new EPG source.
	Create(ctx context.Context, source *models.EpgSource) error
	// GetByID retrieves an EPG source by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error)
	// GetAll retrieves all EPG sources.
	GetAll(ctx context.Context) ([]*models.EpgSource, error)
	// GetEnabled retrieves all enabled EPG sources.
	GetEnabled(ctx context.Context) ([]*models.EpgSource, error)
	// Update updates an existing EPG source.
	Update(ctx context.Context, source *models.EpgSource) error
	// Delete deletes an EPG source by ID.
	Delete(ctx context.Context, id models.ULID) error
	// MarkRefreshStarted stamps last_refresh.
	MarkRefreshStarted(ctx context.Context, id models.ULID, at time.Time) error
	// MarkRefreshResult records the outcome of a refresh: last_success on
	// success, last_error (categorized message) on failure.
	MarkRefreshResult(ctx context.Context, id models.ULID, at time.Time, refreshErr error) error
}

// EpgChannelRepository defines operations for EPG channel persistence.
type EpgChannelRepository interface {
	// GetBySourceID retrieves all EPG channels for a source.
	GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error)
	// GetByEpgID retrieves EPG channels matching the feed identifier.
	GetByEpgID(ctx context.Context, epgID string) ([]*models.EpgChannel, error)
	// ReplaceForSource transactionally deletes a source's channels and
	// inserts the replacement set.
	ReplaceForSource(ctx context.Context, sourceID models.ULID, channels []*models.EpgChannel) error
	// CountBySourceID returns the number of EPG channels for a source.
	CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error)
}

// EpgProgramRepository defines operations for EPG program persistence.
type EpgProgramRepository interface {
	// UpsertBatch creates or updates programs keyed on (channel_key, start).
	UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error
	// DeleteByChannelKeysBefore purges programs for the given channel keys
	// ending before t. Used before upsert so stale data never lingers.
	DeleteByChannelKeysBefore(ctx context.Context, channelKeys []string, t time.Time) (int64, error)
	// DeleteEndedBefore purges all programs ending before t.
	DeleteEndedBefore(ctx context.Context, t time.Time) (int64, error)
	// GetCurrent returns the program on air for channelKey at the given
	// instant, or nil.
	GetCurrent(ctx context.Context, channelKey string, at time.Time) (*models.EpgProgram, error)
	// GetNext returns the first program starting strictly after the given
	// instant, or nil.
	GetNext(ctx context.Context, channelKey string, after time.Time) (*models.EpgProgram, error)
	// GetRange returns programs for channelKey overlapping [from, to),
	// ordered by start time.
	GetRange(ctx context.Context, channelKey string, from, to time.Time) ([]*models.EpgProgram, error)
	// GetRangeForKeys returns programs for any of the channel keys
	// overlapping [from, to), ordered by channel key then start.
	GetRangeForKeys(ctx context.Context, channelKeys []string, from, to time.Time) ([]*models.EpgProgram, error)
	// CountByChannel returns program counts grouped by channel key.
	CountByChannel(ctx context.Context) (map[string]int64, error)
	// Count returns the total number of stored programs.
	Count(ctx context.Context) (int64, error)
	// Search returns programs whose title or description matches q,
	// ordered by start time, at most limit rows.
	Search(ctx context.Context, q string, limit int) ([]*models.EpgProgram, error)
}

// SettingRepository defines typed access to the settings table.
type SettingRepository interface {
	// Get returns the raw value for key, or "" when unset.
	Get(ctx context.Context, key string) (string, error)
	// GetInt returns the integer value for key, or def when unset or
	// unparseable.
	GetInt(ctx context.Context, key string, def int) (int, error)
	// Set stores the value for key.
	Set(ctx context.Context, key, value string) error
	// Delete removes a setting.
	Delete(ctx context.Context, key string) error
	// GetAll returns all settings.
	GetAll(ctx context.Context) ([]*models.Setting, error)
}
