package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plexbridge/plexbridge/internal/models"
)

// upsertBatchSize bounds parameter counts per statement; SQLite caps bound
// variables and EpgProgram carries a wide column set.
const upsertBatchSize = 200

// epgProgramRepo implements EpgProgramRepository using GORM.
type epgProgramRepo struct {
	db *gorm.DB
}

// NewEpgProgramRepository creates a new EpgProgramRepository.
func NewEpgProgramRepository(db *gorm.DB) *epgProgramRepo {
	return &epgProgramRepo{db: db}
}

// UpsertBatch creates or updates programs keyed on (channel_key, start).
// Re-ingesting a feed refreshes program metadata in place instead of
// stacking duplicates.
func (r *epgProgramRepo) UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error {
	if len(programs) == 0 {
		return nil
	}

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_key"}, {Name: "start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stop", "title", "sub_title", "description",
			"category", "secondary_category", "year", "country", "icon_url",
			"episode_number", "season_number", "series_id", "keywords", "rating",
			"audio_description", "subtitles", "hd", "premiere", "finale",
			"live", "new_episode", "updated_at",
		}),
	}

	for start := 0; start < len(programs); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(programs) {
			end = len(programs)
		}
		batch := programs[start:end]
		if err := r.db.WithContext(ctx).Clauses(onConflict).Create(batch).Error; err != nil {
			return fmt.Errorf("upserting program batch: %w", err)
		}
	}
	return nil
}

// DeleteByChannelKeysBefore purges programs for the given channel keys
// ending before t.
func (r *epgProgramRepo) DeleteByChannelKeysBefore(ctx context.Context, channelKeys []string, t time.Time) (int64, error) {
	if len(channelKeys) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("channel_key IN ?", channelKeys).
		Where("stop < ?", t.UTC()).
		Delete(&models.EpgProgram{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging programs by channel keys: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteEndedBefore purges all programs ending before t.
func (r *epgProgramRepo) DeleteEndedBefore(ctx context.Context, t time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("stop < ?", t.UTC()).
		Delete(&models.EpgProgram{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging ended programs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetCurrent returns the program on air at the given instant, or nil.
func (r *epgProgramRepo) GetCurrent(ctx context.Context, channelKey string, at time.Time) (*models.EpgProgram, error) {
	var program models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key = ?", channelKey).
		Where("start <= ? AND stop > ?", at.UTC(), at.UTC()).
		Order("start DESC").
		First(&program).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting current program: %w", err)
	}
	return &program, nil
}

// GetNext returns the first program starting strictly after the given
// instant, or nil. A program starting exactly then is the current one.
func (r *epgProgramRepo) GetNext(ctx context.Context, channelKey string, after time.Time) (*models.EpgProgram, error) {
	var program models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key = ?", channelKey).
		Where("start > ?", after.UTC()).
		Order("start ASC").
		First(&program).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting next program: %w", err)
	}
	return &program, nil
}

// GetRange returns programs overlapping [from, to) ordered by start.
func (r *epgProgramRepo) GetRange(ctx context.Context, channelKey string, from, to time.Time) ([]*models.EpgProgram, error) {
	var programs []*models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key = ?", channelKey).
		Where("start < ? AND stop > ?", to.UTC(), from.UTC()).
		Order("start ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("getting program range: %w", err)
	}
	return programs, nil
}

// GetRangeForKeys returns programs for any of the channel keys overlapping
// [from, to), ordered by channel key then start.
func (r *epgProgramRepo) GetRangeForKeys(ctx context.Context, channelKeys []string, from, to time.Time) ([]*models.EpgProgram, error) {
	if len(channelKeys) == 0 {
		return nil, nil
	}
	var programs []*models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("channel_key IN ?", channelKeys).
		Where("start < ? AND stop > ?", to.UTC(), from.UTC()).
		Order("channel_key ASC, start ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("getting program range for keys: %w", err)
	}
	return programs, nil
}

// CountByChannel returns program counts grouped by channel key.
func (r *epgProgramRepo) CountByChannel(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ChannelKey string
		Count      int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.EpgProgram{}).
		Select("channel_key, COUNT(*) as count").
		Group("channel_key").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting programs by channel: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ChannelKey] = row.Count
	}
	return counts, nil
}

// Count returns the total number of stored programs.
func (r *epgProgramRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.EpgProgram{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return count, nil
}

// Search returns programs whose title or description matches q.
func (r *epgProgramRepo) Search(ctx context.Context, q string, limit int) ([]*models.EpgProgram, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + q + "%"

	var programs []*models.EpgProgram
	err := r.db.WithContext(ctx).
		Where("title LIKE ? OR description LIKE ?", pattern, pattern).
		Order("start ASC").
		Limit(limit).
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("searching programs: %w", err)
	}
	return programs, nil
}

// Ensure epgProgramRepo implements EpgProgramRepository at compile time.
var _ EpgProgramRepository = (*epgProgramRepo)(nil)
