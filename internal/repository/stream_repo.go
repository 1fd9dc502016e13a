package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// Reliability scoring: each recorded failure multiplies the score by
// failureDecay, each clean session adds successRecovery back, clamped to
// [0, 1]. A score starting at 1.0 crosses the default transcode threshold
// of 0.3 after four consecutive failures.
const (
	failureDecay    = 0.7
	successRecovery = 0.1
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByChannelID retrieves all streams for a channel in insertion order.
// SQLite rowid preserves insert order for these tables.
func (r *streamRepo) GetByChannelID(ctx context.Context, channelID string) ([]*models.Stream, error) {
	var streams []*models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("rowid ASC").
		Find(&streams).Error
	if err != nil {
		return nil, fmt.Errorf("getting streams by channel: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// RecordFailure increments failure_count, decays reliability_score and
// stamps last_failure. Runs in a transaction so concurrent sessions don't
// lose updates.
func (r *streamRepo) RecordFailure(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stream models.Stream
		if err := tx.Where("id = ?", id).First(&stream).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: stream %s", models.ErrNotFound, id)
			}
			return fmt.Errorf("loading stream for failure record: %w", err)
		}

		now := time.Now().UTC()
		score := stream.ReliabilityScore * failureDecay
		if score < 0 {
			score = 0
		}

		err := tx.Model(&stream).Updates(map[string]any{
			"failure_count":     gorm.Expr("failure_count + 1"),
			"reliability_score": score,
			"last_failure":      now,
		}).Error
		if err != nil {
			return fmt.Errorf("recording stream failure: %w", err)
		}
		return nil
	})
}

// RecordSuccess nudges reliability_score back toward 1.
func (r *streamRepo) RecordSuccess(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stream models.Stream
		if err := tx.Where("id = ?", id).First(&stream).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: stream %s", models.ErrNotFound, id)
			}
			return fmt.Errorf("loading stream for success record: %w", err)
		}

		score := stream.ReliabilityScore + successRecovery
		if score > 1 {
			score = 1
		}

		if err := tx.Model(&stream).Update("reliability_score", score).Error; err != nil {
			return fmt.Errorf("recording stream success: %w", err)
		}
		return nil
	})
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
