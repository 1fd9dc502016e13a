package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// CreateBatch creates multiple channels in a single batch.
func (r *channelRepo) CreateBatch(ctx context.Context, channels []*models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(channels).Error; err != nil {
		return fmt.Errorf("creating channel batch: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID with its streams preloaded.
func (r *channelRepo) GetByID(ctx context.Context, id string) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Where("id = ?", id).
		First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByNumber retrieves a channel by lineup number.
func (r *channelRepo) GetByNumber(ctx context.Context, number int) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Where("number = ?", number).
		First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by number: %w", err)
	}
	return &channel, nil
}

// GetByIDOrEPGID resolves id against the channel primary key first, then
// against epg_id. Guide clients address channels by either.
func (r *channelRepo) GetByIDOrEPGID(ctx context.Context, id string) (*models.Channel, error) {
	channel, err := r.GetByID(ctx, id)
	if err != nil || channel != nil {
		return channel, err
	}

	var byEpgID models.Channel
	err = r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Where("epg_id = ?", id).
		Order("number ASC").
		First(&byEpgID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by epg_id: %w", err)
	}
	return &byEpgID, nil
}

// GetAll retrieves all channels ordered by number.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Order("number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("getting channels: %w", err)
	}
	return channels, nil
}

// GetEnabledWithStreams retrieves enabled channels that have at least one
// enabled stream, ordered by number.
func (r *channelRepo) GetEnabledWithStreams(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Where("(enabled IS NULL OR enabled = ?)", true).
		Where("EXISTS (SELECT 1 FROM streams WHERE streams.channel_id = channels.id AND (streams.enabled IS NULL OR streams.enabled = ?))", true).
		Order("number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("getting enabled channels: %w", err)
	}
	return channels, nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// Delete deletes a channel by ID. Streams cascade.
func (r *channelRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&models.Stream{}).Error; err != nil {
			return fmt.Errorf("deleting channel streams: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return fmt.Errorf("deleting channel: %w", err)
		}
		return nil
	})
}

// Count returns the total number of channels.
func (r *channelRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting channels: %w", err)
	}
	return count, nil
}

// Transaction executes fn within a database transaction.
func (r *channelRepo) Transaction(ctx context.Context, fn func(ChannelRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&channelRepo{db: tx})
	})
}

// Ensure channelRepo implements ChannelRepository at compile time.
var _ ChannelRepository = (*channelRepo)(nil)
