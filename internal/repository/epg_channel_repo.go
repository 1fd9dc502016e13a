package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

// epgChannelRepo implements EpgChannelRepository using GORM.
type epgChannelRepo struct {
	db *gorm.DB
}

// NewEpgChannelRepository creates a new EpgChannelRepository.
func NewEpgChannelRepository(db *gorm.DB) *epgChannelRepo {
	return &epgChannelRepo{db: db}
}

// GetBySourceID retrieves all EPG channels for a source.
func (r *epgChannelRepo) GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("epg_id ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("getting EPG channels by source: %w", err)
	}
	return channels, nil
}

// GetByEpgID retrieves EPG channels matching the feed identifier across
// all sources.
func (r *epgChannelRepo) GetByEpgID(ctx context.Context, epgID string) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).Where("epg_id = ?", epgID).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting EPG channels by epg_id: %w", err)
	}
	return channels, nil
}

// ReplaceForSource wholesale-replaces a source's EPG channels in one
// transaction so readers never observe a partially refreshed set.
func (r *epgChannelRepo) ReplaceForSource(ctx context.Context, sourceID models.ULID, channels []*models.EpgChannel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", sourceID).Delete(&models.EpgChannel{}).Error; err != nil {
			return fmt.Errorf("clearing EPG channels for source: %w", err)
		}
		if len(channels) == 0 {
			return nil
		}
		for _, ch := range channels {
			ch.SourceID = sourceID
		}
		if err := tx.CreateInBatches(channels, 500).Error; err != nil {
			return fmt.Errorf("inserting EPG channels: %w", err)
		}
		return nil
	})
}

// CountBySourceID returns the number of EPG channels for a source.
func (r *epgChannelRepo) CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EpgChannel{}).
		Where("source_id = ?", sourceID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting EPG channels: %w", err)
	}
	return count, nil
}

// Ensure epgChannelRepo implements EpgChannelRepository at compile time.
var _ EpgChannelRepository = (*epgChannelRepo)(nil)
