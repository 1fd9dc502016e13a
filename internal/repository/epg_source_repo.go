package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/plexbridge/plexbridge/internal/models"
)

const maxLastErrorLen = 1024

// epgSourceRepo implements EpgSourceRepository using GORM.
type epgSourceRepo struct {
	db *gorm.DB
}

// NewEpgSourceRepository creates a new EpgSourceRepository.
func NewEpgSourceRepository(db *gorm.DB) *epgSourceRepo {
	return &epgSourceRepo{db: db}
}

// Create creates a new EPG source.
func (r *epgSourceRepo) Create(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating EPG source: %w", err)
	}
	return nil
}

// GetByID retrieves an EPG source by ID.
func (r *epgSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error) {
	var source models.EpgSource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG source by ID: %w", err)
	}
	return &source, nil
}

// GetAll retrieves all EPG sources.
func (r *epgSourceRepo) GetAll(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting EPG sources: %w", err)
	}
	return sources, nil
}

// GetEnabled retrieves all enabled EPG sources.
func (r *epgSourceRepo) GetEnabled(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	err := r.db.WithContext(ctx).
		Where("(enabled IS NULL OR enabled = ?)", true).
		Order("name ASC").
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("getting enabled EPG sources: %w", err)
	}
	return sources, nil
}

// Update updates an existing EPG source.
func (r *epgSourceRepo) Update(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating EPG source: %w", err)
	}
	return nil
}

// Delete deletes an EPG source by ID along with its EPG channels.
func (r *epgSourceRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&models.EpgChannel{}).Error; err != nil {
			return fmt.Errorf("deleting EPG channels for source: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.EpgSource{}).Error; err != nil {
			return fmt.Errorf("deleting EPG source: %w", err)
		}
		return nil
	})
}

// MarkRefreshStarted stamps last_refresh.
func (r *epgSourceRepo) MarkRefreshStarted(ctx context.Context, id models.ULID, at time.Time) error {
	// Use UpdateColumns to skip hooks (BeforeUpdate validation requires full model)
	// Note: Must explicitly set updated_at since UpdateColumns bypasses GORM auto-update
	err := r.db.WithContext(ctx).
		Model(&models.EpgSource{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"last_refresh": at.UTC(),
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("marking refresh started: %w", err)
	}
	return nil
}

// MarkRefreshResult records last_success on a nil error, last_error
// otherwise. The error text is truncated to fit the column.
func (r *epgSourceRepo) MarkRefreshResult(ctx context.Context, id models.ULID, at time.Time, refreshErr error) error {
	// Use UpdateColumns to skip hooks (BeforeUpdate validation requires full model)
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if refreshErr == nil {
		updates["last_success"] = at.UTC()
		updates["last_error"] = ""
	} else {
		msg := refreshErr.Error()
		if len(msg) > maxLastErrorLen {
			msg = msg[:maxLastErrorLen]
		}
		updates["last_error"] = msg
	}

	err := r.db.WithContext(ctx).
		Model(&models.EpgSource{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error
	if err != nil {
		return fmt.Errorf("marking refresh result: %w", err)
	}
	return nil
}

// Ensure epgSourceRepo implements EpgSourceRepository at compile time.
var _ EpgSourceRepository = (*epgSourceRepo)(nil)
