package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plexbridge/plexbridge/internal/models"
)

// settingRepo implements SettingRepository using GORM.
type settingRepo struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *settingRepo {
	return &settingRepo{db: db}
}

// Get returns the raw value for key, or "" when unset.
func (r *settingRepo) Get(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return setting.Value, nil
}

// GetInt returns the integer value for key, falling back to def when the
// setting is unset or not an integer.
func (r *settingRepo) GetInt(ctx context.Context, key string, def int) (int, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// Set stores the value for key.
func (r *settingRepo) Set(ctx context.Context, key, value string) error {
	setting := &models.Setting{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(setting).Error
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a setting.
func (r *settingRepo) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// GetAll returns all settings ordered by key.
func (r *settingRepo) GetAll(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("getting settings: %w", err)
	}
	return settings, nil
}

// Ensure settingRepo implements SettingRepository at compile time.
var _ SettingRepository = (*settingRepo)(nil)
