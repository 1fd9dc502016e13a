package models

import (
	"time"

	"gorm.io/gorm"
)

// Well-known setting keys.
const (
	SettingAdvertisedHost = "advertised_host"
	SettingDeviceName     = "device_name"
	SettingGuideDays      = "guide_days"
)

// Setting is a runtime-mutable key/value pair that overrides the static
// configuration file.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Validate performs basic validation on the setting.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return ErrSettingKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the setting.
func (s *Setting) BeforeCreate(_ *gorm.DB) error {
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the setting before update.
func (s *Setting) BeforeUpdate(_ *gorm.DB) error {
	return s.Validate()
}
