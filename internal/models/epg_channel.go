package models

import (
	"gorm.io/gorm"
)

// EpgChannel is a channel definition observed in an XMLTV feed. The set for
// a source is replaced wholesale on every successful refresh.
type EpgChannel struct {
	BaseModel

	// SourceID is the foreign key to the owning EpgSource.
	SourceID ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_epg_channel_unique" json:"source_id"`

	// EpgID is the channel id attribute from the feed. Channels map to
	// listings through it via Channel.EpgID.
	EpgID string `gorm:"not null;size:255;uniqueIndex:idx_epg_channel_unique;index" json:"epg_id"`

	// DisplayName is the feed's display-name for the channel.
	DisplayName string `gorm:"size:512" json:"display_name"`

	// IconURL is the feed's channel icon, if any.
	IconURL string `gorm:"size:2048" json:"icon_url,omitempty"`
}

// TableName returns the table name for EpgChannel.
func (EpgChannel) TableName() string {
	return "epg_channels"
}

// Validate performs basic validation on the EPG channel.
func (c *EpgChannel) Validate() error {
	if c.SourceID.IsZero() {
		return ErrSourceIDRequired
	}
	if c.EpgID == "" {
		return ErrChannelKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (c *EpgChannel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}
