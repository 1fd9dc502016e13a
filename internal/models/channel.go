package models

import (
	"time"

	"gorm.io/gorm"
)

// Channel is a logical channel presented in the tuner lineup. Its upstream
// realizations are Streams; the first enabled stream by insertion order is
// the primary.
type Channel struct {
	// ID is a UUID string; it appears in /stream/{id} URLs.
	ID string `gorm:"type:varchar(36);primaryKey" json:"id"`

	// Number is the logical channel number (LCN), globally unique.
	Number int `gorm:"not null;uniqueIndex" json:"number"`

	// Name is the display name shown in the lineup and guide.
	Name string `gorm:"not null;size:255" json:"name"`

	// Logo is an optional channel logo URL.
	Logo string `gorm:"size:2048" json:"logo,omitempty"`

	// EpgID links this channel to guide listings. It is the channel id used
	// by the upstream XMLTV feed, not a foreign key.
	EpgID string `gorm:"size:255;index" json:"epg_id,omitempty"`

	// Enabled channels appear in the lineup when they have at least one
	// enabled stream.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// EncodingProfile optionally overrides the profile used when this
	// channel is transcoded (e.g. "anti-loop", "high-reliability").
	EncodingProfile string `gorm:"size:64" json:"encoding_profile,omitempty"`

	// Streams are the upstream realizations, deleted with the channel.
	Streams []Stream `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsEnabled reports whether the channel is enabled.
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// GuideChannelID returns the identifier under which guide data for this
// channel is keyed: the EPG id when mapped, otherwise the channel UUID.
func (c *Channel) GuideChannelID() string {
	if c.EpgID != "" {
		return c.EpgID
	}
	return c.ID
}

// PrimaryStream returns the first enabled stream by insertion order, or nil.
func (c *Channel) PrimaryStream() *Stream {
	for i := range c.Streams {
		if c.Streams[i].IsEnabled() {
			return &c.Streams[i]
		}
	}
	return nil
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Number <= 0 {
		return ErrNumberRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that assigns a UUID and validates the channel.
func (c *Channel) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewUUID()
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(_ *gorm.DB) error {
	return c.Validate()
}
