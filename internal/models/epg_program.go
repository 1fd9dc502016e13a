package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Normalization limits applied on ingest.
const (
	MaxProgramTitleLen       = 255
	MaxProgramDescriptionLen = 2000
)

// EpgProgram is a single guide entry from an XMLTV feed.
//
// ChannelKey is the channel identifier observed in the feed, not a foreign
// key: feeds change identifiers independently of local channels, so reads
// resolve the mapping at query time. Some legacy rows carry an internal
// channel UUID instead of the feed id; readers accept either.
type EpgProgram struct {
	BaseModel

	// ChannelKey is the EPG channel identifier the program was keyed under.
	ChannelKey string `gorm:"not null;size:255;uniqueIndex:idx_program_unique;index:idx_channel_time" json:"channel_key"`

	// Start is the program start time (UTC).
	Start time.Time `gorm:"not null;uniqueIndex:idx_program_unique;index:idx_channel_time" json:"start"`

	// Stop is the program end time (UTC), strictly after Start.
	Stop time.Time `gorm:"not null;index" json:"stop"`

	// Title is the program title, truncated to MaxProgramTitleLen on ingest.
	Title string `gorm:"not null;size:255" json:"title"`

	// SubTitle is the episode title or subtitle.
	SubTitle string `gorm:"size:512" json:"sub_title,omitempty"`

	// Description is the program description, truncated on ingest.
	Description string `gorm:"size:2000" json:"description,omitempty"`

	// Category is the primary genre/category.
	Category string `gorm:"size:255;index" json:"category,omitempty"`

	// SecondaryCategory is an additional genre when the feed provides one.
	SecondaryCategory string `gorm:"size:255" json:"secondary_category,omitempty"`

	// Year is the production year, zero when unknown.
	Year int `json:"year,omitempty"`

	// Country is the production country.
	Country string `gorm:"size:64" json:"country,omitempty"`

	// IconURL is a program still or poster.
	IconURL string `gorm:"size:2048" json:"icon_url,omitempty"`

	// EpisodeNumber and SeasonNumber are nil unless positive.
	EpisodeNumber *int `json:"episode_number,omitempty"`
	SeasonNumber  *int `json:"season_number,omitempty"`

	// SeriesID groups episodes of the same series.
	SeriesID string `gorm:"size:255" json:"series_id,omitempty"`

	// Keywords is a JSON-encoded list of keywords from the feed.
	Keywords string `gorm:"type:text" json:"keywords,omitempty"`

	// Rating is the content rating value (e.g. "TV-14").
	Rating string `gorm:"size:50" json:"rating,omitempty"`

	// Flag block.
	AudioDescription bool `gorm:"default:false" json:"audio_description"`
	Subtitles        bool `gorm:"default:false" json:"subtitles"`
	HD               bool `gorm:"default:false" json:"hd"`
	Premiere         bool `gorm:"default:false" json:"premiere"`
	Finale           bool `gorm:"default:false" json:"finale"`
	Live             bool `gorm:"default:false" json:"live"`
	NewEpisode       bool `gorm:"default:false" json:"new_episode"`
}

// TableName returns the table name for EpgProgram.
func (EpgProgram) TableName() string {
	return "epg_programs"
}

// ProgramKey returns the natural key "{channel_key}|{start}" used for
// client-facing program identifiers.
func (p *EpgProgram) ProgramKey() string {
	return p.ChannelKey + "|" + p.Start.UTC().Format(time.RFC3339)
}

// Duration returns the program duration.
func (p *EpgProgram) Duration() time.Duration {
	return p.Stop.Sub(p.Start)
}

// IsOnAirAt reports whether the program covers the given instant.
func (p *EpgProgram) IsOnAirAt(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.Stop)
}

// KeywordList decodes the Keywords JSON column.
func (p *EpgProgram) KeywordList() []string {
	if strings.TrimSpace(p.Keywords) == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(p.Keywords), &list); err != nil {
		return nil
	}
	return list
}

// SetKeywords encodes the list into the Keywords column.
func (p *EpgProgram) SetKeywords(keywords []string) {
	keywords = compactStrings(keywords)
	if len(keywords) == 0 {
		p.Keywords = ""
		return
	}
	if data, err := json.Marshal(keywords); err == nil {
		p.Keywords = string(data)
	}
}

// Normalize applies ingest normalization: field length caps and
// null-unless-positive episode numbering.
func (p *EpgProgram) Normalize() {
	p.ChannelKey = strings.TrimSpace(p.ChannelKey)
	p.Title = truncate(strings.TrimSpace(p.Title), MaxProgramTitleLen)
	p.Description = truncate(strings.TrimSpace(p.Description), MaxProgramDescriptionLen)
	if p.EpisodeNumber != nil && *p.EpisodeNumber <= 0 {
		p.EpisodeNumber = nil
	}
	if p.SeasonNumber != nil && *p.SeasonNumber <= 0 {
		p.SeasonNumber = nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Validate performs basic validation on the EPG program.
func (p *EpgProgram) Validate() error {
	if p.ChannelKey == "" {
		return ErrChannelKeyRequired
	}
	if p.Start.IsZero() {
		return ErrStartTimeRequired
	}
	if p.Stop.IsZero() {
		return ErrEndTimeRequired
	}
	if p.Title == "" {
		return ErrTitleRequired
	}
	if !p.Stop.After(p.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the program and generates a ULID.
func (p *EpgProgram) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the program before update.
func (p *EpgProgram) BeforeUpdate(_ *gorm.DB) error {
	return p.Validate()
}
