package models

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// epgRefreshIntervalPattern matches the supported refresh interval grammar:
// a positive integer followed by h (hours), m (minutes), or d (days).
var epgRefreshIntervalPattern = regexp.MustCompile(`^\d+[hmd]$`)

// EpgSource is an XMLTV feed scheduled for periodic ingestion.
type EpgSource struct {
	BaseModel

	// Name is a human-readable label for the source.
	Name string `gorm:"not null;size:255" json:"name"`

	// URL is the XMLTV document location (possibly compressed).
	URL string `gorm:"not null;size:2048" json:"url"`

	// RefreshInterval follows the \d+[hmd] grammar (e.g. "4h", "30m", "1d").
	// Legacy numeric values are interpreted as seconds and rounded up to
	// whole hours by the scheduler.
	RefreshInterval string `gorm:"size:16;default:4h" json:"refresh_interval"`

	// Enabled sources are scheduled; disabled sources are skipped entirely.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// LastRefresh is stamped at the start of every refresh attempt.
	LastRefresh *time.Time `json:"last_refresh,omitempty"`

	// LastSuccess is stamped only when a refresh completes and verifies.
	LastSuccess *time.Time `json:"last_success,omitempty"`

	// LastError holds the categorized message of the most recent failure,
	// cleared on success.
	LastError string `gorm:"size:1024" json:"last_error,omitempty"`

	// Category optionally overrides the primary <category> emitted for
	// programs ingested from this source.
	Category string `gorm:"size:128" json:"category,omitempty"`

	// SecondaryGenres is a JSON-encoded list of additional categories.
	// The column tolerates sloppy legacy values (bare strings, CSV).
	SecondaryGenres string `gorm:"type:text" json:"secondary_genres,omitempty"`
}

// TableName returns the table name for EpgSource.
func (EpgSource) TableName() string {
	return "epg_sources"
}

// IsEnabled reports whether the source is enabled.
func (s *EpgSource) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// SecondaryGenreList decodes SecondaryGenres. Legacy rows may hold a bare
// string or comma-separated values instead of a JSON array; both decode to
// a list rather than failing.
func (s *EpgSource) SecondaryGenreList() []string {
	raw := strings.TrimSpace(s.SecondaryGenres)
	if raw == "" {
		return nil
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return compactStrings(list)
	}

	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		raw = single
	}
	return compactStrings(strings.Split(raw, ","))
}

// SetSecondaryGenres encodes the list into the JSON text column.
func (s *EpgSource) SetSecondaryGenres(genres []string) {
	genres = compactStrings(genres)
	if len(genres) == 0 {
		s.SecondaryGenres = ""
		return
	}
	data, err := json.Marshal(genres)
	if err != nil {
		return
	}
	s.SecondaryGenres = string(data)
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HasValidInterval reports whether RefreshInterval matches the supported
// grammar. The scheduler substitutes the configured default otherwise.
func (s *EpgSource) HasValidInterval() bool {
	return epgRefreshIntervalPattern.MatchString(s.RefreshInterval)
}

// Validate performs basic validation on the EPG source.
func (s *EpgSource) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates a ULID.
func (s *EpgSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (s *EpgSource) BeforeUpdate(_ *gorm.DB) error {
	return s.Validate()
}
