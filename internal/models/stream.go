package models

import (
	"time"

	"gorm.io/gorm"
)

// StreamKind classifies the upstream transport of a stream URL.
type StreamKind string

// Supported stream kinds.
const (
	StreamKindHTTP   StreamKind = "http"
	StreamKindHLS    StreamKind = "hls"
	StreamKindDASH   StreamKind = "dash"
	StreamKindRTSP   StreamKind = "rtsp"
	StreamKindRTMP   StreamKind = "rtmp"
	StreamKindMPEGTS StreamKind = "mpegts"
)

// IsValid reports whether the kind is one of the supported values.
func (k StreamKind) IsValid() bool {
	switch k {
	case StreamKindHTTP, StreamKindHLS, StreamKindDASH, StreamKindRTSP, StreamKindRTMP, StreamKindMPEGTS:
		return true
	}
	return false
}

// Stream is the upstream realization of a Channel. A channel may have
// several streams; failover walks them in insertion order.
type Stream struct {
	// ID is a UUID string; it appears in /streams/preview/{id} URLs.
	ID string `gorm:"type:varchar(36);primaryKey" json:"id"`

	// ChannelID is the foreign key to the owning Channel.
	ChannelID string `gorm:"type:varchar(36);not null;index" json:"channel_id"`

	// URL is the upstream source URL.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Kind is the declared transport; the classifier may refine it.
	Kind StreamKind `gorm:"not null;size:16" json:"kind"`

	// Enabled streams participate in playback and lineup eligibility.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// ReliabilityScore in [0,1]; decays on failure and recovers on success.
	// Below the configured threshold the stream is always transcoded.
	ReliabilityScore float64 `gorm:"default:1" json:"reliability_score"`

	// FailureCount is the total recorded upstream failures.
	FailureCount int `gorm:"default:0" json:"failure_count"`

	// LastFailure is the time of the most recent recorded failure.
	LastFailure *time.Time `json:"last_failure,omitempty"`

	// EncodingProfile optionally overrides the channel/default profile.
	EncodingProfile string `gorm:"size:64" json:"encoding_profile,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsEnabled reports whether the stream is enabled.
func (s *Stream) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.ChannelID == "" {
		return ErrChannelIDRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	if !s.Kind.IsValid() {
		return ErrInvalidStreamKind
	}
	return nil
}

// BeforeCreate is a GORM hook that assigns a UUID and validates the stream.
func (s *Stream) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewUUID()
	}
	if s.ReliabilityScore == 0 && s.FailureCount == 0 {
		s.ReliabilityScore = 1
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(_ *gorm.DB) error {
	return s.Validate()
}
