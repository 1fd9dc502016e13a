package models

import "errors"

// Error categories surfaced to clients and operators. Handlers map these to
// HTTP statuses; tests distinguish them with errors.Is.
var (
	// ErrCapacity indicates too many concurrent streams, globally or per
	// channel. Surfaces as 503 with a JSON body.
	ErrCapacity = errors.New("stream capacity reached")

	// ErrNotFound indicates an unknown channel, stream, or EPG source.
	ErrNotFound = errors.New("not found")

	// ErrUpstream indicates the upstream source failed: HTTP status >= 400,
	// connection refused, DNS failure, or TLS failure.
	ErrUpstream = errors.New("upstream failure")

	// ErrEncoder indicates the encoder failed to spawn or exited non-zero
	// before producing any bytes.
	ErrEncoder = errors.New("encoder failure")

	// ErrParse indicates an EPG feed could not be parsed as XMLTV.
	ErrParse = errors.New("parse failure")

	// ErrStorage indicates EPG rows could not be written.
	ErrStorage = errors.New("storage failure")

	// ErrConfig indicates a malformed configuration value. A safe default is
	// substituted; the process never exits for this.
	ErrConfig = errors.New("invalid configuration value")

	// ErrRefreshInProgress indicates a refresh for the same source is
	// already running.
	ErrRefreshInProgress = errors.New("refresh already running")
)

// Validation sentinels used by model Validate methods.
var (
	ErrNameRequired       = errors.New("name is required")
	ErrURLRequired        = errors.New("url is required")
	ErrChannelIDRequired  = errors.New("channel_id is required")
	ErrChannelKeyRequired = errors.New("channel_key is required")
	ErrNumberRequired     = errors.New("channel number must be positive")
	ErrStartTimeRequired  = errors.New("start time is required")
	ErrEndTimeRequired    = errors.New("end time is required")
	ErrTitleRequired      = errors.New("title is required")
	ErrInvalidTimeRange   = errors.New("end time must be after start time")
	ErrInvalidStreamKind  = errors.New("invalid stream kind")
	ErrSourceIDRequired   = errors.New("source_id is required")
	ErrSettingKeyRequired = errors.New("setting key is required")
)
