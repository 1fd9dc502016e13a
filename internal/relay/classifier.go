package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astits"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/urlutil"
)

const (
	// probeWindowBytes bounds how much of the upstream is read when
	// verifying an MPEG-TS stream.
	probeWindowBytes = 64 * 1024
	probeTimeout     = 5 * time.Second

	// Looping sources tend to fail the same way in quick succession.
	loopFailureCount  = 3
	loopFailureWindow = 2 * time.Minute
)

// ClassifierConfig holds pipeline selection configuration.
type ClassifierConfig struct {
	// ReliabilityThreshold is the score below which a stream is always
	// transcoded.
	ReliabilityThreshold float64
	// HTTPClient performs the TS probe. Nil disables probing.
	HTTPClient *http.Client
}

// Classifier selects the delivery pipeline for a stream and tracks
// failure patterns that indicate a looping source.
type Classifier struct {
	config ClassifierConfig

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewClassifier creates a classifier.
func NewClassifier(config ClassifierConfig) *Classifier {
	if config.ReliabilityThreshold <= 0 {
		config.ReliabilityThreshold = 0.3
	}
	return &Classifier{
		config:   config,
		failures: make(map[string][]time.Time),
	}
}

// Classify decides the pipeline mode for the stream and client.
//
// The upstream kind is resolved from the URL first (extension, type=ts
// query flag, HEAD Content-Type) and only falls back to the declared
// kind; operator-entered kinds are often stale or wrong. Direct pass
// needs a raw MPEG-TS upstream and a client that can consume it. HLS
// remuxes into a single MPEG-TS unless the client is Plex, whose own
// transcoder chokes on some HLS quirks. Unreliable streams are always
// transcoded so the encoder's reconnect and timestamp repair apply.
func (c *Classifier) Classify(ctx context.Context, stream *models.Stream, client ClientKind) Mode {
	if stream.ReliabilityScore < c.config.ReliabilityThreshold {
		return ModeTranscode
	}

	switch urlutil.ClassifyURL(ctx, c.config.HTTPClient, stream.URL, stream.Kind) {
	case models.StreamKindMPEGTS:
		if client == ClientBrowser {
			return ModeTranscode
		}
		if c.config.HTTPClient != nil {
			if err := c.ProbeTS(ctx, stream.URL); err != nil {
				return ModeTranscode
			}
		}
		return ModeDirect
	case models.StreamKindHLS:
		if client == ClientPlex {
			return ModeTranscode
		}
		return ModeRemux
	default:
		return ModeTranscode
	}
}

// ProbeTS reads a bounded window of the upstream and demuxes it to
// confirm MPEG-TS sync and a PAT. A stream that fails the probe is not
// safe to relay verbatim.
func (c *Classifier) ProbeTS(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: probe request: %v", models.ErrUpstream, err)
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe connect: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe got HTTP %d", models.ErrUpstream, resp.StatusCode)
	}

	dmx := astits.NewDemuxer(ctx, io.LimitReader(resp.Body, probeWindowBytes))
	for {
		data, err := dmx.NextData()
		if err != nil {
			return fmt.Errorf("%w: no PAT in probe window: %v", models.ErrUpstream, err)
		}
		if data.PAT != nil {
			return nil
		}
	}
}

// RecordFailure notes a stream failure and reports whether the failure
// pattern now looks like a looping source (several failures inside a
// short window).
func (c *Classifier) RecordFailure(streamID string) bool {
	now := time.Now()
	cutoff := now.Add(-loopFailureWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.failures[streamID][:0]
	for _, t := range c.failures[streamID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	c.failures[streamID] = recent

	return len(recent) >= loopFailureCount
}

// ClearFailures resets the failure history for a stream, typically after
// a clean session.
func (c *Classifier) ClearFailures(streamID string) {
	c.mu.Lock()
	delete(c.failures, streamID)
	c.mu.Unlock()
}

// ProfileFor resolves the encoding profile for a channel/stream pair,
// escalating when the stream's failure pattern indicates looping.
func (c *Classifier) ProfileFor(channel *models.Channel, stream *models.Stream) (models.EncodingProfile, error) {
	raw := strings.TrimSpace(stream.EncodingProfile)
	if raw == "" {
		raw = strings.TrimSpace(channel.EncodingProfile)
	}
	profile, err := models.ParseEncodingProfile(raw)
	if err != nil {
		return models.EncodingProfile{}, err
	}

	c.mu.Lock()
	looping := len(c.failures[stream.ID]) >= loopFailureCount
	c.mu.Unlock()
	if looping {
		return models.AntiLoopEncodingProfile(), nil
	}
	return profile, nil
}
