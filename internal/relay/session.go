// Package relay provides the live stream gateway: session admission,
// upstream classification, the encoder supervisor and the HTTP handlers
// that tie them together.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Mode is the delivery pipeline selected for a session.
type Mode string

// Pipeline modes.
const (
	ModeDirect    Mode = "direct"
	ModeRemux     Mode = "remux"
	ModeTranscode Mode = "transcode"
)

// Session is one client playing one channel. Byte accounting uses atomics
// so the relay loop never takes the manager lock. The stream fields are
// set per failover attempt after the session is already visible to
// Active(), so they sit behind their own mutex.
type Session struct {
	ID          uuid.UUID
	ChannelID   string
	ChannelName string
	ClientAddr  string
	UserAgent   string
	StartedAt   time.Time

	mu        sync.Mutex
	streamID  string
	streamURL string
	mode      Mode

	bytesOut   atomic.Int64
	lastByteAt atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	released atomic.Bool

	releaseOnce sync.Once
	onRelease   func(*Session)
}

// Context returns the session context; it is cancelled on release.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SetStream records which stream and pipeline mode the session is
// playing. Called once per failover attempt.
func (s *Session) SetStream(streamID, streamURL string, mode Mode) {
	s.mu.Lock()
	s.streamID = streamID
	s.streamURL = streamURL
	s.mode = mode
	s.mu.Unlock()
}

// StreamURL returns the upstream URL currently being played.
func (s *Session) StreamURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamURL
}

// MarkByte records delivery of n bytes and advances last_byte_at
// monotonically.
func (s *Session) MarkByte(n int) {
	s.bytesOut.Add(int64(n))
	now := time.Now().UnixNano()
	for {
		prev := s.lastByteAt.Load()
		if now <= prev || s.lastByteAt.CompareAndSwap(prev, now) {
			return
		}
	}
}

// BytesOut returns the total bytes delivered to the client.
func (s *Session) BytesOut() int64 {
	return s.bytesOut.Load()
}

// LastByteAt returns the time of the most recent delivered byte.
func (s *Session) LastByteAt() time.Time {
	return time.Unix(0, s.lastByteAt.Load())
}

// Release removes the session from the manager and fires its cancellation.
// Safe to call more than once.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		if s.onRelease != nil {
			s.onRelease(s)
		}
		s.cancel()
	})
}

// Released reports whether the session has been released.
func (s *Session) Released() bool {
	return s.released.Load()
}

// SessionInfo is the JSON shape reported by /streams/active.
type SessionInfo struct {
	ID          uuid.UUID `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	StreamID    string    `json:"stream_id"`
	Mode        Mode      `json:"mode"`
	ClientAddr  string    `json:"client_addr"`
	UserAgent   string    `json:"user_agent"`
	StartedAt   time.Time `json:"started_at"`
	LastByteAt  time.Time `json:"last_byte_at"`
	BytesOut    int64     `json:"bytes_out"`
}

// Info returns a point-in-time snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	streamID, mode := s.streamID, s.mode
	s.mu.Unlock()

	return SessionInfo{
		ID:          s.ID,
		ChannelID:   s.ChannelID,
		ChannelName: s.ChannelName,
		StreamID:    streamID,
		Mode:        mode,
		ClientAddr:  s.ClientAddr,
		UserAgent:   s.UserAgent,
		StartedAt:   s.StartedAt,
		LastByteAt:  s.LastByteAt(),
		BytesOut:    s.BytesOut(),
	}
}
