package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// ErrCapacity is returned by Admit when the global or per-channel
// session cap is reached.
var ErrCapacity = models.ErrCapacity

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Setting keys that override the configured session caps at runtime.
const (
	SettingMaxConcurrentStreams = "max_concurrent_streams"
	SettingMaxPerChannel        = "max_streams_per_channel"
)

// ManagerConfig holds session admission configuration.
type ManagerConfig struct {
	// MaxConcurrent is the global cap on active sessions (tuner count).
	MaxConcurrent int
	// MaxPerChannel caps concurrent sessions on a single channel.
	MaxPerChannel int
	// IdleTimeout releases a session whose last byte is older than this.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are collected.
	SweepInterval time.Duration
}

// DefaultManagerConfig returns the default admission configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent: 5,
		MaxPerChannel: 1,
		IdleTimeout:   30 * time.Second,
		SweepInterval: 15 * time.Second,
	}
}

// Manager owns the active session table. Admission and release are
// serialized under a single mutex; stream I/O never holds it.
type Manager struct {
	config   ManagerConfig
	settings repository.SettingRepository
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts its sweeper.
func NewManager(config ManagerConfig, settings repository.SettingRepository, logger *slog.Logger) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultManagerConfig().MaxConcurrent
	}
	if config.MaxPerChannel <= 0 {
		config.MaxPerChannel = DefaultManagerConfig().MaxPerChannel
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultManagerConfig().IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultManagerConfig().SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:   config,
		settings: settings,
		logger:   logger.With(slog.String("component", "relay")),
		sessions: make(map[uuid.UUID]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// ClientInfo identifies the requesting client for admission bookkeeping.
type ClientInfo struct {
	Addr      string
	UserAgent string
}

// Admit creates a session for the channel if both the global and the
// per-channel caps allow it. Caps read their runtime overrides from
// settings and fall back to the configured values.
func (m *Manager) Admit(ctx context.Context, channelID, channelName string, client ClientInfo) (*Session, error) {
	maxTotal, maxPerChannel := m.caps(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= maxTotal {
		return nil, ErrCapacity
	}
	perChannel := 0
	for _, s := range m.sessions {
		if s.ChannelID == channelID {
			perChannel++
		}
	}
	if perChannel >= maxPerChannel {
		return nil, ErrCapacity
	}

	sctx, cancel := context.WithCancel(m.ctx)
	session := &Session{
		ID:          uuid.New(),
		ChannelID:   channelID,
		ChannelName: channelName,
		ClientAddr:  client.Addr,
		UserAgent:   client.UserAgent,
		StartedAt:   time.Now(),
		ctx:         sctx,
		cancel:      cancel,
		onRelease:   m.remove,
	}
	session.MarkByte(0)

	m.sessions[session.ID] = session

	m.logger.Info("session admitted",
		slog.String("session_id", session.ID.String()),
		slog.String("channel_id", channelID),
		slog.String("client", client.Addr),
		slog.Int("active", len(m.sessions)))

	return session, nil
}

func (m *Manager) caps(ctx context.Context) (int, int) {
	maxTotal := m.config.MaxConcurrent
	maxPerChannel := m.config.MaxPerChannel
	if m.settings != nil {
		if n, err := m.settings.GetInt(ctx, SettingMaxConcurrentStreams, maxTotal); err == nil && n > 0 {
			maxTotal = n
		}
		if n, err := m.settings.GetInt(ctx, SettingMaxPerChannel, maxPerChannel); err == nil && n > 0 {
			maxPerChannel = n
		}
	}
	return maxTotal, maxPerChannel
}

// remove deletes the session from the table. Called from Session.Release.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session released",
		slog.String("session_id", s.ID.String()),
		slog.String("channel_id", s.ChannelID),
		slog.Int64("bytes_out", s.BytesOut()),
		slog.Int("active", active))
}

// Get returns a session by id.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop releases the session with the given id.
func (m *Manager) Stop(id uuid.UUID) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Release()
	return nil
}

// Active returns a snapshot of all active sessions.
func (m *Manager) Active() []SessionInfo {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	return infos
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close releases all sessions and stops the sweeper.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		s.Release()
	}
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep releases sessions whose last byte is older than the idle timeout.
func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.LastByteAt().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.logger.Warn("releasing idle session",
			slog.String("session_id", s.ID.String()),
			slog.String("channel_id", s.ChannelID),
			slog.Time("last_byte_at", s.LastByteAt()))
		s.Release()
	}
}
