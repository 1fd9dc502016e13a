package epg

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/format"
)

// DefaultRefreshInterval is substituted for malformed interval strings.
const DefaultRefreshInterval = "4h"

// cleanupRetention is how long program rows survive after their end time
// before the daily sweep removes them.
const cleanupRetention = 7 * 24 * time.Hour

// cleanupCron runs the daily retention sweep at a quiet hour.
const cleanupCron = "0 2 * * *"

var intervalPattern = regexp.MustCompile(`^(\d+)([hmd])$`)

// Interval is a parsed refresh interval.
type Interval struct {
	Value int
	Unit  byte // 'h', 'm' or 'd'
}

// ParseInterval parses the \d+[hmd] grammar. Legacy bare-number values
// are seconds and round to the nearest hour, minimum one hour.
func ParseInterval(s string) (Interval, error) {
	if m := intervalPattern.FindStringSubmatch(s); m != nil {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return Interval{}, fmt.Errorf("%w: refresh interval %q", models.ErrConfig, s)
		}
		return Interval{Value: v, Unit: m[2][0]}, nil
	}

	if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
		hours := (secs + 1800) / 3600
		if hours < 1 {
			hours = 1
		}
		return Interval{Value: hours, Unit: 'h'}, nil
	}

	return Interval{}, fmt.Errorf("%w: refresh interval %q", models.ErrConfig, s)
}

// IntervalToCron builds the cron expression for an interval. The minute
// field is a stable hash of the source id so sources with the same
// interval do not all fire at once, and a restart keeps the same offset.
func IntervalToCron(iv Interval, sourceID models.ULID) string {
	h := fnv.New32a()
	h.Write([]byte(sourceID.String()))
	minute := h.Sum32() % 60

	switch iv.Unit {
	case 'm':
		return fmt.Sprintf("*/%d * * * *", iv.Value)
	case 'd':
		return fmt.Sprintf("%d 0 */%d * *", minute, iv.Value)
	default:
		return fmt.Sprintf("%d 0-23/%d * * *", minute, iv.Value)
	}
}

// Refresher triggers a source refresh. Satisfied by *Ingester.
type Refresher interface {
	Refresh(ctx context.Context, sourceID models.ULID, force bool) error
}

// JobInfo describes one scheduled refresh for the debug surface.
type JobInfo struct {
	SourceID   models.ULID `json:"source_id"`
	SourceName string      `json:"source_name"`
	Cron       string      `json:"cron"`
	Schedule   string      `json:"schedule"`
	Next       time.Time   `json:"next"`
	Prev       time.Time   `json:"prev,omitempty"`
}

// Scheduler owns the cron jobs driving EPG refreshes plus the daily
// retention sweep.
type Scheduler struct {
	sources   repository.EpgSourceRepository
	programs  repository.EpgProgramRepository
	refresher Refresher
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[models.ULID]scheduledJob
	ctx     context.Context
	cancel  context.CancelFunc
}

type scheduledJob struct {
	entryID    cron.EntryID
	sourceName string
	expr       string
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	sources repository.EpgSourceRepository,
	programs repository.EpgProgramRepository,
	refresher Refresher,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sources:   sources,
		programs:  programs,
		refresher: refresher,
		logger:    logger,
		entries:   make(map[models.ULID]scheduledJob),
	}
}

// Start schedules every enabled source, registers the daily cleanup, and
// kicks off a background initial refresh for sources that have never
// succeeded.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(cleanupCron, s.safeJob("cleanup", s.runCleanup)); err != nil {
		return fmt.Errorf("scheduling cleanup: %w", err)
	}

	sources, err := s.sources.GetEnabled(s.ctx)
	if err != nil {
		return fmt.Errorf("loading EPG sources: %w", err)
	}

	var initial []*models.EpgSource
	for _, source := range sources {
		if err := s.scheduleLocked(source); err != nil {
			s.logger.Error("failed to schedule EPG source",
				slog.String("source", source.Name),
				slog.String("error", err.Error()))
			continue
		}
		if source.LastSuccess == nil {
			initial = append(initial, source)
		}
	}

	s.cron.Start()
	s.logger.Info("EPG scheduler started", slog.Int("sources", len(s.entries)))

	for _, source := range initial {
		source := source
		go func() {
			s.logger.Info("triggering initial EPG refresh", slog.String("source", source.Name))
			_ = s.refresher.Refresh(s.ctx, source.ID, false)
		}()
	}
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if s.cancel != nil {
		s.cancel()
	}
	s.cron = nil
	s.entries = make(map[models.ULID]scheduledJob)
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.logger.Info("EPG scheduler stopped")
}

// Reschedule replaces the job for a source after it was created or
// updated. Disabled sources are unscheduled.
func (s *Scheduler) Reschedule(source *models.EpgSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	s.unscheduleLocked(source.ID)
	if !source.IsEnabled() {
		return nil
	}
	return s.scheduleLocked(source)
}

// Unschedule removes the job for a deleted source.
func (s *Scheduler) Unschedule(sourceID models.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(sourceID)
}

// Jobs returns a snapshot of scheduled refreshes.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.entries))
	for id, job := range s.entries {
		info := JobInfo{
			SourceID:   id,
			SourceName: job.sourceName,
			Cron:       job.expr,
			Schedule:   format.CronDescription(job.expr),
		}
		if s.cron != nil {
			entry := s.cron.Entry(job.entryID)
			info.Next = entry.Next
			info.Prev = entry.Prev
		}
		jobs = append(jobs, info)
	}
	return jobs
}

func (s *Scheduler) scheduleLocked(source *models.EpgSource) error {
	iv, err := ParseInterval(source.RefreshInterval)
	if err != nil {
		s.logger.Warn("invalid refresh interval, using default",
			slog.String("source", source.Name),
			slog.String("interval", source.RefreshInterval),
			slog.String("default", DefaultRefreshInterval))
		iv, _ = ParseInterval(DefaultRefreshInterval)
	}

	expr := IntervalToCron(iv, source.ID)
	id := source.ID
	name := source.Name

	entryID, err := s.cron.AddFunc(expr, s.safeJob(name, func(ctx context.Context) {
		_ = s.refresher.Refresh(ctx, id, false)
	}))
	if err != nil {
		return fmt.Errorf("adding cron job %q: %w", expr, err)
	}

	s.entries[id] = scheduledJob{entryID: entryID, sourceName: name, expr: expr}
	s.logger.Debug("scheduled EPG source",
		slog.String("source", name),
		slog.String("cron", expr))
	return nil
}

func (s *Scheduler) unscheduleLocked(sourceID models.ULID) {
	job, ok := s.entries[sourceID]
	if !ok {
		return
	}
	if s.cron != nil {
		s.cron.Remove(job.entryID)
	}
	delete(s.entries, sourceID)
}

// safeJob wraps a job so a panicking refresh never kills the cron
// runner.
func (s *Scheduler) safeJob(name string, fn func(ctx context.Context)) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled job panicked",
					slog.String("job", name),
					slog.Any("panic", r))
			}
		}()
		fn(s.ctx)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-cleanupRetention)
	removed, err := s.programs.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("program retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Info("program retention sweep", slog.Int64("removed", removed))
	}
}
