package epg

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    Interval
		wantErr bool
	}{
		{"4h", Interval{4, 'h'}, false},
		{"30m", Interval{30, 'm'}, false},
		{"1d", Interval{1, 'd'}, false},
		{"12h", Interval{12, 'h'}, false},

		// Legacy bare seconds round to whole hours.
		{"3600", Interval{1, 'h'}, false},
		{"5400", Interval{2, 'h'}, false},
		{"1800", Interval{1, 'h'}, false},
		{"86400", Interval{24, 'h'}, false},
		{"60", Interval{1, 'h'}, false},

		{"", Interval{}, true},
		{"abc", Interval{}, true},
		{"0h", Interval{}, true},
		{"-4h", Interval{}, true},
		{"0", Interval{}, true},
		{"4w", Interval{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntervalToCron(t *testing.T) {
	id := models.NewULID()

	hourly := IntervalToCron(Interval{4, 'h'}, id)
	assert.Regexp(t, regexp.MustCompile(`^\d+ 0-23/4 \* \* \*$`), hourly)

	minutes := IntervalToCron(Interval{15, 'm'}, id)
	assert.Equal(t, "*/15 * * * *", minutes)

	daily := IntervalToCron(Interval{2, 'd'}, id)
	assert.Regexp(t, regexp.MustCompile(`^\d+ 0 \*/2 \* \*$`), daily)

	// The minute offset is a hash of the source id: stable across calls.
	assert.Equal(t, hourly, IntervalToCron(Interval{4, 'h'}, id))
}

type stubRefresher struct {
	mu    sync.Mutex
	calls []models.ULID
	ch    chan models.ULID
}

func newStubRefresher() *stubRefresher {
	return &stubRefresher{ch: make(chan models.ULID, 16)}
}

func (r *stubRefresher) Refresh(_ context.Context, sourceID models.ULID, _ bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, sourceID)
	r.mu.Unlock()
	r.ch <- sourceID
	return nil
}

func (r *stubRefresher) wait(t *testing.T) models.ULID {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for refresh")
		return models.ULID{}
	}
}

func setupScheduler(t *testing.T) (*Scheduler, *stubRefresher, repository.EpgSourceRepository) {
	t.Helper()
	db := setupEpgDB(t)
	sources := repository.NewEpgSourceRepository(db)
	programs := repository.NewEpgProgramRepository(db)
	refresher := newStubRefresher()
	sched := NewScheduler(sources, programs, refresher, discardLogger())
	return sched, refresher, sources
}

func TestScheduler_InitialRefresh(t *testing.T) {
	sched, refresher, sources := setupScheduler(t)
	ctx := context.Background()

	fresh := &models.EpgSource{Name: "never-refreshed", URL: "http://example.com/a.xml"}
	require.NoError(t, sources.Create(ctx, fresh))

	seen := &models.EpgSource{Name: "refreshed-before", URL: "http://example.com/b.xml"}
	require.NoError(t, sources.Create(ctx, seen))
	now := time.Now()
	seen.LastSuccess = &now
	require.NoError(t, sources.Update(ctx, seen))

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// Only the source that never succeeded gets an eager first refresh.
	assert.Equal(t, fresh.ID, refresher.wait(t))

	select {
	case id := <-refresher.ch:
		t.Fatalf("unexpected refresh for source %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_Jobs(t *testing.T) {
	sched, _, sources := setupScheduler(t)
	ctx := context.Background()

	src := &models.EpgSource{Name: "guide", URL: "http://example.com/g.xml", RefreshInterval: "6h"}
	require.NoError(t, sources.Create(ctx, src))
	now := time.Now()
	src.LastSuccess = &now
	require.NoError(t, sources.Update(ctx, src))

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, src.ID, jobs[0].SourceID)
	assert.Equal(t, "guide", jobs[0].SourceName)
	assert.Regexp(t, regexp.MustCompile(`^\d+ 0-23/6 \* \* \*$`), jobs[0].Cron)
	assert.Contains(t, jobs[0].Schedule, "every 6 hours")
	assert.False(t, jobs[0].Next.IsZero(), "running job must have a next fire time")
}

func TestScheduler_InvalidIntervalFallsBack(t *testing.T) {
	sched, _, sources := setupScheduler(t)
	ctx := context.Background()

	src := &models.EpgSource{Name: "bad-interval", URL: "http://example.com/g.xml"}
	require.NoError(t, sources.Create(ctx, src))
	now := time.Now()
	src.LastSuccess = &now
	src.RefreshInterval = "often"
	require.NoError(t, sources.Update(ctx, src))

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Regexp(t, regexp.MustCompile(`^\d+ 0-23/4 \* \* \*$`), jobs[0].Cron)
}

func TestScheduler_RescheduleAndUnschedule(t *testing.T) {
	sched, _, sources := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()
	require.Empty(t, sched.Jobs())

	src := &models.EpgSource{Name: "late-addition", URL: "http://example.com/g.xml", RefreshInterval: "2h"}
	require.NoError(t, sources.Create(ctx, src))
	now := time.Now()
	src.LastSuccess = &now
	require.NoError(t, sources.Update(ctx, src))

	require.NoError(t, sched.Reschedule(src))
	require.Len(t, sched.Jobs(), 1)

	src.RefreshInterval = "30m"
	require.NoError(t, sched.Reschedule(src))
	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "*/30 * * * *", jobs[0].Cron)

	src.Enabled = models.BoolPtr(false)
	require.NoError(t, sched.Reschedule(src))
	assert.Empty(t, sched.Jobs(), "disabled sources are unscheduled")

	src.Enabled = models.BoolPtr(true)
	require.NoError(t, sched.Reschedule(src))
	require.Len(t, sched.Jobs(), 1)

	sched.Unschedule(src.ID)
	assert.Empty(t, sched.Jobs())
}

func TestScheduler_DoubleStart(t *testing.T) {
	sched, _, _ := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()
	assert.Error(t, sched.Start(ctx))
}

func TestScheduler_CleanupSweep(t *testing.T) {
	db := setupEpgDB(t)
	sources := repository.NewEpgSourceRepository(db)
	programs := repository.NewEpgProgramRepository(db)
	sched := NewScheduler(sources, programs, newStubRefresher(), discardLogger())
	ctx := context.Background()

	old := &models.EpgProgram{
		ChannelKey: "ch.example",
		Start:      time.Now().Add(-9 * 24 * time.Hour),
		Stop:       time.Now().Add(-8 * 24 * time.Hour),
		Title:      "Ancient History",
	}
	current := &models.EpgProgram{
		ChannelKey: "ch.example",
		Start:      time.Now(),
		Stop:       time.Now().Add(time.Hour),
		Title:      "Still Airing",
	}
	require.NoError(t, programs.UpsertBatch(ctx, []*models.EpgProgram{old, current}))

	sched.runCleanup(ctx)

	remaining, err := programs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}
