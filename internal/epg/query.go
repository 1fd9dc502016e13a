package epg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// Cache TTLs for guide reads. The current-program TTL is short because
// Plex polls it for the now-playing banner.
const (
	currentTTL = 30 * time.Second
	rangeTTL   = time.Hour
	gridTTL    = 30 * time.Minute
)

// fallbackDuration is the synthesized now/next window for channels with
// no listings.
const fallbackDuration = time.Hour

// Query answers guide lookups with caching and fallback synthesis. A
// channel with no listings still gets a usable now/next answer.
type Query struct {
	channels repository.ChannelRepository
	programs repository.EpgProgramRepository
	cache    *cache.Cache
	logger   *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewQuery creates a Query.
func NewQuery(
	channels repository.ChannelRepository,
	programs repository.EpgProgramRepository,
	epgCache *cache.Cache,
	logger *slog.Logger,
) *Query {
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{
		channels: channels,
		programs: programs,
		cache:    epgCache,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve maps a channel reference (internal UUID or feed epg_id) to the
// channel and the key its listings are stored under.
func (q *Query) Resolve(ctx context.Context, channelID string) (*models.Channel, string, error) {
	ch, err := q.channels.GetByIDOrEPGID(ctx, channelID)
	if err != nil {
		return nil, "", err
	}
	if ch == nil {
		return nil, "", fmt.Errorf("%w: channel %s", models.ErrNotFound, channelID)
	}
	return ch, ch.GuideChannelID(), nil
}

// Current returns the program on air for the channel, synthesizing a
// fallback entry when the guide has nothing. The result is cached for
// 30 seconds.
func (q *Query) Current(ctx context.Context, channelID string) (*models.EpgProgram, error) {
	ch, key, err := q.Resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.KeyCurrentProgram + ch.ID
	if prog, ok := q.cachedProgram(cacheKey); ok {
		return prog, nil
	}

	now := q.now()
	prog, err := q.lookup(ctx, ch, key, func(k string) (*models.EpgProgram, error) {
		return q.programs.GetCurrent(ctx, k, now)
	})
	if err != nil {
		return nil, err
	}
	if prog == nil {
		prog = q.fallbackProgram(ch, now)
	}

	q.cacheProgram(cacheKey, prog, currentTTL)
	return prog, nil
}

// Next returns the first program starting after now, or nil when the
// guide has nothing upcoming.
func (q *Query) Next(ctx context.Context, channelID string) (*models.EpgProgram, error) {
	ch, key, err := q.Resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return q.lookup(ctx, ch, key, func(k string) (*models.EpgProgram, error) {
		return q.programs.GetNext(ctx, k, q.now())
	})
}

// Range returns the channel's programs overlapping [from, to), cached
// for an hour per window.
func (q *Query) Range(ctx context.Context, channelID string, from, to time.Time) ([]*models.EpgProgram, error) {
	ch, key, err := q.Resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("%s%s:%s", cache.KeyChannelRange, ch.ID, windowKey(from, to, rangeTTL))
	if progs, ok := q.cachedPrograms(cacheKey); ok {
		return progs, nil
	}

	progs, err := q.programs.GetRange(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	if len(progs) == 0 && key != ch.ID {
		// Legacy rows may be keyed by the internal UUID.
		progs, err = q.programs.GetRange(ctx, ch.ID, from, to)
		if err != nil {
			return nil, err
		}
	}

	q.cachePrograms(cacheKey, progs, rangeTTL)
	return progs, nil
}

// Grid returns programs for the given channel keys overlapping
// [from, to), cached for 30 minutes per window.
func (q *Query) Grid(ctx context.Context, channelKeys []string, from, to time.Time) ([]*models.EpgProgram, error) {
	cacheKey := fmt.Sprintf("%s%s:%s", cache.KeyGuideGrid, strings.Join(channelKeys, ","), windowKey(from, to, gridTTL))
	if progs, ok := q.cachedPrograms(cacheKey); ok {
		return progs, nil
	}

	progs, err := q.programs.GetRangeForKeys(ctx, channelKeys, from, to)
	if err != nil {
		return nil, err
	}

	q.cachePrograms(cacheKey, progs, gridTTL)
	return progs, nil
}

// windowKey renders a [from, to) window as a cache key fragment. Callers
// pass now-derived bounds, so the bounds are truncated to the cache slot;
// raw Unix seconds would mint a fresh key every request and never hit.
func windowKey(from, to time.Time, slot time.Duration) string {
	return fmt.Sprintf("%d:%d", from.Truncate(slot).Unix(), to.Truncate(slot).Unix())
}

// Search returns programs matching q by title or description.
func (q *Query) Search(ctx context.Context, query string, limit int) ([]*models.EpgProgram, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.programs.Search(ctx, query, limit)
}

// lookup queries by the channel's guide key, retrying with the internal
// UUID for legacy rows stored against it. A hit under the wrong key is
// logged so the mismatch is visible.
func (q *Query) lookup(ctx context.Context, ch *models.Channel, key string, fetch func(string) (*models.EpgProgram, error)) (*models.EpgProgram, error) {
	prog, err := fetch(key)
	if err != nil {
		return nil, err
	}
	if prog != nil || key == ch.ID {
		return prog, nil
	}

	prog, err = fetch(ch.ID)
	if err != nil {
		return nil, err
	}
	if prog != nil {
		q.logger.Warn("guide rows keyed by channel UUID instead of epg_id",
			slog.String("channel", ch.Name),
			slog.String("epg_id", key))
	}
	return prog, nil
}

// fallbackProgram synthesizes the now/next answer for channels with no
// listings.
func (q *Query) fallbackProgram(ch *models.Channel, now time.Time) *models.EpgProgram {
	start := now.UTC().Truncate(time.Minute)
	return &models.EpgProgram{
		ChannelKey:  ch.GuideChannelID(),
		Start:       start,
		Stop:        start.Add(fallbackDuration),
		Title:       ch.Name + " Live",
		Description: "Live programming on " + ch.Name,
		Category:    "Live TV",
	}
}

func (q *Query) cachedProgram(key string) (*models.EpgProgram, bool) {
	if q.cache == nil {
		return nil, false
	}
	data, ok := q.cache.Get(key)
	if !ok {
		return nil, false
	}
	var prog models.EpgProgram
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, false
	}
	return &prog, true
}

func (q *Query) cacheProgram(key string, prog *models.EpgProgram, ttl time.Duration) {
	if q.cache == nil || prog == nil {
		return
	}
	data, err := json.Marshal(prog)
	if err != nil {
		return
	}
	if err := q.cache.Set(key, data, ttl); err != nil {
		q.logger.Warn("failed to cache guide entry", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (q *Query) cachedPrograms(key string) ([]*models.EpgProgram, bool) {
	if q.cache == nil {
		return nil, false
	}
	data, ok := q.cache.Get(key)
	if !ok {
		return nil, false
	}
	var progs []*models.EpgProgram
	if err := json.Unmarshal(data, &progs); err != nil {
		return nil, false
	}
	return progs, true
}

func (q *Query) cachePrograms(key string, progs []*models.EpgProgram, ttl time.Duration) {
	if q.cache == nil {
		return
	}
	data, err := json.Marshal(progs)
	if err != nil {
		return
	}
	if err := q.cache.Set(key, data, ttl); err != nil {
		q.logger.Warn("failed to cache guide window", slog.String("key", key), slog.String("error", err.Error()))
	}
}
