// Package epg implements the guide pipeline: scheduled ingestion of XMLTV
// feeds, normalized program storage, and the query/synthesis layer behind
// the guide endpoints.
package epg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/format"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

// programRetention is how far back a refresh keeps program rows for the
// channels it just parsed. The scheduler's daily sweep enforces the
// longer global retention for channels that stop appearing in feeds.
const programRetention = 3 * 24 * time.Hour

// Ingester refreshes EPG sources: download, validate, parse, store,
// verify. One refresh per source runs at a time.
type Ingester struct {
	sources     repository.EpgSourceRepository
	epgChannels repository.EpgChannelRepository
	programs    repository.EpgProgramRepository
	client      *httpclient.Client
	cache       *cache.Cache
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight map[models.ULID]struct{}
}

// NewIngester creates an Ingester.
func NewIngester(
	sources repository.EpgSourceRepository,
	epgChannels repository.EpgChannelRepository,
	programs repository.EpgProgramRepository,
	client *httpclient.Client,
	epgCache *cache.Cache,
	logger *slog.Logger,
) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &Ingester{
		sources:     sources,
		epgChannels: epgChannels,
		programs:    programs,
		client:      client,
		cache:       epgCache,
		logger:      logger,
	}
}

// Refresh runs a full refresh for the source. Disabled sources are a
// no-op. When force is false (scheduled refresh) failures are logged and
// swallowed so one broken feed never takes down the scheduler; when force
// is true (manual refresh) the error propagates to the caller.
func (i *Ingester) Refresh(ctx context.Context, sourceID models.ULID, force bool) error {
	err := i.refresh(ctx, sourceID)
	if err != nil && !force {
		i.logger.Error("scheduled EPG refresh failed",
			slog.String("source_id", sourceID.String()),
			slog.String("error", err.Error()))
		return nil
	}
	return err
}

func (i *Ingester) refresh(ctx context.Context, sourceID models.ULID) error {
	source, err := i.sources.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: EPG source %s", models.ErrNotFound, sourceID)
	}
	if !source.IsEnabled() {
		i.logger.Debug("skipping refresh of disabled EPG source", slog.String("source", source.Name))
		return nil
	}

	if !i.acquire(sourceID) {
		return fmt.Errorf("%w: source %s", models.ErrRefreshInProgress, source.Name)
	}
	defer i.release(sourceID)

	start := time.Now()
	if err := i.sources.MarkRefreshStarted(ctx, sourceID, start); err != nil {
		return err
	}

	i.logger.Info("starting EPG refresh",
		slog.String("source", source.Name),
		slog.String("url", source.URL))

	refreshErr := i.ingest(ctx, source)
	if markErr := i.sources.MarkRefreshResult(ctx, sourceID, time.Now(), refreshErr); markErr != nil {
		i.logger.Error("failed to record refresh result",
			slog.String("source", source.Name),
			slog.String("error", markErr.Error()))
	}

	if refreshErr != nil {
		return refreshErr
	}

	if i.cache != nil {
		if err := i.cache.InvalidatePrefix(cache.PrefixEPG); err != nil {
			i.logger.Warn("failed to invalidate EPG cache", slog.String("error", err.Error()))
		}
	}

	i.logger.Info("EPG refresh completed",
		slog.String("source", source.Name),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (i *Ingester) acquire(id models.ULID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inFlight == nil {
		i.inFlight = make(map[models.ULID]struct{})
	}
	if _, running := i.inFlight[id]; running {
		return false
	}
	i.inFlight[id] = struct{}{}
	return true
}

func (i *Ingester) release(id models.ULID) {
	i.mu.Lock()
	delete(i.inFlight, id)
	i.mu.Unlock()
}

// ingest performs the download/parse/store/verify cycle. Errors carry the
// categorized prefix recorded as the source's last_error.
func (i *Ingester) ingest(ctx context.Context, source *models.EpgSource) error {
	data, err := i.download(ctx, source.URL)
	if err != nil {
		return fmt.Errorf("Download failed: %w", err)
	}

	if err := validateDocument(data); err != nil {
		return fmt.Errorf("Parse failed: %w", err)
	}

	channels, programs, err := i.parse(source, data)
	if err != nil {
		return fmt.Errorf("Parse failed: %w", err)
	}

	trimmed := trimOverlaps(programs)
	if dropped := len(programs) - len(trimmed); dropped > 0 {
		i.logger.Debug("dropped programs superseded by overlapping entries",
			slog.String("source", source.Name),
			slog.Int("dropped", dropped))
	}

	if err := i.store(ctx, source, channels, trimmed); err != nil {
		return fmt.Errorf("Storage failed: %w", err)
	}
	return nil
}

// download fetches and decompresses the document into memory. The HTTP
// client enforces the size cap; magic-byte sniffing handles feeds that
// compress without saying so.
func (i *Ingester) download(ctx context.Context, url string) ([]byte, error) {
	body, err := i.client.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer body.Close()

	reader, err := xmltv.DecompressReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading document: %v", models.ErrUpstream, err)
	}
	return data, nil
}

// validateDocument rejects bodies that are not XMLTV before the expensive
// parse: error pages served with a 200 are common.
func validateDocument(data []byte) error {
	doc := string(data)
	if !strings.Contains(doc, "<tv") {
		return fmt.Errorf("%w: document has no <tv> element", models.ErrParse)
	}
	if !strings.Contains(doc, "<programme") && !strings.Contains(doc, "<channel") {
		return fmt.Errorf("%w: document has no channels or programmes", models.ErrParse)
	}
	return nil
}

// parse runs the streaming parser and maps feed entries to models.
func (i *Ingester) parse(source *models.EpgSource, data []byte) ([]*models.EpgChannel, []*models.EpgProgram, error) {
	var (
		channels  []*models.EpgChannel
		programs  []*models.EpgProgram
		parseErrs int
	)

	categoryOverride := strings.TrimSpace(source.Category)
	secondary := source.SecondaryGenreList()

	p := &xmltv.Parser{
		OnChannel: func(ch *xmltv.Channel) error {
			if ch.ID == "" {
				return nil
			}
			channels = append(channels, &models.EpgChannel{
				SourceID:    source.ID,
				EpgID:       ch.ID,
				DisplayName: ch.DisplayName,
				IconURL:     ch.Icon,
			})
			return nil
		},
		OnProgramme: func(prog *xmltv.Programme) error {
			programs = append(programs, mapProgramme(prog, categoryOverride, secondary))
			return nil
		},
		OnError: func(err error) {
			parseErrs++
			if parseErrs <= 10 {
				i.logger.Debug("skipping malformed guide entry", slog.String("error", err.Error()))
			}
		},
	}

	if err := p.Parse(bytes.NewReader(data)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	if parseErrs > 0 {
		i.logger.Warn("guide entries skipped during parse",
			slog.String("source", source.Name),
			slog.Int("skipped", parseErrs))
	}
	return channels, programs, nil
}

// trimOverlaps sorts programs per channel and clamps each entry's stop
// to the next entry's start. Feeds routinely publish sloppy boundaries;
// stored intervals on one channel must not overlap. For entries sharing
// a start, the later one in feed order wins, matching the upsert's
// conflict rule.
func trimOverlaps(programs []*models.EpgProgram) []*models.EpgProgram {
	sort.SliceStable(programs, func(a, b int) bool {
		if programs[a].ChannelKey != programs[b].ChannelKey {
			return programs[a].ChannelKey < programs[b].ChannelKey
		}
		return programs[a].Start.Before(programs[b].Start)
	})

	out := programs[:0:0]
	for _, p := range programs {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if prev.ChannelKey == p.ChannelKey {
				if !p.Start.After(prev.Start) {
					out[len(out)-1] = p
					continue
				}
				if prev.Stop.After(p.Start) {
					prev.Stop = p.Start
				}
			}
		}
		out = append(out, p)
	}
	return out
}

// mapProgramme converts a parsed programme into the storage model,
// applying the source's category overrides.
func mapProgramme(prog *xmltv.Programme, categoryOverride string, secondaryGenres []string) *models.EpgProgram {
	primary := categoryOverride
	if primary == "" && len(prog.Categories) > 0 {
		primary = prog.Categories[0]
	}
	secondary := ""
	if len(secondaryGenres) > 0 {
		secondary = secondaryGenres[0]
	} else if len(prog.Categories) > 1 {
		secondary = prog.Categories[1]
	}

	p := &models.EpgProgram{
		ChannelKey:        prog.Channel,
		Start:             prog.Start.UTC(),
		Stop:              prog.Stop.UTC(),
		Title:             prog.Title,
		SubTitle:          prog.SubTitle,
		Description:       prog.Description,
		Category:          primary,
		SecondaryCategory: secondary,
		Year:              prog.Year,
		Country:           prog.Country,
		IconURL:           prog.Icon,
		EpisodeNumber:     prog.EpisodeNumber,
		SeasonNumber:      prog.SeasonNumber,
		SeriesID:          prog.SeriesID,
		Rating:            prog.Rating,
		AudioDescription:  prog.AudioDescription,
		Subtitles:         prog.Subtitles,
		HD:                prog.HD,
		Premiere:          prog.Premiere,
		Finale:            prog.Finale,
		Live:              prog.Live,
		NewEpisode:        prog.New,
	}
	p.SetKeywords(prog.Keywords)
	p.Normalize()
	return p
}

// store writes channels and programs, tolerating per-row failures up to
// the configured thresholds, then verifies the result.
func (i *Ingester) store(ctx context.Context, source *models.EpgSource, channels []*models.EpgChannel, programs []*models.EpgProgram) error {
	before, err := i.programs.Count(ctx)
	if err != nil {
		return err
	}

	if err := i.epgChannels.ReplaceForSource(ctx, source.ID, channels); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(programs))
	keys := make([]string, 0, len(programs))
	for _, p := range programs {
		if _, ok := seen[p.ChannelKey]; ok {
			continue
		}
		seen[p.ChannelKey] = struct{}{}
		keys = append(keys, p.ChannelKey)
	}
	if len(keys) > 0 {
		purged, err := i.programs.DeleteByChannelKeysBefore(ctx, keys, time.Now().Add(-programRetention))
		if err != nil {
			return err
		}
		if purged > 0 {
			i.logger.Debug("purged stale programs", slog.Int64("rows", purged))
		}
	}

	succeeded, failed := i.upsertPrograms(ctx, programs)

	parsed := len(programs)
	if parsed > 0 {
		if failed > failureBudget(parsed) {
			return fmt.Errorf("%w: %d of %d program rows failed", models.ErrStorage, failed, parsed)
		}
		if succeeded < minSuccess(parsed) {
			return fmt.Errorf("%w: only %d of %d program rows stored", models.ErrStorage, succeeded, parsed)
		}
	}

	after, err := i.programs.Count(ctx)
	if err != nil {
		return err
	}
	if parsed > 0 && !(after > 0 && (after > before || succeeded > 0)) {
		return fmt.Errorf("%w: verification failed, %d rows before and %d after", models.ErrStorage, before, after)
	}

	i.logger.Info("stored guide data",
		slog.String("source", source.Name),
		slog.Int("channels", len(channels)),
		slog.String("programs", format.Count(int64(succeeded), "program")),
		slog.Int("failed_rows", failed))
	return nil
}

// upsertPrograms writes programs in batches of 500, falling back to
// per-row writes when a batch fails so one bad row cannot sink its
// neighbors.
func (i *Ingester) upsertPrograms(ctx context.Context, programs []*models.EpgProgram) (succeeded, failed int) {
	valid := programs[:0:0]
	for _, p := range programs {
		if err := p.Validate(); err != nil {
			failed++
			continue
		}
		valid = append(valid, p)
	}

	const batchSize = 500
	for start := 0; start < len(valid); start += batchSize {
		end := min(start+batchSize, len(valid))
		batch := valid[start:end]

		if err := i.programs.UpsertBatch(ctx, batch); err == nil {
			succeeded += len(batch)
			continue
		}

		for _, p := range batch {
			if err := i.programs.UpsertBatch(ctx, []*models.EpgProgram{p}); err != nil {
				failed++
				continue
			}
			succeeded++
		}
	}
	return succeeded, failed
}

// failureBudget returns the number of failed rows tolerated for a parse
// of the given size. Bigger feeds carry more junk, so the tolerance
// scales up.
func failureBudget(parsed int) int {
	switch {
	case parsed > 10000:
		return parsed * 40 / 100
	case parsed > 5000:
		return parsed * 30 / 100
	default:
		return parsed * 15 / 100
	}
}

// minSuccess returns the minimum stored-row count for a refresh to
// verify, clamped so small feeds can still pass.
func minSuccess(parsed int) int {
	return min(parsed, max(50, parsed*5/100))
}
