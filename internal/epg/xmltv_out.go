package epg

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

// Guide output defaults.
const (
	DefaultGuideDays = 7
	// AndroidGuideDays is the reduced window for Android-based clients,
	// which choke on large guide documents.
	AndroidGuideDays = 2

	fallbackSlot = time.Hour

	// fallbackContentType marks synthesized entries as episodes for
	// restrictive clients. Some expect 5 (live TV) instead; the option
	// overrides it.
	fallbackContentType = 4

	generatorName = "plexbridge"
)

// GuideOptions shapes one XMLTV rendering.
type GuideOptions struct {
	// Days is the guide window from now. Zero means DefaultGuideDays.
	Days int
	// ChannelID restricts output to a single channel (UUID or epg_id).
	ChannelID string
	// MaxProgramsPerChannel caps listings per channel. Zero means no cap.
	MaxProgramsPerChannel int
	// Location is the timezone programme stamps are rendered in.
	// Defaults to the process locale.
	Location *time.Location
	// FallbackContentType overrides the numeric content-type on
	// synthesized entries. Zero means the default.
	FallbackContentType int
}

// Guide renders the XMLTV document served to Plex and other guide
// consumers.
type Guide struct {
	channels repository.ChannelRepository
	query    *Query
	logger   *slog.Logger

	now func() time.Time
}

// NewGuide creates a Guide.
func NewGuide(channels repository.ChannelRepository, query *Query, logger *slog.Logger) *Guide {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guide{
		channels: channels,
		query:    query,
		logger:   logger,
		now:      time.Now,
	}
}

// WriteXMLTV streams the guide document. Channels with no stored
// listings get a deterministic fallback grid so clients that refuse
// empty guides still enumerate the lineup.
func (g *Guide) WriteXMLTV(ctx context.Context, w io.Writer, opts GuideOptions) error {
	days := opts.Days
	if days <= 0 {
		days = DefaultGuideDays
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	contentType := opts.FallbackContentType
	if contentType == 0 {
		contentType = fallbackContentType
	}

	channels, err := g.lineup(ctx, opts.ChannelID)
	if err != nil {
		return err
	}

	now := g.now()
	from := now.Add(-fallbackSlot)
	to := now.Add(time.Duration(days) * 24 * time.Hour)

	keys := make([]string, 0, len(channels))
	for _, ch := range channels {
		keys = append(keys, ch.GuideChannelID())
	}

	byKey := make(map[string][]*models.EpgProgram)
	if len(keys) > 0 {
		programs, err := g.query.Grid(ctx, keys, from, to)
		if err != nil {
			return err
		}
		for _, p := range programs {
			byKey[p.ChannelKey] = append(byKey[p.ChannelKey], p)
		}
	}

	writer := xmltv.NewWriter(w, generatorName)
	if err := writer.WriteHeader(); err != nil {
		return err
	}

	for _, ch := range channels {
		out := &xmltv.OutChannel{
			ID:     ch.GuideChannelID(),
			Name:   ch.Name,
			Number: ch.Number,
			Icon:   ch.Logo,
		}
		if err := writer.WriteChannel(out); err != nil {
			return err
		}
	}

	for _, ch := range channels {
		key := ch.GuideChannelID()
		programs := byKey[key]
		if len(programs) == 0 {
			g.logger.Debug("no listings for channel, synthesizing fallback grid",
				slog.String("channel", ch.Name))
			programs = g.fallbackGrid(ch, now, days)
		}
		if opts.MaxProgramsPerChannel > 0 && len(programs) > opts.MaxProgramsPerChannel {
			programs = programs[:opts.MaxProgramsPerChannel]
		}

		for _, p := range programs {
			if err := writer.WriteProgramme(outProgramme(p, key, loc, contentType)); err != nil {
				return err
			}
		}
	}

	return writer.WriteFooter()
}

// lineup returns the channels to render: the enabled lineup, or the one
// requested channel.
func (g *Guide) lineup(ctx context.Context, channelID string) ([]*models.Channel, error) {
	if channelID == "" {
		return g.channels.GetEnabledWithStreams(ctx)
	}
	ch, _, err := g.query.Resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return []*models.Channel{ch}, nil
}

// fallbackGrid synthesizes hour-long slots covering the guide window.
// The grid is deterministic for a given hour so repeated fetches agree.
func (g *Guide) fallbackGrid(ch *models.Channel, now time.Time, days int) []*models.EpgProgram {
	start := now.UTC().Truncate(time.Hour)
	slots := days * 24

	programs := make([]*models.EpgProgram, 0, slots)
	for slot := range slots {
		slotStart := start.Add(time.Duration(slot) * fallbackSlot)
		programs = append(programs, &models.EpgProgram{
			ChannelKey:  ch.GuideChannelID(),
			Start:       slotStart,
			Stop:        slotStart.Add(fallbackSlot),
			Title:       ch.Name + " Live",
			Description: "Live programming on " + ch.Name,
			Category:    "Live TV",
			Live:        true,
		})
	}
	return programs
}

// outProgramme maps a stored program onto the writer's shape. Synthesized
// entries (recognized by the Live TV fallback category with no series
// data) carry the restrictive-client type markers.
func outProgramme(p *models.EpgProgram, channelID string, loc *time.Location, contentType int) *xmltv.OutProgramme {
	out := &xmltv.OutProgramme{
		Channel:          channelID,
		Start:            p.Start.In(loc),
		Stop:             p.Stop.In(loc),
		Title:            p.Title,
		SubTitle:         p.SubTitle,
		Description:      p.Description,
		Keywords:         p.KeywordList(),
		Year:             p.Year,
		Country:          p.Country,
		Icon:             p.IconURL,
		Rating:           p.Rating,
		SeasonNumber:     p.SeasonNumber,
		EpisodeNumber:    p.EpisodeNumber,
		SeriesID:         p.SeriesID,
		New:              p.NewEpisode,
		Premiere:         p.Premiere,
		Finale:           p.Finale,
		Live:             p.Live,
		HD:               p.HD,
		Subtitles:        p.Subtitles,
		AudioDescription: p.AudioDescription,
	}

	if p.Description == "" {
		// Restrictive parsers reject programmes without a description.
		out.Description = p.Title
	}

	if p.Category != "" {
		out.Categories = append(out.Categories, p.Category)
	}
	if p.SecondaryCategory != "" && p.SecondaryCategory != p.Category {
		out.Categories = append(out.Categories, p.SecondaryCategory)
	}
	if len(out.Categories) == 0 {
		out.Categories = []string{"Series"}
	}

	if p.ID.IsZero() {
		// Synthesized rows never touched the store, so they have no id.
		out.TypeMarker = "clip"
		out.ContentType = contentType
	}
	return out
}
