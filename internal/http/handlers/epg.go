package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
)

// androidClientPattern matches guide consumers running on Android, which
// struggle with multi-day XMLTV documents.
var androidClientPattern = regexp.MustCompile(`(?i)android|dalvik|okhttp|exoplayer`)

// defaultAndroidProgramCap bounds per-channel listings for Android
// clients on top of the reduced day window.
const defaultAndroidProgramCap = 200

// GuideConfig holds the guide window settings.
type GuideConfig struct {
	// GuideDays is the default XMLTV window.
	GuideDays int
	// AndroidGuideDays is the reduced window for Android clients.
	AndroidGuideDays int
	// AndroidProgramCap caps per-channel listings for Android clients.
	AndroidProgramCap int
}

// GuideHandler serves the guide: XMLTV documents over raw chi and the
// JSON guide API over huma.
type GuideHandler struct {
	guide  *epg.Guide
	query  *epg.Query
	cfg    GuideConfig
	logger *slog.Logger
}

// NewGuideHandler creates a GuideHandler.
func NewGuideHandler(guide *epg.Guide, query *epg.Query, cfg GuideConfig, logger *slog.Logger) *GuideHandler {
	if cfg.GuideDays <= 0 {
		cfg.GuideDays = epg.DefaultGuideDays
	}
	if cfg.AndroidGuideDays <= 0 {
		cfg.AndroidGuideDays = epg.AndroidGuideDays
	}
	if cfg.AndroidProgramCap <= 0 {
		cfg.AndroidProgramCap = defaultAndroidProgramCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuideHandler{guide: guide, query: query, cfg: cfg, logger: logger}
}

// Routes mounts the XMLTV endpoints on a chi router. These bypass huma:
// the response is a streamed XML document, not a JSON schema.
func (h *GuideHandler) Routes(r chi.Router) {
	r.Get("/epg/xmltv.xml", h.HandleXMLTV)
	r.Get("/epg/xmltv/{channelID}", h.HandleXMLTV)
}

// HandleXMLTV serves the guide document, optionally scoped to one
// channel via the path or shrunk via ?days=N.
func (h *GuideHandler) HandleXMLTV(w http.ResponseWriter, r *http.Request) {
	opts := epg.GuideOptions{
		Days:      h.cfg.GuideDays,
		ChannelID: chi.URLParam(r, "channelID"),
	}

	if days, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && days > 0 {
		opts.Days = min(days, h.cfg.GuideDays)
	}
	if androidClientPattern.MatchString(r.UserAgent()) {
		opts.Days = min(opts.Days, h.cfg.AndroidGuideDays)
		opts.MaxProgramsPerChannel = h.cfg.AndroidProgramCap
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := h.guide.WriteXMLTV(r.Context(), w, opts); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "channel not found")
			return
		}
		// Headers may already be sent; log and give up on the body.
		h.logger.Error("writing XMLTV guide", slog.String("error", err.Error()))
	}
}

// Register registers the JSON guide operations.
func (h *GuideHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEpgJSON",
		Method:      http.MethodGet,
		Path:        "/epg/json/{channelID}",
		Summary:     "Channel guide as JSON",
		Tags:        []string{"EPG"},
	}, h.GetChannelGuide)

	huma.Register(api, huma.Operation{
		OperationID: "getEpgNow",
		Method:      http.MethodGet,
		Path:        "/epg/now/{channelID}",
		Summary:     "Program currently on air",
		Tags:        []string{"EPG"},
	}, h.GetNow)

	huma.Register(api, huma.Operation{
		OperationID: "getEpgNext",
		Method:      http.MethodGet,
		Path:        "/epg/next/{channelID}",
		Summary:     "Next program",
		Tags:        []string{"EPG"},
	}, h.GetNext)

	huma.Register(api, huma.Operation{
		OperationID: "getEpgGrid",
		Method:      http.MethodGet,
		Path:        "/epg/grid",
		Summary:     "Guide grid for a set of channels",
		Tags:        []string{"EPG"},
	}, h.GetGrid)

	huma.Register(api, huma.Operation{
		OperationID: "searchEpg",
		Method:      http.MethodGet,
		Path:        "/epg/search",
		Summary:     "Search programs by title or description",
		Tags:        []string{"EPG"},
	}, h.Search)
}

// ChannelGuideInput selects a channel window.
type ChannelGuideInput struct {
	ChannelID string `path:"channelID" doc:"Channel UUID or epg_id"`
	Days      int    `query:"days" default:"1" minimum:"1" maximum:"14"`
}

// ChannelGuideOutput is the JSON guide for one channel.
type ChannelGuideOutput struct {
	Body struct {
		ChannelID string            `json:"channel_id"`
		Programs  []ProgramResponse `json:"programs"`
	}
}

// GetChannelGuide returns the channel's listings for the coming days.
func (h *GuideHandler) GetChannelGuide(ctx context.Context, input *ChannelGuideInput) (*ChannelGuideOutput, error) {
	now := time.Now()
	programs, err := h.query.Range(ctx, input.ChannelID, now.Add(-time.Hour),
		now.Add(time.Duration(input.Days)*24*time.Hour))
	if err != nil {
		return nil, guideError(err, input.ChannelID)
	}

	resp := &ChannelGuideOutput{}
	resp.Body.ChannelID = input.ChannelID
	resp.Body.Programs = ProgramsFromModels(programs)
	return resp, nil
}

// NowNextInput selects a channel.
type NowNextInput struct {
	ChannelID string `path:"channelID" doc:"Channel UUID or epg_id"`
}

// ProgramOutput wraps a single program.
type ProgramOutput struct {
	Body ProgramResponse
}

// GetNow returns the program on air, synthesized when the guide is empty.
func (h *GuideHandler) GetNow(ctx context.Context, input *NowNextInput) (*ProgramOutput, error) {
	prog, err := h.query.Current(ctx, input.ChannelID)
	if err != nil {
		return nil, guideError(err, input.ChannelID)
	}
	return &ProgramOutput{Body: ProgramFromModel(prog)}, nil
}

// GetNext returns the next scheduled program.
func (h *GuideHandler) GetNext(ctx context.Context, input *NowNextInput) (*ProgramOutput, error) {
	prog, err := h.query.Next(ctx, input.ChannelID)
	if err != nil {
		return nil, guideError(err, input.ChannelID)
	}
	if prog == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no upcoming program for channel %s", input.ChannelID))
	}
	return &ProgramOutput{Body: ProgramFromModel(prog)}, nil
}

// GridInput selects a window over a set of channels.
type GridInput struct {
	Channels string    `query:"channels" doc:"Comma-separated channel keys"`
	Start    time.Time `query:"start" doc:"Window start (RFC3339); defaults to now"`
	End      time.Time `query:"end" doc:"Window end (RFC3339); defaults to start+6h"`
}

// GridOutput is the grid response.
type GridOutput struct {
	Body struct {
		Start    time.Time         `json:"start"`
		End      time.Time         `json:"end"`
		Programs []ProgramResponse `json:"programs"`
	}
}

// GetGrid returns programs for the requested channels and window.
func (h *GuideHandler) GetGrid(ctx context.Context, input *GridInput) (*GridOutput, error) {
	keys := splitCSV(input.Channels)
	if len(keys) == 0 {
		return nil, huma.Error422UnprocessableEntity("channels parameter is required")
	}

	start := input.Start
	if start.IsZero() {
		start = time.Now()
	}
	end := input.End
	if end.IsZero() {
		end = start.Add(6 * time.Hour)
	}
	if !end.After(start) {
		return nil, huma.Error422UnprocessableEntity("end must be after start")
	}

	programs, err := h.query.Grid(ctx, keys, start, end)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading guide grid", err)
	}

	resp := &GridOutput{}
	resp.Body.Start = start
	resp.Body.End = end
	resp.Body.Programs = ProgramsFromModels(programs)
	return resp, nil
}

// SearchInput is a guide search.
type SearchInput struct {
	Query string `query:"q" minLength:"2" doc:"Search text"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
}

// SearchOutput is the search result list.
type SearchOutput struct {
	Body struct {
		Programs []ProgramResponse `json:"programs"`
	}
}

// Search returns programs matching the query by title or description.
func (h *GuideHandler) Search(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	programs, err := h.query.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("searching guide", err)
	}

	resp := &SearchOutput{}
	resp.Body.Programs = ProgramsFromModels(programs)
	return resp, nil
}

// guideError maps guide lookup failures onto API errors.
func guideError(err error, channelID string) error {
	if errors.Is(err, models.ErrNotFound) {
		return huma.Error404NotFound(fmt.Sprintf("channel %s not found", channelID))
	}
	return huma.Error500InternalServerError("guide lookup failed", err)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeJSONError writes a JSON error body for the raw chi endpoints.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
