package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// EpgSourceHandler manages EPG sources and the refresh machinery behind
// them.
type EpgSourceHandler struct {
	sources     repository.EpgSourceRepository
	epgChannels repository.EpgChannelRepository
	programs    repository.EpgProgramRepository
	channels    repository.ChannelRepository
	ingester    *epg.Ingester
	scheduler   *epg.Scheduler
	logger      *slog.Logger
}

// NewEpgSourceHandler creates an EpgSourceHandler.
func NewEpgSourceHandler(
	sources repository.EpgSourceRepository,
	epgChannels repository.EpgChannelRepository,
	programs repository.EpgProgramRepository,
	channels repository.ChannelRepository,
	ingester *epg.Ingester,
	scheduler *epg.Scheduler,
	logger *slog.Logger,
) *EpgSourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EpgSourceHandler{
		sources:     sources,
		epgChannels: epgChannels,
		programs:    programs,
		channels:    channels,
		ingester:    ingester,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// Register registers the source management operations.
func (h *EpgSourceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEpgSources",
		Method:      http.MethodGet,
		Path:        "/epg-sources",
		Summary:     "List EPG sources",
		Tags:        []string{"EPG Sources"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getEpgSource",
		Method:      http.MethodGet,
		Path:        "/epg-sources/{id}",
		Summary:     "Get an EPG source",
		Tags:        []string{"EPG Sources"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "createEpgSource",
		Method:        http.MethodPost,
		Path:          "/epg-sources",
		Summary:       "Create an EPG source",
		Tags:          []string{"EPG Sources"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateEpgSource",
		Method:      http.MethodPut,
		Path:        "/epg-sources/{id}",
		Summary:     "Update an EPG source",
		Tags:        []string{"EPG Sources"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteEpgSource",
		Method:        http.MethodDelete,
		Path:          "/epg-sources/{id}",
		Summary:       "Delete an EPG source and its guide data",
		Tags:          []string{"EPG Sources"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "forceRefreshEpgSource",
		Method:      http.MethodPost,
		Path:        "/epg/force-refresh/{id}",
		Summary:     "Refresh an EPG source now",
		Description: "Runs a full refresh synchronously and reports the outcome.",
		Tags:        []string{"EPG Sources"},
	}, h.ForceRefresh)

	huma.Register(api, huma.Operation{
		OperationID: "listEpgJobs",
		Method:      http.MethodGet,
		Path:        "/epg/debug/jobs",
		Summary:     "Scheduled refresh jobs",
		Tags:        []string{"EPG Debug"},
	}, h.Jobs)

	huma.Register(api, huma.Operation{
		OperationID: "diagnoseEpg",
		Method:      http.MethodGet,
		Path:        "/epg/debug/diagnose",
		Summary:     "Guide data diagnosis",
		Tags:        []string{"EPG Debug"},
	}, h.Diagnose)

	huma.Register(api, huma.Operation{
		OperationID: "diagnoseEpgSource",
		Method:      http.MethodGet,
		Path:        "/epg/debug/diagnose/{id}",
		Summary:     "Guide data diagnosis for one source",
		Tags:        []string{"EPG Debug"},
	}, h.DiagnoseSource)
}

// ListEpgSourcesOutput lists sources.
type ListEpgSourcesOutput struct {
	Body struct {
		Sources []EpgSourceResponse `json:"sources"`
	}
}

// List returns all EPG sources.
func (h *EpgSourceHandler) List(ctx context.Context, _ *struct{}) (*ListEpgSourcesOutput, error) {
	sources, err := h.sources.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing EPG sources", err)
	}

	resp := &ListEpgSourcesOutput{}
	resp.Body.Sources = make([]EpgSourceResponse, 0, len(sources))
	for _, s := range sources {
		resp.Body.Sources = append(resp.Body.Sources, EpgSourceFromModel(s))
	}
	return resp, nil
}

// EpgSourceIDInput selects a source by ULID.
type EpgSourceIDInput struct {
	ID string `path:"id" doc:"EPG source ID (ULID)"`
}

// EpgSourceOutput wraps one source.
type EpgSourceOutput struct {
	Body EpgSourceResponse
}

// Get returns one EPG source.
func (h *EpgSourceHandler) Get(ctx context.Context, input *EpgSourceIDInput) (*EpgSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &EpgSourceOutput{Body: EpgSourceFromModel(source)}, nil
}

// EpgSourceBody is the writable part of a source.
type EpgSourceBody struct {
	Name            string   `json:"name" minLength:"1" maxLength:"255"`
	URL             string   `json:"url" format:"uri" doc:"XMLTV document URL, possibly compressed"`
	RefreshInterval string   `json:"refresh_interval,omitempty" doc:"Interval like 4h, 30m, 1d"`
	Enabled         *bool    `json:"enabled,omitempty"`
	Category        string   `json:"category,omitempty" doc:"Override primary category for all programs"`
	SecondaryGenres []string `json:"secondary_genres,omitempty"`
}

// CreateEpgSourceInput creates a source.
type CreateEpgSourceInput struct {
	Body EpgSourceBody
}

// Create creates a source and schedules its refreshes.
func (h *EpgSourceHandler) Create(ctx context.Context, input *CreateEpgSourceInput) (*EpgSourceOutput, error) {
	source := &models.EpgSource{
		Name:     input.Body.Name,
		URL:      input.Body.URL,
		Enabled:  input.Body.Enabled,
		Category: input.Body.Category,
	}
	source.SetSecondaryGenres(input.Body.SecondaryGenres)

	if input.Body.RefreshInterval != "" {
		if _, err := epg.ParseInterval(input.Body.RefreshInterval); err != nil {
			return nil, huma.Error422UnprocessableEntity(
				fmt.Sprintf("invalid refresh_interval %q", input.Body.RefreshInterval))
		}
		source.RefreshInterval = input.Body.RefreshInterval
	}

	if err := h.sources.Create(ctx, source); err != nil {
		return nil, huma.Error500InternalServerError("creating EPG source", err)
	}
	h.reschedule(source)

	return &EpgSourceOutput{Body: EpgSourceFromModel(source)}, nil
}

// UpdateEpgSourceInput updates a source.
type UpdateEpgSourceInput struct {
	ID   string `path:"id" doc:"EPG source ID (ULID)"`
	Body EpgSourceBody
}

// Update updates a source and reschedules it.
func (h *EpgSourceHandler) Update(ctx context.Context, input *UpdateEpgSourceInput) (*EpgSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	source.Name = input.Body.Name
	source.URL = input.Body.URL
	source.Category = input.Body.Category
	source.SetSecondaryGenres(input.Body.SecondaryGenres)
	if input.Body.Enabled != nil {
		source.Enabled = input.Body.Enabled
	}
	if input.Body.RefreshInterval != "" {
		if _, err := epg.ParseInterval(input.Body.RefreshInterval); err != nil {
			return nil, huma.Error422UnprocessableEntity(
				fmt.Sprintf("invalid refresh_interval %q", input.Body.RefreshInterval))
		}
		source.RefreshInterval = input.Body.RefreshInterval
	}

	if err := h.sources.Update(ctx, source); err != nil {
		return nil, huma.Error500InternalServerError("updating EPG source", err)
	}
	h.reschedule(source)

	return &EpgSourceOutput{Body: EpgSourceFromModel(source)}, nil
}

// Delete removes a source, its schedule, and its guide rows.
func (h *EpgSourceHandler) Delete(ctx context.Context, input *EpgSourceIDInput) (*struct{}, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	// Purge program rows under this source's channel keys before the
	// channel records go away with the source.
	channels, err := h.epgChannels.GetBySourceID(ctx, source.ID)
	if err == nil && len(channels) > 0 {
		keys := make([]string, 0, len(channels))
		for _, ch := range channels {
			keys = append(keys, ch.EpgID)
		}
		if _, err := h.programs.DeleteByChannelKeysBefore(ctx, keys, farFuture()); err != nil {
			h.logger.Warn("failed to purge programs for deleted source",
				slog.String("source", source.Name),
				slog.String("error", err.Error()))
		}
	}

	if err := h.sources.Delete(ctx, source.ID); err != nil {
		return nil, huma.Error500InternalServerError("deleting EPG source", err)
	}
	if h.scheduler != nil {
		h.scheduler.Unschedule(source.ID)
	}
	return nil, nil
}

// ForceRefreshOutput reports a completed manual refresh.
type ForceRefreshOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ForceRefresh runs a refresh synchronously. A refresh already running
// for the source is a conflict, and feed failures surface to the caller
// instead of being swallowed like scheduled runs.
func (h *EpgSourceHandler) ForceRefresh(ctx context.Context, input *EpgSourceIDInput) (*ForceRefreshOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("EPG source %s not found", input.ID))
	}

	switch err := h.ingester.Refresh(ctx, id, true); {
	case err == nil:
	case errors.Is(err, models.ErrNotFound):
		return nil, huma.Error404NotFound(fmt.Sprintf("EPG source %s not found", input.ID))
	case errors.Is(err, models.ErrRefreshInProgress):
		return nil, huma.Error409Conflict("refresh already running for this source")
	case errors.Is(err, models.ErrUpstream):
		return nil, huma.Error502BadGateway("guide download failed", err)
	default:
		return nil, huma.Error500InternalServerError("refresh failed", err)
	}

	resp := &ForceRefreshOutput{}
	resp.Body.Status = "refreshed"
	return resp, nil
}

// JobsOutput lists scheduled refresh jobs.
type JobsOutput struct {
	Body struct {
		Jobs []epg.JobInfo `json:"jobs"`
	}
}

// Jobs returns the scheduler's job snapshot.
func (h *EpgSourceHandler) Jobs(_ context.Context, _ *struct{}) (*JobsOutput, error) {
	resp := &JobsOutput{}
	if h.scheduler != nil {
		resp.Body.Jobs = h.scheduler.Jobs()
	}
	if resp.Body.Jobs == nil {
		resp.Body.Jobs = []epg.JobInfo{}
	}
	return resp, nil
}

// SourceDiagnosis describes guide data health for one source.
type SourceDiagnosis struct {
	SourceID    string     `json:"source_id"`
	SourceName  string     `json:"source_name"`
	Enabled     bool       `json:"enabled"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	EpgChannels int64      `json:"epg_channels"`
	MappedKeys  int        `json:"mapped_keys" doc:"Feed channels referenced by a lineup channel"`
	ProgramRows int64      `json:"program_rows"`
}

// DiagnoseOutput is the full diagnosis.
type DiagnoseOutput struct {
	Body struct {
		Sources         []SourceDiagnosis `json:"sources"`
		TotalPrograms   int64             `json:"total_programs"`
		OrphanedKeys    []string          `json:"orphaned_keys,omitempty" doc:"Program channel_keys with no matching feed channel or lineup epg_id"`
		UUIDKeyed       []string          `json:"uuid_keyed,omitempty" doc:"Program channel_keys that are internal channel UUIDs"`
		LineupUnmatched []string          `json:"lineup_unmatched,omitempty" doc:"Lineup channels whose guide key has no program rows"`
	}
}

// Diagnose reports guide coverage for all sources.
func (h *EpgSourceHandler) Diagnose(ctx context.Context, _ *struct{}) (*DiagnoseOutput, error) {
	sources, err := h.sources.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing EPG sources", err)
	}
	return h.diagnose(ctx, sources)
}

// DiagnoseSource reports guide coverage for one source.
func (h *EpgSourceHandler) DiagnoseSource(ctx context.Context, input *EpgSourceIDInput) (*DiagnoseOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return h.diagnose(ctx, []*models.EpgSource{source})
}

func (h *EpgSourceHandler) diagnose(ctx context.Context, sources []*models.EpgSource) (*DiagnoseOutput, error) {
	rowsByKey, err := h.programs.CountByChannel(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting programs", err)
	}

	lineup, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading channels", err)
	}
	lineupKeys := make(map[string]string, len(lineup))
	for _, ch := range lineup {
		lineupKeys[ch.GuideChannelID()] = ch.Name
	}

	resp := &DiagnoseOutput{}
	for _, key := range sortedKeys(rowsByKey) {
		resp.Body.TotalPrograms += rowsByKey[key]
	}

	knownKeys := make(map[string]struct{})
	for _, source := range sources {
		diag := SourceDiagnosis{
			SourceID:    source.ID.String(),
			SourceName:  source.Name,
			Enabled:     source.IsEnabled(),
			LastSuccess: source.LastSuccess,
			LastError:   source.LastError,
		}

		channels, err := h.epgChannels.GetBySourceID(ctx, source.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("loading feed channels", err)
		}
		diag.EpgChannels = int64(len(channels))
		for _, ch := range channels {
			knownKeys[ch.EpgID] = struct{}{}
			diag.ProgramRows += rowsByKey[ch.EpgID]
			if _, ok := lineupKeys[ch.EpgID]; ok {
				diag.MappedKeys++
			}
		}

		resp.Body.Sources = append(resp.Body.Sources, diag)
	}

	// Keys with program rows that no feed channel or lineup channel
	// claims, and rows still keyed by internal channel UUIDs.
	for _, key := range sortedKeys(rowsByKey) {
		_, known := knownKeys[key]
		_, inLineup := lineupKeys[key]
		if models.IsUUID(key) {
			resp.Body.UUIDKeyed = append(resp.Body.UUIDKeyed, key)
			continue
		}
		if !known && !inLineup {
			resp.Body.OrphanedKeys = append(resp.Body.OrphanedKeys, key)
		}
	}

	for _, ch := range lineup {
		if rowsByKey[ch.GuideChannelID()] == 0 {
			resp.Body.LineupUnmatched = append(resp.Body.LineupUnmatched, ch.Name)
		}
	}
	return resp, nil
}

// loadSource resolves a ULID path parameter to a stored source.
func (h *EpgSourceHandler) loadSource(ctx context.Context, rawID string) (*models.EpgSource, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("EPG source %s not found", rawID))
	}
	source, err := h.sources.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading EPG source", err)
	}
	if source == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("EPG source %s not found", rawID))
	}
	return source, nil
}

func (h *EpgSourceHandler) reschedule(source *models.EpgSource) {
	if h.scheduler == nil {
		return
	}
	if err := h.scheduler.Reschedule(source); err != nil {
		h.logger.Warn("failed to reschedule EPG source",
			slog.String("source", source.Name),
			slog.String("error", err.Error()))
	}
}

func farFuture() time.Time {
	return time.Now().Add(100 * 365 * 24 * time.Hour)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
