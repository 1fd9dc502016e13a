package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// Handler serves the stream gateway endpoints.
type Handler struct {
	channels   repository.ChannelRepository
	streams    repository.StreamRepository
	manager    *Manager
	classifier *Classifier
	encoder    *Encoder
	client     *http.Client
	logger     *slog.Logger
}

// NewHandler creates the gateway handler.
func NewHandler(
	channels repository.ChannelRepository,
	streams repository.StreamRepository,
	manager *Manager,
	classifier *Classifier,
	encoder *Encoder,
	client *http.Client,
	logger *slog.Logger,
) *Handler {
	if client == nil {
		client = NewStreamingClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		channels:   channels,
		streams:    streams,
		manager:    manager,
		classifier: classifier,
		encoder:    encoder,
		client:     client,
		logger:     logger.With(slog.String("component", "gateway")),
	}
}

// Routes mounts the gateway endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stream/{channelID}", h.HandleStream)
	r.Get("/streams/active", h.HandleActive)
	r.Get("/streams/preview/{streamID}", h.HandlePreview)
}

// HandleStream plays a channel: resolve, admit, classify, relay. Streams
// are tried in insertion order; a stream that fails before the first
// byte records a failure and failover moves to the next.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	channel, err := h.channels.GetByIDOrEPGID(r.Context(), channelID)
	if err != nil {
		h.logger.Error("resolving channel", slog.String("channel_id", channelID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return
	}
	if channel == nil || !channel.IsEnabled() || channel.PrimaryStream() == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	session, err := h.manager.Admit(r.Context(), channel.ID, channel.Name, ClientInfo{
		Addr:      r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			writeError(w, http.StatusServiceUnavailable, "capacity")
			return
		}
		writeError(w, http.StatusInternalServerError, "admission failed")
		return
	}
	defer session.Release()

	// Client disconnect cancels the request context; tie the session's
	// cancellation to it so the pipeline and encoder stop too.
	go func() {
		select {
		case <-r.Context().Done():
			session.Release()
		case <-session.Context().Done():
		}
	}()

	client := DetectClient(r)
	started := false

	for i := range channel.Streams {
		stream := &channel.Streams[i]
		if !stream.IsEnabled() {
			continue
		}

		pipeline, mode, perr := h.buildPipeline(r.Context(), channel, stream, client)
		if perr != nil {
			h.recordFailure(stream)
			continue
		}

		session.SetStream(stream.ID, stream.URL, mode)

		if !started {
			w.Header().Set("Content-Type", "video/mp2t")
			w.Header().Set("Connection", "close")
			w.Header().Set("Cache-Control", "no-cache")
			started = true
		}

		before := session.BytesOut()
		err := pipeline.Run(session.Context(), session, w)
		delivered := session.BytesOut() > before

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			if delivered {
				h.recordSuccess(stream)
			}
			return
		case delivered:
			// Bytes already reached the client; failover would corrupt
			// its demuxer state. Log and end the response.
			h.recordFailure(stream)
			h.logger.Warn("stream ended mid-session",
				slog.String("session_id", session.ID.String()),
				slog.String("stream_id", stream.ID),
				slog.String("error", err.Error()))
			return
		default:
			h.recordFailure(stream)
			h.logger.Warn("stream failed before first byte, trying next",
				slog.String("session_id", session.ID.String()),
				slog.String("stream_id", stream.ID),
				slog.String("error", err.Error()))
		}
	}

	// All streams failed before any byte was delivered.
	writeError(w, http.StatusBadGateway, "all upstream streams failed")
}

func (h *Handler) buildPipeline(ctx context.Context, channel *models.Channel, stream *models.Stream, client ClientKind) (Pipeline, Mode, error) {
	mode := h.classifier.Classify(ctx, stream, client)
	switch mode {
	case ModeDirect:
		return NewDirectPipeline(h.client, stream.URL), mode, nil
	case ModeRemux:
		return NewRemuxPipeline(h.client, stream.URL), mode, nil
	default:
		profile, err := h.classifier.ProfileFor(channel, stream)
		if err != nil {
			return nil, mode, err
		}
		return NewTranscodePipeline(h.encoder, profile, stream.URL), mode, nil
	}
}

func (h *Handler) recordFailure(stream *models.Stream) {
	looping := h.classifier.RecordFailure(stream.ID)
	if looping {
		h.logger.Warn("stream failure pattern indicates looping source",
			slog.String("stream_id", stream.ID))
	}
	if err := h.streams.RecordFailure(context.Background(), stream.ID); err != nil {
		h.logger.Error("recording stream failure",
			slog.String("stream_id", stream.ID),
			slog.String("error", err.Error()))
	}
}

func (h *Handler) recordSuccess(stream *models.Stream) {
	h.classifier.ClearFailures(stream.ID)
	if err := h.streams.RecordSuccess(context.Background(), stream.ID); err != nil {
		h.logger.Error("recording stream success",
			slog.String("stream_id", stream.ID),
			slog.String("error", err.Error()))
	}
}

// HandleActive returns the active session list.
func (h *Handler) HandleActive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(h.manager.Active()); err != nil {
		h.logger.Error("encoding active sessions", slog.String("error", err.Error()))
	}
}

// HandlePreview plays a single stream for the admin UI. With
// ?transcode=true the output is fragmented MP4 so browsers can play it.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	stream, err := h.streams.GetByID(r.Context(), streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream lookup failed")
		return
	}
	if stream == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	session, err := h.manager.Admit(r.Context(), stream.ChannelID, "preview", ClientInfo{
		Addr:      r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			writeError(w, http.StatusServiceUnavailable, "capacity")
			return
		}
		writeError(w, http.StatusInternalServerError, "admission failed")
		return
	}
	defer session.Release()

	go func() {
		select {
		case <-r.Context().Done():
			session.Release()
		case <-session.Context().Done():
		}
	}()

	var pipeline Pipeline
	if r.URL.Query().Get("transcode") == "true" {
		session.SetStream(stream.ID, stream.URL, ModeTranscode)
		w.Header().Set("Content-Type", "video/mp4")
		pipeline = NewTranscodePipeline(h.encoder, models.MP4PreviewEncodingProfile(), stream.URL)
	} else {
		session.SetStream(stream.ID, stream.URL, ModeDirect)
		w.Header().Set("Content-Type", "video/mp2t")
		pipeline = NewDirectPipeline(h.client, stream.URL)
	}
	w.Header().Set("Cache-Control", "no-cache")

	if err := pipeline.Run(session.Context(), session, w); err != nil && !errors.Is(err, context.Canceled) {
		if session.BytesOut() == 0 {
			writeError(w, http.StatusBadGateway, "upstream failed")
			return
		}
		h.logger.Warn("preview ended with error",
			slog.String("stream_id", stream.ID),
			slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
