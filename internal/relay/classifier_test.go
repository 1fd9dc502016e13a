package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(ClassifierConfig{ReliabilityThreshold: 0.3})

	stream := func(kind models.StreamKind, score float64) *models.Stream {
		return &models.Stream{ID: "s1", URL: "http://upstream.example/feed", Kind: kind, ReliabilityScore: score}
	}

	tests := []struct {
		name   string
		stream *models.Stream
		client ClientKind
		want   Mode
	}{
		{"mpegts to player passes through", stream(models.StreamKindMPEGTS, 1), ClientOther, ModeDirect},
		{"mpegts to plex passes through", stream(models.StreamKindMPEGTS, 1), ClientPlex, ModeDirect},
		{"mpegts to browser transcodes", stream(models.StreamKindMPEGTS, 1), ClientBrowser, ModeTranscode},
		{"hls to player remuxes", stream(models.StreamKindHLS, 1), ClientOther, ModeRemux},
		{"hls to browser remuxes", stream(models.StreamKindHLS, 1), ClientBrowser, ModeRemux},
		{"hls to plex transcodes", stream(models.StreamKindHLS, 1), ClientPlex, ModeTranscode},
		{"dash transcodes", stream(models.StreamKindDASH, 1), ClientOther, ModeTranscode},
		{"rtsp transcodes", stream(models.StreamKindRTSP, 1), ClientOther, ModeTranscode},
		{"unreliable mpegts transcodes", stream(models.StreamKindMPEGTS, 0.2), ClientOther, ModeTranscode},
		{"unreliable hls transcodes", stream(models.StreamKindHLS, 0.1), ClientOther, ModeTranscode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(context.Background(), tt.stream, tt.client))
		})
	}
}

func TestClassifier_ClassifyResolvesKindFromURL(t *testing.T) {
	c := NewClassifier(ClassifierConfig{ReliabilityThreshold: 0.3})

	stream := func(url string, kind models.StreamKind) *models.Stream {
		return &models.Stream{ID: "s1", URL: url, Kind: kind, ReliabilityScore: 1}
	}

	tests := []struct {
		name   string
		stream *models.Stream
		client ClientKind
		want   Mode
	}{
		// The URL outranks a stale declared kind.
		{"ts extension overrides declared hls for browser", stream("http://up.example/live/1234.ts", models.StreamKindHLS), ClientBrowser, ModeTranscode},
		{"ts extension overrides declared hls for player", stream("http://up.example/live/1234.ts", models.StreamKindHLS), ClientOther, ModeDirect},
		{"m3u8 extension overrides declared http", stream("http://up.example/live/playlist.m3u8", models.StreamKindHTTP), ClientOther, ModeRemux},
		{"m3u8 extension to plex transcodes", stream("http://up.example/live/playlist.m3u8", models.StreamKindHTTP), ClientPlex, ModeTranscode},
		{"type=ts query overrides declared http", stream("http://up.example/get.php?id=7&type=ts", models.StreamKindHTTP), ClientOther, ModeDirect},
		{"mpd extension transcodes", stream("http://up.example/live/manifest.mpd", models.StreamKindHLS), ClientOther, ModeTranscode},
		{"bare url falls back to declared kind", stream("http://up.example/feed", models.StreamKindHLS), ClientOther, ModeRemux},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(context.Background(), tt.stream, tt.client))
		})
	}
}

func TestClassifier_ClassifyHeadProbeResolvesKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	}))
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{HTTPClient: srv.Client()})

	// Extensionless URL, declared raw TS: the Content-Type wins and the
	// stream remuxes instead of passing through.
	stream := &models.Stream{ID: "s1", URL: srv.URL + "/live", Kind: models.StreamKindMPEGTS, ReliabilityScore: 1}
	assert.Equal(t, ModeRemux, c.Classify(context.Background(), stream, ClientOther))
}

func TestClassifier_ProbeTS_RejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>definitely not mpeg-ts</html>"))
	}))
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{HTTPClient: srv.Client()})
	err := c.ProbeTS(context.Background(), srv.URL)
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestClassifier_ProbeTS_RejectsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{HTTPClient: srv.Client()})
	err := c.ProbeTS(context.Background(), srv.URL)
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestClassifier_ProbeFailureDowngradesDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a transport stream"))
	}))
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{HTTPClient: srv.Client()})
	stream := &models.Stream{ID: "s1", URL: srv.URL, Kind: models.StreamKindMPEGTS, ReliabilityScore: 1}

	assert.Equal(t, ModeTranscode, c.Classify(context.Background(), stream, ClientOther))
}

func TestClassifier_LoopDetection(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})

	assert.False(t, c.RecordFailure("s1"))
	assert.False(t, c.RecordFailure("s1"))
	assert.True(t, c.RecordFailure("s1"))

	// Other streams are unaffected.
	assert.False(t, c.RecordFailure("s2"))

	c.ClearFailures("s1")
	assert.False(t, c.RecordFailure("s1"))
}

func TestClassifier_ProfileFor(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})

	channel := &models.Channel{ID: "c1", EncodingProfile: models.ProfileHighReliability}
	stream := &models.Stream{ID: "s1"}

	// Stream override beats channel, channel beats default.
	p, err := c.ProfileFor(channel, stream)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileHighReliability, p.Name)

	stream.EncodingProfile = models.ProfileMP4Preview
	p, err = c.ProfileFor(channel, stream)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileMP4Preview, p.Name)

	stream.EncodingProfile = ""
	channel.EncodingProfile = ""
	p, err = c.ProfileFor(channel, stream)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileDefault, p.Name)
}

func TestClassifier_ProfileFor_LoopingEscalates(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	channel := &models.Channel{ID: "c1"}
	stream := &models.Stream{ID: "s1"}

	for i := 0; i < loopFailureCount; i++ {
		c.RecordFailure(stream.ID)
	}

	p, err := c.ProfileFor(channel, stream)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileAntiLoop, p.Name)
	assert.True(t, p.AntiLoop)
}

func TestClassifier_ProfileFor_InvalidProfile(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	channel := &models.Channel{ID: "c1"}
	stream := &models.Stream{ID: "s1", EncodingProfile: "no-such-profile"}

	_, err := c.ProfileFor(channel, stream)
	assert.ErrorIs(t, err, models.ErrConfig)
}
