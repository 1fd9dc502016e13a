package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	m := newTestManager(t, ManagerConfig{})
	s, err := m.Admit(context.Background(), "ch1", "One", ClientInfo{})
	require.NoError(t, err)
	return s
}

func TestDirectPipeline_RelaysBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47, 0x00, 0x11}, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	session := testSession(t)
	var out bytes.Buffer
	err := NewDirectPipeline(srv.Client(), srv.URL).Run(context.Background(), session, &out)
	require.NoError(t, err)

	assert.Equal(t, payload, out.Bytes())
	assert.Equal(t, int64(len(payload)), session.BytesOut())
}

func TestPruneSeen(t *testing.T) {
	seen := map[string]struct{}{
		"seg100.ts": {},
		"seg101.ts": {},
		"seg102.ts": {},
	}

	// seg100 slid out of the live window; seg103 is new and unseen.
	pruneSeen(seen, []*playlist.MediaSegment{
		{URI: "seg101.ts"},
		{URI: "seg102.ts"},
		{URI: "seg103.ts"},
		nil,
	})

	assert.Equal(t, map[string]struct{}{
		"seg101.ts": {},
		"seg102.ts": {},
	}, seen)
}

func TestDirectPipeline_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	session := testSession(t)
	err := NewDirectPipeline(srv.Client(), srv.URL).Run(context.Background(), session, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Equal(t, int64(0), session.BytesOut())
}

func TestDirectPipeline_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	session := testSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDirectPipeline(srv.Client(), srv.URL).Run(ctx, session, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemuxPipeline_ConcatenatesSegments(t *testing.T) {
	segA := bytes.Repeat([]byte{0x47, 0xAA}, 94)
	segB := bytes.Repeat([]byte{0x47, 0xBB}, 94)

	mux := http.NewServeMux()
	mux.HandleFunc("/live/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-VERSION:3\n" +
			"#EXT-X-TARGETDURATION:4\n" +
			"#EXT-X-MEDIA-SEQUENCE:0\n" +
			"#EXTINF:4,\nseg0.ts\n" +
			"#EXTINF:4,\nseg1.ts\n" +
			"#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/live/seg0.ts", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(segA) })
	mux.HandleFunc("/live/seg1.ts", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(segB) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session := testSession(t)
	var out bytes.Buffer
	err := NewRemuxPipeline(srv.Client(), srv.URL+"/live/playlist.m3u8").Run(context.Background(), session, &out)
	require.NoError(t, err)

	assert.Equal(t, append(append([]byte{}, segA...), segB...), out.Bytes())
	assert.Equal(t, int64(len(segA)+len(segB)), session.BytesOut())
}

func TestRemuxPipeline_FollowsMultivariant(t *testing.T) {
	seg := bytes.Repeat([]byte{0x47, 0xCC}, 94)

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\n" +
			"hd/media.m3u8\n"))
	})
	mux.HandleFunc("/hd/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-VERSION:3\n" +
			"#EXT-X-TARGETDURATION:4\n" +
			"#EXT-X-MEDIA-SEQUENCE:0\n" +
			"#EXTINF:4,\nseg.ts\n" +
			"#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/hd/seg.ts", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(seg) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session := testSession(t)
	var out bytes.Buffer
	err := NewRemuxPipeline(srv.Client(), srv.URL+"/master.m3u8").Run(context.Background(), session, &out)
	require.NoError(t, err)
	assert.Equal(t, seg, out.Bytes())
}

func TestRemuxPipeline_BadPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a playlist"))
	}))
	defer srv.Close()

	session := testSession(t)
	err := NewRemuxPipeline(srv.Client(), srv.URL).Run(context.Background(), session, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestAbsolutize(t *testing.T) {
	tests := []struct {
		base string
		ref  string
		want string
	}{
		{"http://host/live/playlist.m3u8", "seg0.ts", "http://host/live/seg0.ts"},
		{"http://host/live/playlist.m3u8", "/abs/seg0.ts", "http://host/abs/seg0.ts"},
		{"http://host/live/playlist.m3u8", "http://cdn/seg0.ts", "http://cdn/seg0.ts"},
		{"http://host/master.m3u8", "hd/media.m3u8", "http://host/hd/media.m3u8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, absolutize(tt.base, tt.ref))
	}
}
