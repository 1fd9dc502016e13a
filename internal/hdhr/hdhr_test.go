package hdhr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{}, &models.Stream{}, &models.EpgSource{}, &models.Setting{},
	))

	srv := NewServer(
		Config{FriendlyName: "PlexBridge", AdvertisedHost: "bridge.local:8080", TunerCount: 5, GuideDays: 7},
		repository.NewChannelRepository(db),
		repository.NewEpgSourceRepository(db),
		repository.NewSettingRepository(db),
		nil,
	)
	return srv, db
}

func newTestRouter(srv *Server) *chi.Mux {
	r := chi.NewRouter()
	srv.Routes(r)
	return r
}

func seedChannel(t *testing.T, db *gorm.DB, number int, name string, enabled bool, withStream bool) *models.Channel {
	t.Helper()
	ch := &models.Channel{Number: number, Name: name, Enabled: &enabled}
	require.NoError(t, db.Create(ch).Error)
	if withStream {
		st := &models.Stream{
			ChannelID: ch.ID,
			URL:       "http://upstream.example/" + name + ".ts",
			Kind:      models.StreamKindMPEGTS,
		}
		require.NoError(t, db.Create(st).Error)
	}
	return ch
}

func TestDeviceID_Deterministic(t *testing.T) {
	a := DeviceID("bridge.local:8080")
	b := DeviceID("bridge.local:8080")
	c := DeviceID("other.host:8080")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)
}

func TestHandleDiscover(t *testing.T) {
	srv, _ := newTestServer(t)
	router := newTestRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discover.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Body.Bytes())
	assert.Equal(t, byte('{'), rec.Body.Bytes()[0])

	var resp DiscoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "PlexBridge", resp.FriendlyName)
	assert.Equal(t, "Silicondust", resp.Manufacturer)
	assert.Equal(t, "HDTC-2US", resp.ModelNumber)
	assert.Equal(t, DeviceID("bridge.local:8080"), resp.DeviceID)
	assert.Equal(t, "http://bridge.local:8080", resp.BaseURL)
	assert.Equal(t, "http://bridge.local:8080/lineup.json", resp.LineupURL)
	assert.Equal(t, 5, resp.TunerCount)
	assert.True(t, resp.SupportsEPG)
	assert.Equal(t, "http://bridge.local:8080/epg/xmltv.xml", resp.EPGURL)
	assert.Equal(t, "xmltv", resp.EPGSource)
	assert.Equal(t, 7, resp.EPGDays)
}

func TestHandleDiscover_TunerCountFromSettings(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	settings := repository.NewSettingRepository(db)
	require.NoError(t, settings.Set(context.Background(), "max_concurrent_streams", "12"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discover.json", nil))

	var resp DiscoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.TunerCount)
}

func TestHandleLineup_FiltersChannels(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	visible := seedChannel(t, db, 100, "News", true, true)
	seedChannel(t, db, 101, "Disabled", false, true)
	seedChannel(t, db, 102, "NoStreams", true, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, byte('['), rec.Body.Bytes()[0])

	var lineup []LineupEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lineup))
	require.Len(t, lineup, 1)

	entry := lineup[0]
	assert.Equal(t, "100", entry.GuideNumber)
	assert.Equal(t, "News", entry.GuideName)
	assert.Equal(t, "http://bridge.local:8080/stream/"+visible.ID, entry.URL)
	assert.Equal(t, 1, entry.HD)
	assert.True(t, entry.EPGAvailable)
	assert.Equal(t, visible.ID, entry.EPGChannelID)
}

func TestHandleLineup_EPGChannelIDUsesEpgID(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	ch := seedChannel(t, db, 200, "Mapped", true, true)
	require.NoError(t, db.Model(ch).Update("epg_id", "feed.example.tv").Error)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup.json", nil))

	var lineup []LineupEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lineup))
	require.Len(t, lineup, 1)
	assert.Equal(t, "feed.example.tv", lineup[0].EPGChannelID)
}

func TestHandleLineup_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	router := newTestRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandleLineupPost(t *testing.T) {
	srv, _ := newTestServer(t)
	router := newTestRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lineup.post?scan=start", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleLineupStatus(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	last := time.Date(2026, 8, 25, 4, 0, 0, 0, time.UTC)
	src := &models.EpgSource{Name: "guide", URL: "http://guide.example/epg.xml", LastSuccess: &last}
	require.NoError(t, db.Create(src).Error)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup_status.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var status LineupStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.ScanInProgress)
	assert.Equal(t, 1, status.ScanPossible)
	assert.Equal(t, "Cable", status.Source)
	assert.Equal(t, []string{"Cable"}, status.SourceList)
	assert.True(t, status.EPGAvailable)
	assert.Equal(t, "2026-08-25T04:00:00Z", status.EPGLastUpdate)
}

func TestHandleLineupStatus_NoSources(t *testing.T) {
	srv, _ := newTestServer(t)
	router := newTestRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup_status.json", nil))

	var status LineupStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Empty(t, status.EPGLastUpdate)
}

func TestHandleDeviceXML(t *testing.T) {
	srv, _ := newTestServer(t)
	router := newTestRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/device.xml", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<?xml")
	assert.Contains(t, body, "<friendlyName>PlexBridge</friendlyName>")
	assert.Contains(t, body, "<manufacturer>Silicondust</manufacturer>")
	assert.Contains(t, body, "uuid:"+DeviceID("bridge.local:8080"))
}

func TestHandleAuto(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	ch := seedChannel(t, db, 300, "AutoTune", true, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auto/v300", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://bridge.local:8080/stream/"+ch.ID, rec.Header().Get("Location"))
}

func TestHandleAuto_Errors(t *testing.T) {
	srv, db := newTestServer(t)
	router := newTestRouter(srv)

	seedChannel(t, db, 301, "Off", false, true)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"not a number", "/auto/vabc", http.StatusBadRequest},
		{"unknown channel", "/auto/v999", http.StatusNotFound},
		{"disabled channel", "/auto/v301", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}
