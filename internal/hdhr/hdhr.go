// Package hdhr emulates the HDHomeRun network tuner API so media servers
// discover plexbridge as a multi-tuner live-TV device.
package hdhr

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/urlutil"
	"github.com/plexbridge/plexbridge/internal/version"
)

const defaultTunerCount = 5

// Config holds the tuner identity settings.
type Config struct {
	FriendlyName   string
	AdvertisedHost string
	TunerCount     int
	GuideDays      int
	// Manufacturer, ModelNumber and FirmwareName default to Silicondust
	// identity strings. Plex refuses tuners it does not recognize.
	Manufacturer string
	ModelNumber  string
	FirmwareName string
	// DeviceID overrides the identifier derived from the advertised host.
	DeviceID string
}

// Server implements the HDHomeRun API endpoints.
type Server struct {
	cfg      Config
	channels repository.ChannelRepository
	sources  repository.EpgSourceRepository
	settings repository.SettingRepository
	logger   *slog.Logger
}

// NewServer creates a new HDHomeRun emulation server.
func NewServer(cfg Config, channels repository.ChannelRepository, sources repository.EpgSourceRepository, settings repository.SettingRepository, logger *slog.Logger) *Server {
	if cfg.FriendlyName == "" {
		cfg.FriendlyName = "PlexBridge"
	}
	if cfg.TunerCount <= 0 {
		cfg.TunerCount = defaultTunerCount
	}
	if cfg.GuideDays <= 0 {
		cfg.GuideDays = 7
	}
	if cfg.Manufacturer == "" {
		cfg.Manufacturer = "Silicondust"
	}
	if cfg.ModelNumber == "" {
		cfg.ModelNumber = "HDTC-2US"
	}
	if cfg.FirmwareName == "" {
		cfg.FirmwareName = "hdhomeruntc_atsc"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = DeviceID(cfg.AdvertisedHost)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		channels: channels,
		sources:  sources,
		settings: settings,
		logger:   logger,
	}
}

// Routes mounts the tuner endpoints on a chi router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/discover.json", s.HandleDiscover)
	r.Get("/lineup.json", s.HandleLineup)
	r.Post("/lineup.post", s.HandleLineupPost)
	r.Get("/lineup_status.json", s.HandleLineupStatus)
	r.Get("/device.xml", s.HandleDeviceXML)
	r.Get("/auto/v{channel}", s.HandleAuto)
}

// DiscoverResponse is the /discover.json shape. Field order is fixed:
// some clients fingerprint the byte sequence.
type DiscoverResponse struct {
	FriendlyName      string `json:"FriendlyName"`
	Manufacturer      string `json:"Manufacturer"`
	ModelNumber       string `json:"ModelNumber"`
	FirmwareName      string `json:"FirmwareName"`
	FirmwareVersion   string `json:"FirmwareVersion"`
	DeviceID          string `json:"DeviceID"`
	DeviceAuth        string `json:"DeviceAuth"`
	BaseURL           string `json:"BaseURL"`
	LineupURL         string `json:"LineupURL"`
	TunerCount        int    `json:"TunerCount"`
	SupportsEPG       bool   `json:"SupportsEPG"`
	EPGURL            string `json:"EPGURL"`
	EPGSource         string `json:"EPGSource"`
	GuideURL          string `json:"GuideURL"`
	XMLTVGuideDataURL string `json:"XMLTVGuideDataURL"`
	EPGDays           int    `json:"EPGDays"`
}

// LineupEntry is one channel in /lineup.json.
type LineupEntry struct {
	GuideNumber  string `json:"GuideNumber"`
	GuideName    string `json:"GuideName"`
	URL          string `json:"URL"`
	HD           int    `json:"HD"`
	EPGAvailable bool   `json:"EPGAvailable"`
	EPGChannelID string `json:"EPGChannelID"`
	GuideURL     string `json:"GuideURL"`
}

// LineupStatus is the /lineup_status.json shape.
type LineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
	EPGAvailable   bool     `json:"EPGAvailable"`
	EPGLastUpdate  string   `json:"EPGLastUpdate,omitempty"`
}

// DeviceID derives a stable 8-hex-digit identifier from the advertised
// host so re-deploys keep the same device identity in Plex.
func DeviceID(advertisedHost string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte("plexbridge:" + advertisedHost))
	return fmt.Sprintf("%08X", h.Sum32())
}

func (s *Server) baseURL(r *http.Request) string {
	return urlutil.BaseURL(s.cfg.AdvertisedHost, r)
}

func (s *Server) tunerCount(ctx context.Context) int {
	if s.settings != nil {
		if n, err := s.settings.GetInt(ctx, "max_concurrent_streams", s.cfg.TunerCount); err == nil && n > 0 {
			return n
		}
	}
	return s.cfg.TunerCount
}

// writeJSON emits the body with the exact Content-Type picky clients
// expect. Bodies always start with '{' or '[' so they can never be
// mistaken for an HTML error page.
func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(v)
}

// HandleDiscover handles GET /discover.json.
func (s *Server) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	base := s.baseURL(r)
	resp := DiscoverResponse{
		FriendlyName:      s.cfg.FriendlyName,
		Manufacturer:      s.cfg.Manufacturer,
		ModelNumber:       s.cfg.ModelNumber,
		FirmwareName:      s.cfg.FirmwareName,
		FirmwareVersion:   version.Version,
		DeviceID:          s.cfg.DeviceID,
		DeviceAuth:        "plexbridge",
		BaseURL:           base,
		LineupURL:         base + "/lineup.json",
		TunerCount:        s.tunerCount(r.Context()),
		SupportsEPG:       true,
		EPGURL:            base + "/epg/xmltv.xml",
		EPGSource:         "xmltv",
		GuideURL:          base + "/epg/xmltv.xml",
		XMLTVGuideDataURL: base + "/epg/xmltv.xml",
		EPGDays:           s.cfg.GuideDays,
	}

	if err := writeJSON(w, resp); err != nil {
		s.logger.Error("encoding discover response", slog.String("error", err.Error()))
	}
	s.logger.Debug("tuner discovery request",
		slog.String("device_id", resp.DeviceID),
		slog.String("base_url", base))
}

// HandleLineup handles GET /lineup.json. Only enabled channels with at
// least one enabled stream appear.
func (s *Server) HandleLineup(w http.ResponseWriter, r *http.Request) {
	base := s.baseURL(r)

	channels, err := s.channels.GetEnabledWithStreams(r.Context())
	if err != nil {
		s.logger.Error("loading lineup channels", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "lineup unavailable")
		return
	}

	lineup := make([]LineupEntry, 0, len(channels))
	for _, ch := range channels {
		lineup = append(lineup, LineupEntry{
			GuideNumber:  strconv.Itoa(ch.Number),
			GuideName:    ch.Name,
			URL:          base + "/stream/" + ch.ID,
			HD:           1,
			EPGAvailable: true,
			EPGChannelID: urlutil.EPGChannelID(ch),
			GuideURL:     base + "/epg/xmltv.xml",
		})
	}

	if err := writeJSON(w, lineup); err != nil {
		s.logger.Error("encoding lineup response", slog.String("error", err.Error()))
	}
	s.logger.Debug("tuner lineup request", slog.Int("channels", len(lineup)))
}

// HandleLineupPost handles POST /lineup.post (Plex channel scan).
func (s *Server) HandleLineupPost(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scan") == "start" {
		s.logger.Info("channel scan requested, reporting immediate completion")
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLineupStatus handles GET /lineup_status.json.
func (s *Server) HandleLineupStatus(w http.ResponseWriter, r *http.Request) {
	status := LineupStatus{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
		EPGAvailable:   true,
	}
	if last := s.lastGuideUpdate(r.Context()); !last.IsZero() {
		status.EPGLastUpdate = last.UTC().Format(time.RFC3339)
	}

	if err := writeJSON(w, status); err != nil {
		s.logger.Error("encoding lineup status", slog.String("error", err.Error()))
	}
}

func (s *Server) lastGuideUpdate(ctx context.Context) time.Time {
	if s.sources == nil {
		return time.Time{}
	}
	sources, err := s.sources.GetAll(ctx)
	if err != nil {
		return time.Time{}
	}
	var last time.Time
	for _, src := range sources {
		if src.LastSuccess != nil && src.LastSuccess.After(last) {
			last = *src.LastSuccess
		}
	}
	return last
}

// HandleAuto handles GET /auto/v{channel}, the URL form real HDHomeRun
// hardware exposes. Redirects to the stream endpoint for the channel with
// that lineup number.
func (s *Server) HandleAuto(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "channel")
	number, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid channel number")
		return
	}

	ch, err := s.channels.GetByNumber(r.Context(), number)
	if err != nil {
		s.logger.Error("resolving auto tune channel", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "channel lookup failed")
		return
	}
	if ch == nil || !ch.IsEnabled() {
		writeJSONError(w, http.StatusNotFound, "channel not found")
		return
	}

	http.Redirect(w, r, s.baseURL(r)+"/stream/"+ch.ID, http.StatusFound)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// deviceXMLRoot is the UPnP descriptor served at /device.xml.
type deviceXMLRoot struct {
	XMLName     xml.Name             `xml:"root"`
	XMLNS       string               `xml:"xmlns,attr"`
	SpecVersion deviceXMLSpecVersion `xml:"specVersion"`
	Device      deviceXMLDevice      `xml:"device"`
}

type deviceXMLSpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type deviceXMLDevice struct {
	DeviceType       string `xml:"deviceType"`
	FriendlyName     string `xml:"friendlyName"`
	Manufacturer     string `xml:"manufacturer"`
	ManufacturerURL  string `xml:"manufacturerURL"`
	ModelDescription string `xml:"modelDescription"`
	ModelName        string `xml:"modelName"`
	ModelNumber      string `xml:"modelNumber"`
	ModelURL         string `xml:"modelURL"`
	SerialNumber     string `xml:"serialNumber"`
	UDN              string `xml:"UDN"`
	PresentationURL  string `xml:"presentationURL"`
}

// HandleDeviceXML handles GET /device.xml.
func (s *Server) HandleDeviceXML(w http.ResponseWriter, r *http.Request) {
	doc := deviceXMLRoot{
		XMLNS:       "urn:schemas-upnp-org:device-1-0",
		SpecVersion: deviceXMLSpecVersion{Major: 1, Minor: 0},
		Device: deviceXMLDevice{
			DeviceType:       "urn:schemas-upnp-org:device:MediaServer:1",
			FriendlyName:     s.cfg.FriendlyName,
			Manufacturer:     s.cfg.Manufacturer,
			ManufacturerURL:  "http://www.silicondust.com/",
			ModelDescription: "HDHomeRun ATSC Tuner",
			ModelName:        s.cfg.ModelNumber,
			ModelNumber:      s.cfg.ModelNumber,
			ModelURL:         "http://www.silicondust.com/",
			SerialNumber:     s.cfg.DeviceID,
			UDN:              "uuid:" + s.cfg.DeviceID,
			PresentationURL:  s.baseURL(r),
		},
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Error("encoding device descriptor", slog.String("error", err.Error()))
	}
}
