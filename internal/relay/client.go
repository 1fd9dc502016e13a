package relay

import (
	"net/http"
	"regexp"
)

// Client kinds that influence pipeline selection. Plex's transcoder
// mishandles some HLS sources, and browsers cannot play raw MPEG-TS.
type ClientKind string

// Known client kinds.
const (
	ClientPlex    ClientKind = "plex"
	ClientBrowser ClientKind = "browser"
	ClientOther   ClientKind = "other"
)

var clientPatterns = []struct {
	pattern *regexp.Regexp
	kind    ClientKind
}{
	{regexp.MustCompile(`(?i)plex|lavf|pms;`), ClientPlex},
	{regexp.MustCompile(`(?i)mozilla|chrome|safari|firefox|edge|opera`), ClientBrowser},
	{regexp.MustCompile(`(?i)vlc|kodi|mpv|tivimate|iptv|exoplayer`), ClientOther},
}

// DetectClient classifies the requesting client from its User-Agent.
// Unknown agents are treated as generic players, which get the least
// restrictive pipeline.
func DetectClient(r *http.Request) ClientKind {
	ua := r.UserAgent()
	if ua == "" {
		return ClientOther
	}
	for _, p := range clientPatterns {
		if p.pattern.MatchString(ua) {
			return p.kind
		}
	}
	return ClientOther
}
