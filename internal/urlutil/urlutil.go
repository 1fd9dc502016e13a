// Package urlutil provides URL helpers: advertised base URL derivation,
// upstream stream classification and general URL manipulation.
package urlutil

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds http:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	baseURL = strings.TrimSpace(baseURL)
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimSuffix(baseURL, "/")
}

// JoinPath joins a base URL with a path, ensuring single slashes.
func JoinPath(baseURL, p string) string {
	if baseURL == "" {
		return p
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return baseURL + p
}

// BaseURL derives the canonical base URL advertised to clients. The
// configured advertised host wins; otherwise the request Host is used.
// Scheme comes from the request TLS state or X-Forwarded-Proto.
func BaseURL(advertisedHost string, r *http.Request) string {
	if advertisedHost != "" {
		return NormalizeBaseURL(advertisedHost)
	}

	scheme := SchemeHTTP
	if r.TLS != nil {
		scheme = SchemeHTTPS
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == SchemeHTTPS {
		scheme = SchemeHTTPS
	}
	return scheme + "://" + r.Host
}

// IsRemoteURL reports whether u is an http(s) or protocol-relative URL.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL reports whether u uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the lowercased scheme of u, or "" if unparseable.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the filesystem path from a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// ValidateURL checks that u is parseable and uses a supported scheme.
func ValidateURL(u string) error {
	if u == "" {
		return models.ErrURLRequired
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case SchemeHTTP, SchemeHTTPS, SchemeFile, "rtsp", "rtmp":
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme: %s", u)
	default:
		return fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}
}

// classifyTimeout bounds the HEAD probe so classification never stalls a
// play request.
const classifyTimeout = 3 * time.Second

// ClassifyURL determines the container/protocol kind of an upstream URL.
// Checks run in order: file extension, the explicit type=ts query flag, a
// HEAD Content-Type probe, then the declared kind. The HEAD probe is
// skipped when client is nil or an earlier rule matched.
func ClassifyURL(ctx context.Context, client *http.Client, rawURL string, declared models.StreamKind) models.StreamKind {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return declared
	}

	switch strings.ToLower(parsed.Scheme) {
	case "rtsp":
		return models.StreamKindRTSP
	case "rtmp":
		return models.StreamKindRTMP
	}

	switch strings.ToLower(path.Ext(parsed.Path)) {
	case ".m3u8", ".m3u":
		return models.StreamKindHLS
	case ".mpd":
		return models.StreamKindDASH
	case ".ts", ".mpegts", ".mts":
		return models.StreamKindMPEGTS
	}

	if parsed.Query().Get("type") == "ts" {
		return models.StreamKindMPEGTS
	}

	if client != nil && (parsed.Scheme == SchemeHTTP || parsed.Scheme == SchemeHTTPS) {
		if kind, ok := classifyByHead(ctx, client, rawURL); ok {
			return kind
		}
	}

	if declared.IsValid() {
		return declared
	}
	return models.StreamKindHTTP
}

func classifyByHead(ctx context.Context, client *http.Client, rawURL string) (models.StreamKind, bool) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	return KindFromContentType(resp.Header.Get("Content-Type"))
}

// KindFromContentType maps a MIME type to a stream kind.
func KindFromContentType(contentType string) (models.StreamKind, bool) {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)

	switch ct {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return models.StreamKindHLS, true
	case "application/dash+xml":
		return models.StreamKindDASH, true
	case "video/mp2t", "video/mpeg":
		return models.StreamKindMPEGTS, true
	case "application/octet-stream":
		// Many IPTV providers serve raw TS as octet-stream.
		return models.StreamKindMPEGTS, true
	}
	return "", false
}

// EPGChannelID returns the guide identifier advertised for a channel:
// its epg_id when mapped, otherwise the channel id itself.
func EPGChannelID(ch *models.Channel) string {
	if ch == nil {
		return ""
	}
	return ch.GuideChannelID()
}
