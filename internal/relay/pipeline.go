package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/plexbridge/plexbridge/internal/models"
)

// Pipeline delivers one session's bytes to the client. Run blocks until
// the upstream ends, the client disconnects, or ctx is cancelled.
type Pipeline interface {
	Run(ctx context.Context, session *Session, w io.Writer) error
}

// NewStreamingClient builds an HTTP client for upstream media: bounded
// connect and header timeouts but no overall request timeout, which
// would cut off long-running stream bodies.
func NewStreamingClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// directPipeline opens the upstream URL and relays its body verbatim.
type directPipeline struct {
	client *http.Client
	url    string
}

// NewDirectPipeline creates a pass-through pipeline for raw MPEG-TS
// upstreams.
func NewDirectPipeline(client *http.Client, url string) Pipeline {
	return &directPipeline{client: client, url: url}
}

func (p *directPipeline) Run(ctx context.Context, session *Session, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: connect: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: HTTP %d", models.ErrUpstream, resp.StatusCode)
	}

	return copyStream(ctx, session, resp.Body, w)
}

// copyStream relays bytes in chunks, marking session activity per chunk.
func copyStream(ctx context.Context, session *Session, r io.Reader, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			if wn > 0 {
				session.MarkByte(wn)
			}
			if werr != nil {
				return fmt.Errorf("client write: %w", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: read: %v", models.ErrUpstream, rerr)
		}
	}
}

const (
	maxPlaylistBytes  = 2 * 1024 * 1024
	maxPlaylistErrors = 3
	maxSegmentErrors  = 5
	playlistTimeout   = 10 * time.Second
	segmentTimeout    = 30 * time.Second
)

// remuxPipeline walks an HLS media playlist and concatenates its TS
// segments into a single MPEG-TS response without re-encoding.
type remuxPipeline struct {
	client *http.Client
	url    string
}

// NewRemuxPipeline creates an HLS-to-MPEG-TS remux pipeline.
func NewRemuxPipeline(client *http.Client, url string) Pipeline {
	return &remuxPipeline{client: client, url: url}
}

func (p *remuxPipeline) Run(ctx context.Context, session *Session, w io.Writer) error {
	mediaURL, media, err := p.resolveMedia(ctx, p.url)
	if err != nil {
		return err
	}

	flusher, _ := w.(http.Flusher)
	seen := make(map[string]struct{})
	playlistErrors, segmentErrors := 0, 0
	targetDuration := float64(media.TargetDuration)
	if targetDuration <= 0 {
		targetDuration = 6
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchStart := time.Now()

		emitted := false
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			if _, ok := seen[seg.URI]; ok {
				continue
			}
			seen[seg.URI] = struct{}{}

			data, err := p.fetch(ctx, absolutize(mediaURL, seg.URI), segmentTimeout, 0)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				segmentErrors++
				if segmentErrors >= maxSegmentErrors {
					return fmt.Errorf("%w: segment fetch: %v", models.ErrUpstream, err)
				}
				continue
			}
			segmentErrors = 0
			emitted = true

			n, werr := w.Write(data)
			if n > 0 {
				session.MarkByte(n)
			}
			if werr != nil {
				return fmt.Errorf("client write: %w", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if media.Endlist {
			return nil
		}

		pruneSeen(seen, media.Segments)

		// Poll at roughly half the target duration, never hammering the
		// origin faster than 800ms.
		intervalMs := targetDuration * 1000 * 0.5
		if intervalMs < 800 {
			intervalMs = 800
		}
		if !emitted {
			intervalMs *= 0.85
		}
		wait := time.Duration(intervalMs)*time.Millisecond - time.Since(fetchStart)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		refreshed, err := p.fetchMedia(ctx, mediaURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			playlistErrors++
			if playlistErrors >= maxPlaylistErrors {
				return fmt.Errorf("%w: playlist refresh: %v", models.ErrUpstream, err)
			}
			continue
		}
		playlistErrors = 0
		media = refreshed
		if media.TargetDuration > 0 {
			targetDuration = float64(media.TargetDuration)
		}
	}
}

// pruneSeen evicts dedup entries for segments that slid out of the
// playlist window, keeping the map bounded over a long-lived session.
func pruneSeen(seen map[string]struct{}, segments []*playlist.MediaSegment) {
	current := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		if seg != nil {
			current[seg.URI] = struct{}{}
		}
	}
	for uri := range seen {
		if _, ok := current[uri]; !ok {
			delete(seen, uri)
		}
	}
}

// resolveMedia fetches the playlist URL and, when it is a multivariant
// playlist, follows the first variant to its media playlist.
func (p *remuxPipeline) resolveMedia(ctx context.Context, rawURL string) (string, *playlist.Media, error) {
	data, err := p.fetch(ctx, rawURL, playlistTimeout, maxPlaylistBytes)
	if err != nil {
		return "", nil, fmt.Errorf("%w: playlist fetch: %v", models.ErrUpstream, err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: playlist parse: %v", models.ErrUpstream, err)
	}

	switch v := pl.(type) {
	case *playlist.Media:
		return rawURL, v, nil
	case *playlist.Multivariant:
		if len(v.Variants) == 0 {
			return "", nil, fmt.Errorf("%w: multivariant playlist has no variants", models.ErrUpstream)
		}
		mediaURL := absolutize(rawURL, v.Variants[0].URI)
		media, err := p.fetchMedia(ctx, mediaURL)
		if err != nil {
			return "", nil, err
		}
		return mediaURL, media, nil
	default:
		return "", nil, fmt.Errorf("%w: unrecognized playlist type", models.ErrUpstream)
	}
}

func (p *remuxPipeline) fetchMedia(ctx context.Context, mediaURL string) (*playlist.Media, error) {
	data, err := p.fetch(ctx, mediaURL, playlistTimeout, maxPlaylistBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: media playlist fetch: %v", models.ErrUpstream, err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: media playlist parse: %v", models.ErrUpstream, err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("%w: expected media playlist", models.ErrUpstream)
	}
	return media, nil
}

func (p *remuxPipeline) fetch(ctx context.Context, rawURL string, timeout time.Duration, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit)
	}
	return io.ReadAll(r)
}

// absolutize resolves ref against base the way HLS clients do.
func absolutize(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// transcodePipeline hands the session to the encoder supervisor.
type transcodePipeline struct {
	encoder  *Encoder
	profile  models.EncodingProfile
	inputURL string
}

// NewTranscodePipeline creates a pipeline that transcodes the upstream
// through the encoder.
func NewTranscodePipeline(encoder *Encoder, profile models.EncodingProfile, inputURL string) Pipeline {
	return &transcodePipeline{encoder: encoder, profile: profile, inputURL: inputURL}
}

func (p *transcodePipeline) Run(ctx context.Context, session *Session, w io.Writer) error {
	return p.encoder.Run(ctx, session, p.profile, p.inputURL, w)
}
