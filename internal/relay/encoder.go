package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

const (
	tsPacketSize = 188

	// Keep-alive prologue limits: some Plex clients drop the connection
	// if nothing arrives within ~10s, but too much padding destabilizes
	// downstream timing.
	keepAliveInterval = 250 * time.Millisecond
	keepAliveMax      = 10 * time.Second
	keepAliveMaxBytes = 256 * 1024

	// An encoder that exits inside this window without being cancelled is
	// treated as an early EOF and may be retried.
	earlyExitWindow = 10 * time.Second

	stderrLogBurst = 10
)

// nullPacket is an MPEG-TS null packet: sync byte 0x47, PID 0x1FFF,
// payload-only, stuffed with 0xFF.
var nullPacket = func() []byte {
	p := make([]byte, tsPacketSize)
	p[0] = 0x47
	p[1] = 0x1F
	p[2] = 0xFF
	p[3] = 0x10
	for i := 4; i < tsPacketSize; i++ {
		p[i] = 0xFF
	}
	return p
}()

// EncoderConfig holds encoder supervision configuration.
type EncoderConfig struct {
	// BinaryPath overrides PATH lookup of the ffmpeg binary.
	BinaryPath string
	// Grace is how long after SIGTERM before the process is killed.
	Grace time.Duration
	// DeferredStart enables the null-packet keep-alive prologue for
	// MPEG-TS output.
	DeferredStart bool
	Logger        *slog.Logger
}

// Encoder supervises ffmpeg child processes, one per transcode session.
type Encoder struct {
	config EncoderConfig

	binOnce sync.Once
	binPath string
	binErr  error
}

// NewEncoder creates an encoder supervisor.
func NewEncoder(config EncoderConfig) *Encoder {
	if config.Grace <= 0 {
		config.Grace = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Encoder{config: config}
}

// Binary resolves the encoder binary path, caching the lookup.
func (e *Encoder) Binary() (string, error) {
	e.binOnce.Do(func() {
		if e.config.BinaryPath != "" {
			if _, err := os.Stat(e.config.BinaryPath); err != nil {
				e.binErr = fmt.Errorf("%w: encoder binary %s: %v", models.ErrEncoder, e.config.BinaryPath, err)
				return
			}
			e.binPath = e.config.BinaryPath
			return
		}
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			e.binErr = fmt.Errorf("%w: ffmpeg not found in PATH", models.ErrEncoder)
			return
		}
		e.binPath = path
	})
	return e.binPath, e.binErr
}

// Run spawns the encoder for the profile and relays its stdout to w until
// the process exits or ctx is cancelled. mark is called with the byte
// count of every chunk delivered. On early EOF the encoder is re-invoked
// up to the profile's retry budget.
func (e *Encoder) Run(ctx context.Context, session *Session, profile models.EncodingProfile, inputURL string, w io.Writer) error {
	bin, err := e.Binary()
	if err != nil {
		return err
	}

	attempts := 1 + profile.RetryAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		wrote, err := e.runOnce(ctx, session, bin, profile, inputURL, w, attempt == 1)
		if err == nil || ctx.Err() != nil {
			return err
		}
		lastErr = err

		// Retry only on early EOF before any real output reached the
		// client; once bytes flowed, a mid-stream restart would corrupt
		// the client's demuxer state. Null-packet padding does not count.
		early := time.Since(start) < earlyExitWindow
		if !early || wrote > 0 {
			break
		}
		e.config.Logger.Warn("encoder exited early, retrying",
			slog.String("session_id", session.ID.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return lastErr
}

func (e *Encoder) runOnce(ctx context.Context, session *Session, bin string, profile models.EncodingProfile, inputURL string, w io.Writer, allowKeepAlive bool) (int64, error) {
	args := profile.BuildArgs(inputURL)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Cancel = func() error {
		// CommandContext kills by default; SIGTERM first so ffmpeg can
		// flush, WaitDelay kills after the grace period.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.config.Grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stdout pipe: %v", models.ErrEncoder, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stderr pipe: %v", models.ErrEncoder, err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: spawning %s: %v", models.ErrEncoder, bin, err)
	}
	e.config.Logger.Debug("encoder started",
		slog.String("session_id", session.ID.String()),
		slog.String("profile", profile.Name),
		slog.Int("pid", cmd.Process.Pid))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.drainStderr(session, stderr)
	}()

	wrote, copyErr := e.relay(ctx, session, stdout, w, allowKeepAlive && e.config.DeferredStart && profile.Container != "mp4")

	waitErr := cmd.Wait()
	wg.Wait()

	if ctx.Err() != nil {
		return wrote, ctx.Err()
	}
	if copyErr != nil {
		return wrote, copyErr
	}
	if waitErr != nil {
		return wrote, fmt.Errorf("%w: exited: %v", models.ErrEncoder, waitErr)
	}
	if wrote == 0 {
		return 0, fmt.Errorf("%w: exited without producing output", models.ErrEncoder)
	}
	return wrote, nil
}

// relay pumps encoder stdout to the client. Until the first real chunk
// arrives it may pad the response with MPEG-TS null packets so impatient
// clients keep the connection open.
func (e *Encoder) relay(ctx context.Context, session *Session, stdout io.Reader, w io.Writer, keepAlive bool) (int64, error) {
	flusher, _ := w.(http.Flusher)

	chunks := make(chan []byte, 4)
	readErr := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, 32*1024)
			n, err := stdout.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					readErr <- ctx.Err()
					close(chunks)
					return
				}
			}
			if err != nil {
				readErr <- err
				close(chunks)
				return
			}
		}
	}()

	var (
		wrote    int64
		started  bool
		kaBytes  int
		kaBegin  = time.Now()
		kaTicker = time.NewTicker(keepAliveInterval)
	)
	defer kaTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return wrote, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				err := <-readErr
				if err == io.EOF {
					return wrote, nil
				}
				return wrote, err
			}
			started = true
			n, err := w.Write(chunk)
			if n > 0 {
				wrote += int64(n)
				session.MarkByte(n)
			}
			if err != nil {
				return wrote, fmt.Errorf("client write: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-kaTicker.C:
			if !keepAlive || started {
				continue
			}
			if time.Since(kaBegin) > keepAliveMax || kaBytes >= keepAliveMaxBytes {
				continue
			}
			n, err := w.Write(nullPacket)
			if n > 0 {
				kaBytes += n
				session.MarkByte(n)
			}
			if err != nil {
				return wrote, fmt.Errorf("client write: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// drainStderr reads encoder stderr, keeping log volume bounded: a burst
// of lines per second passes through at debug, the rest are counted.
func (e *Encoder) drainStderr(session *Session, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	window := time.Now()
	logged, suppressed := 0, 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if time.Since(window) > time.Second {
			if suppressed > 0 {
				e.config.Logger.Debug("encoder stderr suppressed",
					slog.String("session_id", session.ID.String()),
					slog.Int("lines", suppressed))
			}
			window = time.Now()
			logged, suppressed = 0, 0
		}
		if logged < stderrLogBurst {
			logged++
			e.config.Logger.Debug("encoder stderr",
				slog.String("session_id", session.ID.String()),
				slog.String("line", line))
		} else {
			suppressed++
		}
	}
	if suppressed > 0 {
		e.config.Logger.Debug("encoder stderr suppressed",
			slog.String("session_id", session.ID.String()),
			slog.Int("lines", suppressed))
	}
}
