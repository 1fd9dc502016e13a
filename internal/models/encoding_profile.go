package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Encoding profile names that can be assigned to a channel or stream.
const (
	ProfileDefault         = "default"
	ProfileHighReliability = "high-reliability"
	ProfileAntiLoop        = "anti-loop"
	ProfileMP4Preview      = "mp4-preview"
)

// EncodingProfile describes how the encoder child process is invoked for a
// session. A channel or stream stores either a named profile or a JSON
// object of option overrides; unrecognized options are ignored so older
// rows keep working after upgrades.
type EncodingProfile struct {
	// Name identifies the profile for logging and escalation.
	Name string `json:"name,omitempty"`

	// Preset is the encoder speed/quality preset (e.g. "veryfast").
	Preset string `json:"preset,omitempty"`

	// InputReconnect enables upstream reconnect flags on the input.
	InputReconnect bool `json:"input-reconnect,omitempty"`

	// AntiLoop enables looping-source protection: start from the live edge,
	// no seeking, small GOP, capped muxing queue.
	AntiLoop bool `json:"anti-loop,omitempty"`

	// GOPSize is the group-of-pictures length in frames. Zero means the
	// encoder default.
	GOPSize int `json:"gop-size,omitempty"`

	// KeyframeInterval forces a keyframe every N seconds. Zero disables.
	KeyframeInterval int `json:"keyframe-interval,omitempty"`

	// VideoCodec is "copy" or "h264".
	VideoCodec string `json:"video-codec,omitempty"`

	// AudioCodec is "copy" or "aac".
	AudioCodec string `json:"audio-codec,omitempty"`

	// Container is "mpegts" or "mp4".
	Container string `json:"container,omitempty"`

	// TimestampStrategy selects timestamp repair: "passthrough", "genpts"
	// or "rebase".
	TimestampStrategy string `json:"timestamp-strategy,omitempty"`

	// RetryAttempts is how many times the supervisor restarts the encoder
	// after early EOF before giving up.
	RetryAttempts int `json:"retry-attempts,omitempty"`

	// SessionTimeoutSec bounds the total encoder runtime in seconds. Zero
	// means unbounded.
	SessionTimeoutSec int `json:"session-timeout,omitempty"`

	// EnableMonitoring turns on encoder progress reporting on stderr.
	EnableMonitoring bool `json:"enable-monitoring,omitempty"`
}

// DefaultEncodingProfile is the baseline live-TV transcode profile.
func DefaultEncodingProfile() EncodingProfile {
	return EncodingProfile{
		Name:              ProfileDefault,
		Preset:            "veryfast",
		InputReconnect:    true,
		VideoCodec:        "copy",
		AudioCodec:        "copy",
		Container:         "mpegts",
		TimestampStrategy: "genpts",
		RetryAttempts:     1,
	}
}

// HighReliabilityEncodingProfile trades CPU for robustness on sources that
// repeatedly fail. Escalation targets this profile.
func HighReliabilityEncodingProfile() EncodingProfile {
	return EncodingProfile{
		Name:              ProfileHighReliability,
		Preset:            "veryfast",
		InputReconnect:    true,
		VideoCodec:        "h264",
		AudioCodec:        "aac",
		Container:         "mpegts",
		TimestampStrategy: "rebase",
		GOPSize:           50,
		KeyframeInterval:  2,
		RetryAttempts:     2,
		EnableMonitoring:  true,
	}
}

// AntiLoopEncodingProfile is applied to sources detected as looping.
func AntiLoopEncodingProfile() EncodingProfile {
	p := HighReliabilityEncodingProfile()
	p.Name = ProfileAntiLoop
	p.AntiLoop = true
	p.GOPSize = 25
	p.KeyframeInterval = 1
	return p
}

// MP4PreviewEncodingProfile produces fragmented MP4 for browser preview.
func MP4PreviewEncodingProfile() EncodingProfile {
	return EncodingProfile{
		Name:              ProfileMP4Preview,
		Preset:            "veryfast",
		InputReconnect:    true,
		VideoCodec:        "h264",
		AudioCodec:        "aac",
		Container:         "mp4",
		TimestampStrategy: "rebase",
		RetryAttempts:     1,
	}
}

// ParseEncodingProfile resolves a channel/stream encoding_profile column.
// Empty resolves to the default profile, a known name resolves to that
// profile, and a JSON object is decoded as overrides on top of the default.
func ParseEncodingProfile(s string) (EncodingProfile, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return DefaultEncodingProfile(), nil
	case ProfileDefault:
		return DefaultEncodingProfile(), nil
	case ProfileHighReliability:
		return HighReliabilityEncodingProfile(), nil
	case ProfileAntiLoop:
		return AntiLoopEncodingProfile(), nil
	case ProfileMP4Preview:
		return MP4PreviewEncodingProfile(), nil
	}
	if !strings.HasPrefix(s, "{") {
		return EncodingProfile{}, fmt.Errorf("%w: unknown encoding profile %q", ErrConfig, s)
	}
	p := DefaultEncodingProfile()
	p.Name = "custom"
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return EncodingProfile{}, fmt.Errorf("%w: invalid encoding profile: %v", ErrConfig, err)
	}
	return p, p.Validate()
}

// Validate checks option values against the recognized set.
func (p *EncodingProfile) Validate() error {
	switch p.VideoCodec {
	case "", "copy", "h264":
	default:
		return fmt.Errorf("%w: video-codec must be copy or h264, got %q", ErrConfig, p.VideoCodec)
	}
	switch p.AudioCodec {
	case "", "copy", "aac":
	default:
		return fmt.Errorf("%w: audio-codec must be copy or aac, got %q", ErrConfig, p.AudioCodec)
	}
	switch p.Container {
	case "", "mpegts", "mp4":
	default:
		return fmt.Errorf("%w: container must be mpegts or mp4, got %q", ErrConfig, p.Container)
	}
	switch p.TimestampStrategy {
	case "", "passthrough", "genpts", "rebase":
	default:
		return fmt.Errorf("%w: unknown timestamp-strategy %q", ErrConfig, p.TimestampStrategy)
	}
	return nil
}

// Escalate returns the profile the session should be raised to after
// repeated failures. Anti-loop profiles stay anti-loop.
func (p *EncodingProfile) Escalate() EncodingProfile {
	if p.AntiLoop {
		return AntiLoopEncodingProfile()
	}
	return HighReliabilityEncodingProfile()
}

// BuildArgs constructs the encoder argv for the given input URL. Output is
// always written to stdout so the supervisor can pipe it to the client.
func (p *EncodingProfile) BuildArgs(inputURL string) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
	}
	if p.EnableMonitoring {
		args = append(args, "-progress", "pipe:2", "-stats_period", "10")
	}

	switch p.TimestampStrategy {
	case "rebase":
		args = append(args, "-fflags", "+genpts+discardcorrupt+igndts", "-avoid_negative_ts", "make_zero")
	case "genpts":
		args = append(args, "-fflags", "+genpts+discardcorrupt")
	}

	if p.InputReconnect && (strings.HasPrefix(inputURL, "http://") || strings.HasPrefix(inputURL, "https://")) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	if p.AntiLoop {
		// Join at the live edge and never seek backwards into a loop.
		args = append(args, "-live_start_index", "-1", "-seekable", "0")
	}

	args = append(args, "-i", inputURL, "-map", "0:v:0?", "-map", "0:a:0?")

	switch p.VideoCodec {
	case "h264":
		args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		args = append(args, "-tune", "zerolatency")
		if p.GOPSize > 0 {
			args = append(args, "-g", strconv.Itoa(p.GOPSize), "-sc_threshold", "0")
		}
		if p.KeyframeInterval > 0 {
			args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", p.KeyframeInterval))
		}
	default:
		args = append(args, "-c:v", "copy")
	}

	switch p.AudioCodec {
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-ar", "48000", "-ac", "2")
	default:
		args = append(args, "-c:a", "copy")
	}

	args = append(args, "-sn", "-dn")
	if p.AntiLoop {
		args = append(args, "-max_muxing_queue_size", "1024")
	}
	if p.SessionTimeoutSec > 0 {
		args = append(args, "-t", strconv.Itoa(p.SessionTimeoutSec))
	}

	switch p.Container {
	case "mp4":
		args = append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	default:
		args = append(args, "-f", "mpegts", "-mpegts_copyts", "0")
	}

	return append(args, "pipe:1")
}
