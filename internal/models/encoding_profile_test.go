package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseEncodingProfile_Named(t *testing.T) {
	tests := []struct {
		in   string
		name string
	}{
		{"", ProfileDefault},
		{"default", ProfileDefault},
		{"high-reliability", ProfileHighReliability},
		{"anti-loop", ProfileAntiLoop},
		{"mp4-preview", ProfileMP4Preview},
	}

	for _, tt := range tests {
		p, err := ParseEncodingProfile(tt.in)
		if err != nil {
			t.Fatalf("ParseEncodingProfile(%q) returned error: %v", tt.in, err)
		}
		if p.Name != tt.name {
			t.Errorf("ParseEncodingProfile(%q).Name = %s, want %s", tt.in, p.Name, tt.name)
		}
	}
}

func TestParseEncodingProfile_Unknown(t *testing.T) {
	_, err := ParseEncodingProfile("ultrafast-deluxe")
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestParseEncodingProfile_JSONOverrides(t *testing.T) {
	p, err := ParseEncodingProfile(`{"video-codec":"h264","gop-size":30,"container":"mp4"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.VideoCodec != "h264" {
		t.Errorf("expected video codec override, got %s", p.VideoCodec)
	}
	if p.GOPSize != 30 {
		t.Errorf("expected gop-size 30, got %d", p.GOPSize)
	}
	if p.Container != "mp4" {
		t.Errorf("expected container mp4, got %s", p.Container)
	}
	// Defaults survive where not overridden.
	if !p.InputReconnect {
		t.Error("expected input-reconnect default to survive override")
	}
}

func TestParseEncodingProfile_RejectsBadOptionValues(t *testing.T) {
	cases := []string{
		`{"video-codec":"vp9"}`,
		`{"audio-codec":"opus"}`,
		`{"container":"mkv"}`,
		`{"timestamp-strategy":"guess"}`,
	}
	for _, in := range cases {
		if _, err := ParseEncodingProfile(in); !errors.Is(err, ErrConfig) {
			t.Errorf("ParseEncodingProfile(%q): expected ErrConfig, got %v", in, err)
		}
	}
}

func TestEncodingProfile_Escalate(t *testing.T) {
	def := DefaultEncodingProfile()
	if got := def.Escalate(); got.Name != ProfileHighReliability {
		t.Errorf("expected escalation to high-reliability, got %s", got.Name)
	}

	loop := AntiLoopEncodingProfile()
	if got := loop.Escalate(); got.Name != ProfileAntiLoop {
		t.Errorf("expected anti-loop to stay anti-loop, got %s", got.Name)
	}
}

func TestEncodingProfile_BuildArgsDefault(t *testing.T) {
	p := DefaultEncodingProfile()
	args := p.BuildArgs("http://example.com/live.ts")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i http://example.com/live.ts") {
		t.Error("expected input URL in argv")
	}
	if !strings.Contains(joined, "-c:v copy") || !strings.Contains(joined, "-c:a copy") {
		t.Errorf("expected copy codecs, got %s", joined)
	}
	if !strings.Contains(joined, "-f mpegts") {
		t.Error("expected mpegts container")
	}
	if !strings.Contains(joined, "-reconnect 1") {
		t.Error("expected reconnect flags for http input")
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("expected output to stdout, got %s", args[len(args)-1])
	}
}

func TestEncodingProfile_BuildArgsAntiLoop(t *testing.T) {
	p := AntiLoopEncodingProfile()
	args := p.BuildArgs("http://example.com/loop.m3u8")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-live_start_index -1") {
		t.Error("expected live edge start")
	}
	if !strings.Contains(joined, "-seekable 0") {
		t.Error("expected seeking disabled")
	}
	if !strings.Contains(joined, "-g 25") {
		t.Error("expected small GOP")
	}
	if !strings.Contains(joined, "-max_muxing_queue_size 1024") {
		t.Error("expected capped muxing queue")
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Error("expected h264 transcode")
	}
}

func TestEncodingProfile_BuildArgsMP4(t *testing.T) {
	p := MP4PreviewEncodingProfile()
	args := p.BuildArgs("rtsp://cam.example/stream")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-f mp4") {
		t.Error("expected mp4 container")
	}
	if !strings.Contains(joined, "frag_keyframe") {
		t.Error("expected fragmented mp4 movflags")
	}
	if strings.Contains(joined, "-reconnect") {
		t.Error("expected no http reconnect flags for rtsp input")
	}
}
