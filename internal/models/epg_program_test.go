package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEpgProgram_Validate(t *testing.T) {
	base := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		program *EpgProgram
		wantErr error
	}{
		{
			name:    "missing channel key",
			program: &EpgProgram{Start: base, Stop: base.Add(time.Hour), Title: "Show"},
			wantErr: ErrChannelKeyRequired,
		},
		{
			name:    "missing start",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Stop: base, Title: "Show"},
			wantErr: ErrStartTimeRequired,
		},
		{
			name:    "missing stop",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Start: base, Title: "Show"},
			wantErr: ErrEndTimeRequired,
		},
		{
			name:    "missing title",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Start: base, Stop: base.Add(time.Hour)},
			wantErr: ErrTitleRequired,
		},
		{
			name:    "stop before start",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Start: base, Stop: base.Add(-time.Minute), Title: "Show"},
			wantErr: ErrInvalidTimeRange,
		},
		{
			name:    "stop equals start",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Start: base, Stop: base, Title: "Show"},
			wantErr: ErrInvalidTimeRange,
		},
		{
			name:    "valid",
			program: &EpgProgram{ChannelKey: "bbc1.uk", Start: base, Stop: base.Add(time.Hour), Title: "Show"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.program.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEpgProgram_Normalize(t *testing.T) {
	zero := 0
	neg := -2
	five := 5
	p := &EpgProgram{
		ChannelKey:    "  bbc1.uk  ",
		Title:         strings.Repeat("a", MaxProgramTitleLen+40),
		Description:   strings.Repeat("b", MaxProgramDescriptionLen+100),
		EpisodeNumber: &zero,
		SeasonNumber:  &neg,
	}
	p.Normalize()

	if p.ChannelKey != "bbc1.uk" {
		t.Errorf("expected trimmed channel key, got %q", p.ChannelKey)
	}
	if len(p.Title) != MaxProgramTitleLen {
		t.Errorf("expected title truncated to %d, got %d", MaxProgramTitleLen, len(p.Title))
	}
	if len(p.Description) != MaxProgramDescriptionLen {
		t.Errorf("expected description truncated to %d, got %d", MaxProgramDescriptionLen, len(p.Description))
	}
	if p.EpisodeNumber != nil {
		t.Error("expected non-positive episode number nulled")
	}
	if p.SeasonNumber != nil {
		t.Error("expected non-positive season number nulled")
	}

	q := &EpgProgram{ChannelKey: "x", Title: "t", EpisodeNumber: &five}
	q.Normalize()
	if q.EpisodeNumber == nil || *q.EpisodeNumber != 5 {
		t.Error("expected positive episode number preserved")
	}
}

func TestEpgProgram_IsOnAirAt(t *testing.T) {
	start := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	p := &EpgProgram{Start: start, Stop: start.Add(time.Hour)}

	if p.IsOnAirAt(start.Add(-time.Second)) {
		t.Error("expected not on air before start")
	}
	if !p.IsOnAirAt(start) {
		t.Error("expected on air at inclusive start")
	}
	if !p.IsOnAirAt(start.Add(30 * time.Minute)) {
		t.Error("expected on air mid-program")
	}
	if p.IsOnAirAt(start.Add(time.Hour)) {
		t.Error("expected not on air at exclusive stop")
	}
}

func TestEpgProgram_Keywords(t *testing.T) {
	p := &EpgProgram{}
	p.SetKeywords([]string{"news", " weather ", ""})

	got := p.KeywordList()
	if len(got) != 2 || got[0] != "news" || got[1] != "weather" {
		t.Errorf("unexpected keyword list: %v", got)
	}

	p.SetKeywords(nil)
	if p.Keywords != "" {
		t.Errorf("expected empty keywords column, got %q", p.Keywords)
	}
	if p.KeywordList() != nil {
		t.Error("expected nil keyword list for empty column")
	}
}

func TestEpgProgram_ProgramKey(t *testing.T) {
	start := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	p := &EpgProgram{ChannelKey: "bbc1.uk", Start: start}
	want := "bbc1.uk|2026-01-10T20:00:00Z"
	if got := p.ProgramKey(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
