package models

import (
	"errors"
	"testing"
)

func TestChannel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		channel *Channel
		wantErr error
	}{
		{
			name:    "empty name",
			channel: &Channel{Number: 1, Name: ""},
			wantErr: ErrNameRequired,
		},
		{
			name:    "zero number",
			channel: &Channel{Number: 0, Name: "Test"},
			wantErr: ErrNumberRequired,
		},
		{
			name:    "negative number",
			channel: &Channel{Number: -3, Name: "Test"},
			wantErr: ErrNumberRequired,
		},
		{
			name:    "valid channel",
			channel: &Channel{Number: 100, Name: "News One"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.channel.Validate()
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

func TestChannel_IsEnabled(t *testing.T) {
	enabled := &Channel{Enabled: BoolPtr(true)}
	disabled := &Channel{Enabled: BoolPtr(false)}
	unset := &Channel{}

	if !enabled.IsEnabled() {
		t.Error("expected enabled channel to report enabled")
	}
	if disabled.IsEnabled() {
		t.Error("expected disabled channel to report disabled")
	}
	if !unset.IsEnabled() {
		t.Error("expected nil Enabled to default to true")
	}
}

func TestChannel_GuideChannelID(t *testing.T) {
	withEpgID := &Channel{ID: "0e3bdcf4-57b4-4f3c-a1a1-0c0c0c0c0c0c", EpgID: "bbc1.uk"}
	withoutEpgID := &Channel{ID: "0e3bdcf4-57b4-4f3c-a1a1-0c0c0c0c0c0c"}

	if got := withEpgID.GuideChannelID(); got != "bbc1.uk" {
		t.Errorf("expected epg_id, got %s", got)
	}
	if got := withoutEpgID.GuideChannelID(); got != withoutEpgID.ID {
		t.Errorf("expected channel id fallback, got %s", got)
	}
}

func TestChannel_PrimaryStream(t *testing.T) {
	ch := &Channel{
		Number: 1,
		Name:   "Test",
		Streams: []Stream{
			{ID: "a", URL: "http://a.example/ts", Kind: StreamKindHTTP, Enabled: BoolPtr(false)},
			{ID: "b", URL: "http://b.example/ts", Kind: StreamKindHTTP, Enabled: BoolPtr(true)},
			{ID: "c", URL: "http://c.example/ts", Kind: StreamKindHTTP, Enabled: BoolPtr(true)},
		},
	}

	primary := ch.PrimaryStream()
	if primary == nil {
		t.Fatal("expected a primary stream")
	}
	if primary.ID != "b" {
		t.Errorf("expected first enabled stream b, got %s", primary.ID)
	}

	empty := &Channel{Number: 2, Name: "Empty"}
	if empty.PrimaryStream() != nil {
		t.Error("expected nil primary stream for channel without streams")
	}
}

func TestChannel_BeforeCreateAssignsID(t *testing.T) {
	ch := &Channel{Number: 5, Name: "Auto ID"}
	if err := ch.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate returned error: %v", err)
	}
	if !IsUUID(ch.ID) {
		t.Errorf("expected generated UUID, got %q", ch.ID)
	}
}
