package xmltv

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="channel1.tv">
    <display-name>Channel One</display-name>
    <icon src="http://example.com/logo1.png"/>
    <url>http://example.com/channel1</url>
  </channel>
  <channel id="channel2.tv">
    <display-name>Channel Two</display-name>
  </channel>
  <programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="channel1.tv">
    <title>News at Six</title>
    <sub-title>Evening Edition</sub-title>
    <desc>The latest news and weather.</desc>
    <category>News</category>
    <category>Current Affairs</category>
    <keyword>weather</keyword>
    <date>2024</date>
    <country>GB</country>
    <icon src="http://example.com/news.png"/>
    <episode-num system="onscreen">S01E05</episode-num>
    <rating>
      <value>TV-PG</value>
    </rating>
    <language>en</language>
    <video>
      <quality>HDTV</quality>
    </video>
    <subtitles type="teletext"/>
    <new/>
    <live/>
  </programme>
  <programme start="20240115190000 +0000" stop="20240115200000 +0000" channel="channel1.tv">
    <title>Evening Drama</title>
    <desc>A dramatic story unfolds.</desc>
    <category>Drama</category>
    <premiere/>
    <last-chance/>
  </programme>
</tv>`

func TestParser_ParseChannels(t *testing.T) {
	var channels []*Channel
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
	}

	err := p.Parse(strings.NewReader(sampleXMLTV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}

	ch1 := channels[0]
	if ch1.ID != "channel1.tv" {
		t.Errorf("expected ID 'channel1.tv', got %q", ch1.ID)
	}
	if ch1.DisplayName != "Channel One" {
		t.Errorf("expected DisplayName 'Channel One', got %q", ch1.DisplayName)
	}
	if ch1.Icon != "http://example.com/logo1.png" {
		t.Errorf("expected Icon URL, got %q", ch1.Icon)
	}
	if ch1.URL != "http://example.com/channel1" {
		t.Errorf("expected URL, got %q", ch1.URL)
	}

	if channels[1].ID != "channel2.tv" {
		t.Errorf("expected ID 'channel2.tv', got %q", channels[1].ID)
	}
}

func TestParser_ParseProgrammes(t *testing.T) {
	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	err := p.Parse(strings.NewReader(sampleXMLTV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(programmes) != 2 {
		t.Fatalf("expected 2 programmes, got %d", len(programmes))
	}

	prog1 := programmes[0]
	if prog1.Channel != "channel1.tv" {
		t.Errorf("expected channel 'channel1.tv', got %q", prog1.Channel)
	}
	if prog1.Title != "News at Six" {
		t.Errorf("expected title 'News at Six', got %q", prog1.Title)
	}
	if prog1.SubTitle != "Evening Edition" {
		t.Errorf("expected subtitle 'Evening Edition', got %q", prog1.SubTitle)
	}
	if prog1.Description != "The latest news and weather." {
		t.Errorf("expected description, got %q", prog1.Description)
	}
	if len(prog1.Categories) != 2 || prog1.Categories[0] != "News" {
		t.Errorf("expected categories [News, Current Affairs], got %v", prog1.Categories)
	}
	if len(prog1.Keywords) != 1 || prog1.Keywords[0] != "weather" {
		t.Errorf("expected keywords [weather], got %v", prog1.Keywords)
	}
	if prog1.Year != 2024 {
		t.Errorf("expected year 2024, got %d", prog1.Year)
	}
	if prog1.Country != "GB" {
		t.Errorf("expected country 'GB', got %q", prog1.Country)
	}
	if prog1.Icon != "http://example.com/news.png" {
		t.Errorf("expected icon, got %q", prog1.Icon)
	}
	if prog1.EpisodeNum != "S01E05" {
		t.Errorf("expected episode num 'S01E05', got %q", prog1.EpisodeNum)
	}
	if prog1.SeasonNumber == nil || *prog1.SeasonNumber != 1 {
		t.Errorf("expected season 1, got %v", prog1.SeasonNumber)
	}
	if prog1.EpisodeNumber == nil || *prog1.EpisodeNumber != 5 {
		t.Errorf("expected episode 5, got %v", prog1.EpisodeNumber)
	}
	if prog1.Rating != "TV-PG" {
		t.Errorf("expected rating 'TV-PG', got %q", prog1.Rating)
	}
	if prog1.Language != "en" {
		t.Errorf("expected language 'en', got %q", prog1.Language)
	}
	if !prog1.HD {
		t.Error("expected HD to be true")
	}
	if !prog1.Subtitles {
		t.Error("expected Subtitles to be true")
	}
	if !prog1.New {
		t.Error("expected New to be true")
	}
	if !prog1.Live {
		t.Error("expected Live to be true")
	}
	if prog1.Premiere {
		t.Error("expected Premiere to be false")
	}

	expectedStart := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	if !prog1.Start.Equal(expectedStart) {
		t.Errorf("expected start time %v, got %v", expectedStart, prog1.Start)
	}
	expectedStop := time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)
	if !prog1.Stop.Equal(expectedStop) {
		t.Errorf("expected stop time %v, got %v", expectedStop, prog1.Stop)
	}

	prog2 := programmes[1]
	if prog2.Title != "Evening Drama" {
		t.Errorf("expected title 'Evening Drama', got %q", prog2.Title)
	}
	if prog2.New {
		t.Error("expected New to be false")
	}
	if !prog2.Premiere {
		t.Error("expected Premiere to be true")
	}
	if !prog2.Finale {
		t.Error("expected Finale to be true")
	}
}

func TestParser_EpisodeNumSystems(t *testing.T) {
	tests := []struct {
		name        string
		episodeNums string
		season      int
		episode     int
		seriesID    string
	}{
		{
			name:        "xmltv_ns zero-based",
			episodeNums: `<episode-num system="xmltv_ns">1.4.</episode-num>`,
			season:      2,
			episode:     5,
		},
		{
			name:        "xmltv_ns with totals",
			episodeNums: `<episode-num system="xmltv_ns"> 0/3 . 12/24 . 0/2 </episode-num>`,
			season:      1,
			episode:     13,
		},
		{
			name:        "xmltv_ns episode only",
			episodeNums: `<episode-num system="xmltv_ns">.9.</episode-num>`,
			season:      0,
			episode:     10,
		},
		{
			name:        "onscreen",
			episodeNums: `<episode-num system="onscreen">S03E07</episode-num>`,
			season:      3,
			episode:     7,
		},
		{
			name:        "onscreen with space",
			episodeNums: `<episode-num system="onscreen">s2 e11</episode-num>`,
			season:      2,
			episode:     11,
		},
		{
			name:        "missing system treated as onscreen",
			episodeNums: `<episode-num>S04E01</episode-num>`,
			season:      4,
			episode:     1,
		},
		{
			name:        "dd_progid",
			episodeNums: `<episode-num system="dd_progid">EP012345670123</episode-num>`,
			seriesID:    "EP012345670123",
		},
		{
			name: "xmltv_ns wins over onscreen",
			episodeNums: `<episode-num system="xmltv_ns">4.0.</episode-num>` +
				`<episode-num system="onscreen">S99E99</episode-num>`,
			season:  5,
			episode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `<tv><programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="ch1">` +
				`<title>Show</title>` + tt.episodeNums + `</programme></tv>`

			programmes, err := ParseAll(strings.NewReader(doc))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(programmes) != 1 {
				t.Fatalf("expected 1 programme, got %d", len(programmes))
			}
			prog := programmes[0]

			if tt.season > 0 {
				if prog.SeasonNumber == nil || *prog.SeasonNumber != tt.season {
					t.Errorf("expected season %d, got %v", tt.season, prog.SeasonNumber)
				}
			} else if prog.SeasonNumber != nil {
				t.Errorf("expected no season, got %d", *prog.SeasonNumber)
			}
			if tt.episode > 0 {
				if prog.EpisodeNumber == nil || *prog.EpisodeNumber != tt.episode {
					t.Errorf("expected episode %d, got %v", tt.episode, prog.EpisodeNumber)
				}
			} else if prog.EpisodeNumber != nil {
				t.Errorf("expected no episode, got %d", *prog.EpisodeNumber)
			}
			if prog.SeriesID != tt.seriesID {
				t.Errorf("expected series ID %q, got %q", tt.seriesID, prog.SeriesID)
			}
		})
	}
}

func TestParser_CallbackError(t *testing.T) {
	expectedErr := errors.New("callback failed")
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			return expectedErr
		},
	}

	err := p.Parse(strings.NewReader(sampleXMLTV))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "callback") {
		t.Errorf("expected callback error, got: %v", err)
	}
}

func TestParser_ChannelCallbackError(t *testing.T) {
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			return errors.New("channel callback failed")
		},
	}

	err := p.Parse(strings.NewReader(sampleXMLTV))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestParser_NonUTF8Encoding(t *testing.T) {
	// "Télé" in ISO-8859-1: é is a single 0xE9 byte.
	doc := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?>
<tv>
  <programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="ch1">
    <title>T` + "\xe9" + `l` + "\xe9" + ` Matin</title>
  </programme>
</tv>`)

	programmes, err := ParseAll(bytes.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(programmes) != 1 {
		t.Fatalf("expected 1 programme, got %d", len(programmes))
	}
	if programmes[0].Title != "Télé Matin" {
		t.Errorf("expected transcoded title, got %q", programmes[0].Title)
	}
}

func TestParser_ParseCompressed_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(sampleXMLTV))
	_ = gw.Close()

	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	err := p.ParseCompressed(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(programmes) != 2 {
		t.Errorf("expected 2 programmes, got %d", len(programmes))
	}
}

func TestParser_ParseCompressed_Uncompressed(t *testing.T) {
	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	err := p.ParseCompressed(strings.NewReader(sampleXMLTV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(programmes) != 2 {
		t.Errorf("expected 2 programmes, got %d", len(programmes))
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		offset   string
		wantErr  bool
	}{
		{
			input:    "20240115180000 +0000",
			expected: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC),
			offset:   "+0000",
		},
		{
			input:    "20240115180000 -0500",
			expected: time.Date(2024, 1, 15, 18, 0, 0, 0, time.FixedZone("", -5*3600)),
			offset:   "-0500",
		},
		{
			input:    "20240115180000",
			expected: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC),
		},
		{
			input:    "202401151800",
			expected: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC),
		},
		{
			input:    "20240115",
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			input:   "",
			wantErr: true,
		},
		{
			input:   "invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, offset, err := parseTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Equal(tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
			if offset != tt.offset {
				t.Errorf("expected offset %q, got %q", tt.offset, offset)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	programmes, err := ParseAll(strings.NewReader(sampleXMLTV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(programmes) != 2 {
		t.Errorf("expected 2 programmes, got %d", len(programmes))
	}
}

func TestParser_LargeFile(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(`<?xml version="1.0" encoding="UTF-8"?><tv>`)

	numProgrammes := 10000
	for range numProgrammes {
		builder.WriteString(`<programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="ch1">`)
		builder.WriteString(`<title>Programme Title</title>`)
		builder.WriteString(`<desc>Programme description goes here.</desc>`)
		builder.WriteString(`</programme>`)
	}
	builder.WriteString(`</tv>`)

	count := 0
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			count++
			return nil
		},
	}

	err := p.Parse(strings.NewReader(builder.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if count != numProgrammes {
		t.Errorf("expected %d programmes, got %d", numProgrammes, count)
	}
}

func BenchmarkParser_Parse(b *testing.B) {
	var builder strings.Builder
	builder.WriteString(`<?xml version="1.0" encoding="UTF-8"?><tv>`)
	for range 1000 {
		builder.WriteString(`<programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="ch1">`)
		builder.WriteString(`<title>Programme Title</title><desc>Description</desc><category>Category</category>`)
		builder.WriteString(`</programme>`)
	}
	builder.WriteString(`</tv>`)
	content := builder.String()

	for b.Loop() {
		p := &Parser{
			OnProgramme: func(prog *Programme) error {
				return nil
			},
		}
		_ = p.Parse(strings.NewReader(content))
	}
}
