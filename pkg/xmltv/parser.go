// Package xmltv provides streaming XMLTV parsing and writing for
// electronic program guide data.
package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/net/html/charset"
)

// Programme is a single program entry in an XMLTV document.
type Programme struct {
	Channel        string
	Start          time.Time
	Stop           time.Time
	Title          string
	SubTitle       string
	Description    string
	Categories     []string
	Keywords       []string
	Year           int
	Country        string
	Icon           string
	Rating         string
	Language       string
	TimezoneOffset string

	// Episode numbering, collected from every episode-num system present.
	SeasonNumber  *int
	EpisodeNumber *int
	EpisodeNum    string // onscreen form, e.g. "S01E02"
	SeriesID      string

	// Flags.
	New              bool
	Premiere         bool
	Finale           bool
	Live             bool
	HD               bool
	Subtitles        bool
	AudioDescription bool
}

// Channel is a channel definition in an XMLTV document.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Parser provides streaming XMLTV parsing with callback-based
// processing so multi-hundred-megabyte guides never load whole.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each parsed programme.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable per-element errors.
	OnError func(err error)
}

// parseTime parses the XMLTV time format "20060102150405 -0700" with
// the usual truncated variants feeds produce.
func parseTime(s string) (time.Time, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "", fmt.Errorf("empty time string")
	}

	var tzOffset string
	if parts := strings.SplitN(s, " ", 2); len(parts) == 2 {
		tzOffset = strings.TrimSpace(parts[1])
	}

	formats := []string{
		"20060102150405 -0700",
		"20060102150405",
		"200601021504 -0700",
		"200601021504",
		"2006010215",
		"20060102",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, tzOffset, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("unable to parse time: %s", s)
}

// xmltvNsRe matches the xmltv_ns episode numbering "S.E.P" where each
// part may carry a "/total" suffix or be empty.
var xmltvNsRe = regexp.MustCompile(`^\s*(\d*)\s*(?:/\s*\d+)?\s*\.\s*(\d*)\s*(?:/\s*\d+)?\s*\.\s*(\d*)\s*(?:/\s*\d+)?\s*$`)

// onscreenRe matches the onscreen form "S01E02".
var onscreenRe = regexp.MustCompile(`(?i)S(\d+)\s*E(\d+)`)

// Parse parses an XMLTV document from r. Non-UTF-8 documents are
// transcoded according to their declared encoding.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		elem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch elem.Name.Local {
		case "channel":
			if p.OnChannel == nil {
				_ = decoder.Skip()
				continue
			}
			ch, err := p.parseChannel(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if err := p.OnChannel(ch); err != nil {
				return fmt.Errorf("channel callback: %w", err)
			}
		case "programme":
			if p.OnProgramme == nil {
				_ = decoder.Skip()
				continue
			}
			prog, err := p.parseProgramme(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if err := p.OnProgramme(prog); err != nil {
				return fmt.Errorf("programme callback: %w", err)
			}
		}
	}
	return nil
}

// DecompressReader sniffs gzip, bzip2 and xz magic bytes and returns a
// reader over the decompressed document. Plain documents pass through.
// Feeds serve compressed payloads without Content-Encoding often enough
// that the header cannot be trusted.
func DecompressReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	default:
		return br, nil
	}
}

// ParseCompressed parses a potentially compressed XMLTV document,
// detecting the compression format by magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	reader, err := DecompressReader(r)
	if err != nil {
		return err
	}
	return p.Parse(reader)
}

func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	ch := &Channel{}
	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			ch.ID = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "display-name":
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil && ch.DisplayName == "" {
					ch.DisplayName = strings.TrimSpace(name)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						ch.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "url":
				var url string
				if err := decoder.DecodeElement(&url, &elem); err == nil {
					ch.URL = strings.TrimSpace(url)
				}
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "channel" {
				return ch, nil
			}
		}
	}
}

func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{}

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "start":
			if t, tz, err := parseTime(attr.Value); err == nil {
				prog.Start = t
				prog.TimezoneOffset = tz
			}
		case "stop":
			if t, _, err := parseTime(attr.Value); err == nil {
				prog.Stop = t
			}
		case "channel":
			prog.Channel = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "title":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(s)
				}
			case "sub-title":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil && prog.SubTitle == "" {
					prog.SubTitle = strings.TrimSpace(s)
				}
			case "desc":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil && prog.Description == "" {
					prog.Description = strings.TrimSpace(s)
				}
			case "category":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil {
					if s = strings.TrimSpace(s); s != "" {
						prog.Categories = append(prog.Categories, s)
					}
				}
			case "keyword":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil {
					if s = strings.TrimSpace(s); s != "" {
						prog.Keywords = append(prog.Keywords, s)
					}
				}
			case "date":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil {
					s = strings.TrimSpace(s)
					if len(s) > 4 {
						s = s[:4]
					}
					if y, err := strconv.Atoi(s); err == nil {
						prog.Year = y
					}
				}
			case "country":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil && prog.Country == "" {
					prog.Country = strings.TrimSpace(s)
				}
			case "language":
				var s string
				if err := decoder.DecodeElement(&s, &elem); err == nil {
					prog.Language = strings.TrimSpace(s)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						prog.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "episode-num":
				p.parseEpisodeNum(decoder, &elem, prog)
			case "rating":
				p.parseRating(decoder, prog)
			case "video":
				p.parseVideo(decoder, prog)
			case "subtitles":
				prog.Subtitles = true
				_ = decoder.Skip()
			case "audio-described":
				prog.AudioDescription = true
				_ = decoder.Skip()
			case "new":
				prog.New = true
				_ = decoder.Skip()
			case "premiere":
				prog.Premiere = true
				_ = decoder.Skip()
			case "last-chance":
				prog.Finale = true
				_ = decoder.Skip()
			case "live":
				prog.Live = true
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "programme" {
				return prog, nil
			}
		}
	}
}

// parseEpisodeNum handles the three numbering systems feeds use:
// xmltv_ns (zero-based S.E.P), onscreen (SxxEyy) and dd_progid.
func (p *Parser) parseEpisodeNum(decoder *xml.Decoder, start *xml.StartElement, prog *Programme) {
	system := ""
	for _, attr := range start.Attr {
		if attr.Name.Local == "system" {
			system = attr.Value
		}
	}
	var value string
	if err := decoder.DecodeElement(&value, start); err != nil {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch system {
	case "xmltv_ns":
		m := xmltvNsRe.FindStringSubmatch(value)
		if m == nil {
			return
		}
		if m[1] != "" {
			if n, err := strconv.Atoi(m[1]); err == nil {
				season := n + 1
				prog.SeasonNumber = &season
			}
		}
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil {
				episode := n + 1
				prog.EpisodeNumber = &episode
			}
		}
	case "onscreen", "":
		if prog.EpisodeNum == "" {
			prog.EpisodeNum = value
		}
		if m := onscreenRe.FindStringSubmatch(value); m != nil {
			if prog.SeasonNumber == nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					prog.SeasonNumber = &n
				}
			}
			if prog.EpisodeNumber == nil {
				if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
					prog.EpisodeNumber = &n
				}
			}
		}
	case "dd_progid":
		prog.SeriesID = value
	}
}

func (p *Parser) parseRating(decoder *xml.Decoder, prog *Programme) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}
		switch elem := token.(type) {
		case xml.StartElement:
			if elem.Name.Local == "value" {
				var value string
				if err := decoder.DecodeElement(&value, &elem); err == nil && prog.Rating == "" {
					prog.Rating = strings.TrimSpace(value)
				}
			} else {
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "rating" {
				return
			}
		}
	}
}

// parseVideo extracts the HD flag from the video quality element.
func (p *Parser) parseVideo(decoder *xml.Decoder, prog *Programme) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}
		switch elem := token.(type) {
		case xml.StartElement:
			if elem.Name.Local == "quality" {
				var q string
				if err := decoder.DecodeElement(&q, &elem); err == nil {
					q = strings.ToUpper(strings.TrimSpace(q))
					if strings.Contains(q, "HD") || q == "1080I" || q == "1080P" || q == "720P" {
						prog.HD = true
					}
				}
			} else {
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "video" {
				return
			}
		}
	}
}

func (p *Parser) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

// ParseAll parses an entire document and returns all programmes. Use
// Parse with callbacks for large files.
func ParseAll(r io.Reader) ([]*Programme, error) {
	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}
	if err := p.Parse(r); err != nil {
		return nil, err
	}
	return programmes, nil
}
