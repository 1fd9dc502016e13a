package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

// OutChannel is a channel definition for guide output. Plex matches the
// second display-name and the lcn element against its lineup numbers.
type OutChannel struct {
	ID     string
	Name   string
	Number int
	Icon   string
}

// OutProgramme is a programme entry for guide output.
type OutProgramme struct {
	Channel     string
	Start       time.Time
	Stop        time.Time
	Title       string
	SubTitle    string
	Description string
	Categories  []string
	Keywords    []string
	Year        int
	Country     string
	Icon        string
	Rating      string
	Language    string

	SeasonNumber  *int
	EpisodeNumber *int
	SeriesID      string

	New              bool
	Premiere         bool
	Finale           bool
	Live             bool
	HD               bool
	Subtitles        bool
	AudioDescription bool

	// TypeMarker and ContentType are emitted as extra episode-num
	// systems for restrictive clients that refuse untyped entries.
	TypeMarker  string
	ContentType int
}

// Writer emits an XMLTV document incrementally: header, channels,
// programmes, footer.
type Writer struct {
	w             io.Writer
	generatorName string
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates an XMLTV writer.
func NewWriter(w io.Writer, generatorName string) *Writer {
	if generatorName == "" {
		generatorName = "plexbridge"
	}
	return &Writer{w: w, generatorName: generatorName}
}

// WriteHeader writes the XML declaration and opens the tv element.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "<tv generator-info-name=%q>\n", w.generatorName); err != nil {
		return fmt.Errorf("writing tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes a channel definition with the dual display-name
// and lcn elements guide clients key on. All channels must be written
// before any programme.
func (w *Writer) WriteChannel(ch *OutChannel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	fmt.Fprintf(w.w, "  <channel id=%q>\n", escape(ch.ID))
	fmt.Fprintf(w.w, "    <display-name>%s</display-name>\n", escape(ch.Name))
	fmt.Fprintf(w.w, "    <display-name>%d</display-name>\n", ch.Number)
	fmt.Fprintf(w.w, "    <lcn>%d</lcn>\n", ch.Number)
	if ch.Icon != "" {
		fmt.Fprintf(w.w, "    <icon src=%q/>\n", escape(ch.Icon))
	}
	_, err := fmt.Fprintln(w.w, "  </channel>")
	return err
}

// WriteProgramme writes one programme entry.
func (w *Writer) WriteProgramme(prog *OutProgramme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	lang := prog.Language
	if lang == "" {
		lang = "en"
	}

	fmt.Fprintf(w.w, "  <programme start=%q stop=%q channel=%q>\n",
		FormatTime(prog.Start), FormatTime(prog.Stop), escape(prog.Channel))

	fmt.Fprintf(w.w, "    <title lang=%q>%s</title>\n", lang, escape(prog.Title))
	if prog.SubTitle != "" {
		fmt.Fprintf(w.w, "    <sub-title lang=%q>%s</sub-title>\n", lang, escape(prog.SubTitle))
	}
	fmt.Fprintf(w.w, "    <desc lang=%q>%s</desc>\n", lang, escape(prog.Description))

	for _, cat := range prog.Categories {
		if cat == "" {
			continue
		}
		fmt.Fprintf(w.w, "    <category lang=%q>%s</category>\n", lang, escape(cat))
	}
	for _, kw := range prog.Keywords {
		if kw == "" {
			continue
		}
		fmt.Fprintf(w.w, "    <keyword lang=%q>%s</keyword>\n", lang, escape(kw))
	}

	if prog.Year > 0 {
		fmt.Fprintf(w.w, "    <date>%d</date>\n", prog.Year)
	}
	if prog.Country != "" {
		fmt.Fprintf(w.w, "    <country>%s</country>\n", escape(prog.Country))
	}
	if prog.Icon != "" {
		fmt.Fprintf(w.w, "    <icon src=%q/>\n", escape(prog.Icon))
	}

	w.writeEpisodeNums(prog)

	// Fixed technical blocks; guide clients use them to pick badges.
	quality := "SDTV"
	if prog.HD {
		quality = "HDTV"
	}
	fmt.Fprintf(w.w, "    <video>\n      <colour>yes</colour>\n      <aspect>16:9</aspect>\n      <quality>%s</quality>\n    </video>\n", quality)
	fmt.Fprint(w.w, "    <audio>\n      <stereo>stereo</stereo>\n    </audio>\n")

	if prog.Rating != "" {
		fmt.Fprintf(w.w, "    <rating>\n      <value>%s</value>\n    </rating>\n", escape(prog.Rating))
	}
	if prog.Subtitles {
		fmt.Fprintln(w.w, `    <subtitles type="teletext"/>`)
	}
	if prog.AudioDescription {
		fmt.Fprintln(w.w, `    <audio-described/>`)
	}
	if prog.New {
		fmt.Fprintln(w.w, "    <new/>")
	}
	if prog.Premiere {
		fmt.Fprintln(w.w, "    <premiere/>")
	}
	if prog.Finale {
		fmt.Fprintln(w.w, "    <last-chance/>")
	}
	if prog.Live {
		fmt.Fprintln(w.w, "    <live/>")
	}

	_, err := fmt.Fprintln(w.w, "  </programme>")
	return err
}

// writeEpisodeNums emits the xmltv_ns and onscreen forms when season or
// episode numbers are known, plus the type/content-type systems for
// synthesized entries.
func (w *Writer) writeEpisodeNums(prog *OutProgramme) {
	season, episode := 0, 0
	if prog.SeasonNumber != nil {
		season = *prog.SeasonNumber
	}
	if prog.EpisodeNumber != nil {
		episode = *prog.EpisodeNumber
	}
	if season > 0 || episode > 0 {
		// xmltv_ns is zero-based; missing parts stay empty.
		ns := ""
		if season > 0 {
			ns = strconv.Itoa(season - 1)
		}
		ns += "."
		if episode > 0 {
			ns += strconv.Itoa(episode - 1)
		}
		ns += "."
		fmt.Fprintf(w.w, "    <episode-num system=\"xmltv_ns\">%s</episode-num>\n", ns)

		if season > 0 && episode > 0 {
			fmt.Fprintf(w.w, "    <episode-num system=\"onscreen\">S%02dE%02d</episode-num>\n", season, episode)
		}
	}
	if prog.SeriesID != "" {
		fmt.Fprintf(w.w, "    <episode-num system=\"dd_progid\">%s</episode-num>\n", escape(prog.SeriesID))
	}
	if prog.TypeMarker != "" {
		fmt.Fprintf(w.w, "    <episode-num system=\"type\">%s</episode-num>\n", escape(prog.TypeMarker))
	}
	if prog.ContentType > 0 {
		fmt.Fprintf(w.w, "    <episode-num system=\"content-type\">%d</episode-num>\n", prog.ContentType)
	}
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.w, "</tv>")
	return err
}

// FormatTime formats a time in XMLTV local-time form.
func FormatTime(t time.Time) string {
	return t.Format("20060102150405 -0700")
}

// escape escapes the XML entities & < > " '.
func escape(s string) string {
	var buf []byte
	_ = xml.EscapeText((*escapeBuf)(&buf), []byte(s))
	return string(buf)
}

type escapeBuf []byte

func (b *escapeBuf) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
