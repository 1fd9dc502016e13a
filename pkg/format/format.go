// Package format renders counts, schedules, and timestamps for log and
// status output.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Count formats a count with its noun, pluralizing with a trailing s.
// Example: Count(2, "program") => "2 programs"
func Count(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return Number(n) + " " + noun + "s"
}

// CronDescription describes a standard 5-field cron expression in plain
// words. It covers the shapes the refresh scheduler emits; anything it
// does not recognize comes back unchanged.
func CronDescription(expr string) string {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return expr
	}
	min, hour, dom := fields[0], fields[1], fields[2]

	if n := stepOf(min); n > 0 && hour == "*" && dom == "*" {
		return fmt.Sprintf("every %d minutes", n)
	}

	m, mErr := strconv.Atoi(min)
	if mErr != nil {
		return expr
	}

	if n := stepOf(hour); n > 0 && dom == "*" {
		if n == 1 {
			return fmt.Sprintf("every hour at :%02d", m)
		}
		return fmt.Sprintf("every %d hours at :%02d", n, m)
	}

	h, hErr := strconv.Atoi(hour)
	if hErr != nil {
		return expr
	}

	if n := stepOf(dom); n > 0 {
		return fmt.Sprintf("every %d days at %02d:%02d", n, h, m)
	}
	if dom == "*" {
		return fmt.Sprintf("daily at %02d:%02d", h, m)
	}
	return expr
}

// stepOf returns N from a "*/N" or "A-B/N" field, or 0 when the field
// has no step.
func stepOf(field string) int {
	idx := strings.Index(field, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(field[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// RelativeTime formats a time as a relative duration from now.
// Example: RelativeTime(time.Now().Add(-5*time.Minute)) => "5 minutes ago"
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		return "in " + coarseDuration(-d)
	}
	if d < time.Minute {
		return "just now"
	}
	return coarseDuration(d) + " ago"
}

func coarseDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
