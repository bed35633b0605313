// Package dates coerces the date strings found in stored and remote records
// into the canonical YYYY-MM-DD form.
package dates

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ganancias/internal/core"
)

// Layout is the canonical date representation.
const Layout = time.DateOnly

var (
	isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	// now is replaced in tests.
	now = time.Now

	months = map[string]time.Month{
		"enero":      time.January,
		"febrero":    time.February,
		"marzo":      time.March,
		"abril":      time.April,
		"mayo":       time.May,
		"junio":      time.June,
		"julio":      time.July,
		"agosto":     time.August,
		"septiembre": time.September,
		"setiembre":  time.September,
		"octubre":    time.October,
		"noviembre":  time.November,
		"diciembre":  time.December,
	}

	isoLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000",
		"2006-01-02 15:04:05",
	}

	genericLayouts = []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon Jan 2 2006",
		"2 January 2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2006/01/02",
	}
)

// Normalize returns s as YYYY-MM-DD, or today's date when no strategy
// understands it. The fallback is logged with the raw value.
func Normalize(s string) string {
	out, ok := Parse(s)
	if !ok {
		slog.Warn("Date fell back to today", "raw", s, "date", out)
	}
	return out
}

// Parse is Normalize without the log; ok is false when the result is the
// fallback date.
func Parse(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return today(), false
	}
	for _, strategy := range []func(string) (time.Time, bool){
		parseExact,
		parseISO,
		parseSpanish,
		parseSlashed,
		parseGeneric,
	} {
		if t, ok := strategy(s); ok {
			return t.Format(Layout), true
		}
	}
	return today(), false
}

// IsCanonical reports whether s already is a valid YYYY-MM-DD date.
func IsCanonical(s string) bool {
	_, ok := parseExact(s)
	return ok
}

func today() string {
	return now().Format(Layout)
}

func parseExact(s string) (time.Time, bool) {
	if !isoDate.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(Layout, s)
	return t, err == nil
}

// parseISO keeps the calendar date as written, without converting zones.
func parseISO(s string) (time.Time, bool) {
	if !strings.Contains(s, "T") && !strings.Contains(s, ":") {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseSpanish reads "10 de septiembre de 2025" and variants such as
// "10 Septiembre, 2025" or "septiembre 10 de 2025".
func parseSpanish(s string) (time.Time, bool) {
	folded := core.Fold(s)
	folded = strings.NewReplacer(",", " ", ".", " ").Replace(folded)

	var (
		month     time.Month
		numbers   []int
		hasLetter bool
	)
	for _, f := range strings.Fields(folded) {
		switch f {
		case "de", "del":
			continue
		}
		if m, ok := months[f]; ok {
			if month != 0 {
				return time.Time{}, false
			}
			month = m
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			hasLetter = true
			continue
		}
		numbers = append(numbers, n)
	}
	if month == 0 || hasLetter || len(numbers) != 2 {
		return time.Time{}, false
	}

	day, year := numbers[0], numbers[1]
	if day > 31 {
		day, year = year, day
	}
	return civil(year, month, day)
}

// parseSlashed reads day/month/year.
func parseSlashed(s string) (time.Time, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, false
		}
		n[i] = v
	}
	day, month, year := n[0], n[1], n[2]
	if year < 100 {
		year += 2000
	}
	return civil(year, time.Month(month), day)
}

func parseGeneric(s string) (time.Time, bool) {
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// civil rejects dates that time.Date would silently roll over.
func civil(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || year < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}
