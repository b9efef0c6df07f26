package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/gnemet/gridengine/internal/render"
)

// MaxValueLength caps sanitized filter values, in runes.
const MaxValueLength = 255

// Fragments removed from filter values until none remain. Values are bound
// as parameters regardless.
var dangerous = foldPatterns("<script", "drop", "union", "--", ";", "/*", "*/")

func foldPatterns(frags ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(frags))
	for i, f := range frags {
		out[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(f))
	}
	return out
}

// SanitizeValue strips markup, caps the length and removes dangerous
// fragments case-insensitively, repeating until the value is stable so that
// removals cannot splice a new fragment together.
func SanitizeValue(s string) string {
	s = render.StripTags(s)
	if utf8.RuneCountInString(s) > MaxValueLength {
		s = string([]rune(s)[:MaxValueLength])
	}
	for {
		next := s
		for _, re := range dangerous {
			next = re.ReplaceAllString(next, "")
		}
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// prefixPattern anchors term at the start of the value so the match can use
// an index.
func prefixPattern(term string) string {
	return likeEscaper.Replace(term) + "%"
}

// numericValue parses s as an int64 or, when fractional, an exact decimal.
func numericValue(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d, true
}

// parseDate accepts any layout dateparse understands. Date-only input is
// reported so upper bounds can be extended to the end of that day.
func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %q: %w", s, err)
	}
	dateOnly := !strings.Contains(s, ":") && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	return t, dateOnly, nil
}

// endOfDay is the last microsecond of t's day, PostgreSQL's timestamp
// resolution.
func endOfDay(t time.Time) time.Time {
	return t.AddDate(0, 0, 1).Add(-time.Microsecond)
}
