package timeparsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is built once; when.Parser is safe for concurrent Parse calls.
var nlpParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseNaturalLanguage parses natural-language time expressions like
// "tomorrow", "next monday at 2pm", or "3 days ago" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	result, err := nlpParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression: %q", s)
	}
	return result.Time, nil
}

// ParseRelativeTime parses a time expression using the layered strategy:
// compact duration first, then natural language, then absolute timestamps
// (date-only and RFC3339).
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	// Layer 1: compact duration (+6h, -1d, +2w)
	if IsCompactDuration(text) {
		return ParseCompactDuration(text, now)
	}

	// Layer 2: absolute timestamps. Tried before NLP so that exact dates
	// are never reinterpreted by the natural-language rules.
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	// Layer 3: natural language
	if t, err := ParseNaturalLanguage(text, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q (try +1d, \"yesterday\", 2006-01-02, or RFC3339)", s)
}
