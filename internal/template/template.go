// Package template implements request templating with %RAND(min,max)%
// placeholders. Templates are parsed and validated once and expanded per
// request; expansion never fails.
package template

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	openToken  = "%RAND("
	closeToken = ")%"
)

// Error describes a malformed placeholder.
type Error struct {
	Input  string
	Offset int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid placeholder at offset %d in %q: %s", e.Offset, e.Input, e.Reason)
}

type segment struct {
	literal string
	random  bool
	min     int64
	max     int64
}

// Template is a parsed template. The zero value expands to the empty string.
// A Template is immutable and safe for concurrent use.
type Template struct {
	raw      string
	segments []segment
	randoms  int
}

// Parse scans s for %RAND(min,max)% placeholders. Every occurrence of
// "%RAND(" must start a well-formed placeholder with integer bounds and
// min <= max.
func Parse(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	offset := 0

	for {
		idx := strings.Index(rest, openToken)
		if idx == -1 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			return t, nil
		}

		if idx > 0 {
			t.segments = append(t.segments, segment{literal: rest[:idx]})
		}

		argsStart := idx + len(openToken)
		end := strings.Index(rest[argsStart:], closeToken)
		if end == -1 {
			return nil, &Error{Input: s, Offset: offset + idx, Reason: "unterminated placeholder, expected )%"}
		}

		min, max, err := parseBounds(rest[argsStart : argsStart+end])
		if err != nil {
			return nil, &Error{Input: s, Offset: offset + idx, Reason: err.Error()}
		}

		t.segments = append(t.segments, segment{random: true, min: min, max: max})
		t.randoms++

		consumed := argsStart + end + len(closeToken)
		rest = rest[consumed:]
		offset += consumed
	}
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level values.
func MustParse(s string) *Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Literal returns a template that always renders s verbatim, even if s
// contains placeholder syntax.
func Literal(s string) *Template {
	t := &Template{raw: s}
	if s != "" {
		t.segments = []segment{{literal: s}}
	}
	return t
}

func parseBounds(args string) (int64, int64, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("RAND(min,max) requires exactly 2 arguments, got %d", len(parts))
	}

	min, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid min value %q", strings.TrimSpace(parts[0]))
	}

	max, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid max value %q", strings.TrimSpace(parts[1]))
	}

	if min > max {
		return 0, 0, fmt.Errorf("min (%d) must be <= max (%d)", min, max)
	}
	return min, max, nil
}

// Raw returns the original text with placeholders left in place.
func (t *Template) Raw() string {
	if t == nil {
		return ""
	}
	return t.raw
}

// HasPlaceholders reports whether the template contains at least one
// placeholder.
func (t *Template) HasPlaceholders() bool {
	return t != nil && t.randoms > 0
}

// Expand renders the template, replacing each placeholder independently with
// a uniformly chosen integer in [min, max].
func (t *Template) Expand() string {
	if !t.HasPlaceholders() {
		return t.Raw()
	}
	return t.render(func(s segment) int64 { return randomBetween(s.min, s.max) })
}

// Sample renders the template with every placeholder replaced by its lower
// bound. Used to validate templated URLs before a run.
func (t *Template) Sample() string {
	if !t.HasPlaceholders() {
		return t.Raw()
	}
	return t.render(func(s segment) int64 { return s.min })
}

// Render expands placeholders when random is true and returns the raw text
// otherwise.
func (t *Template) Render(random bool) string {
	if random {
		return t.Expand()
	}
	return t.Raw()
}

func (t *Template) render(value func(segment) int64) string {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, s := range t.segments {
		if s.random {
			b.WriteString(strconv.FormatInt(value(s), 10))
			continue
		}
		b.WriteString(s.literal)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (t *Template) String() string {
	return t.Raw()
}
