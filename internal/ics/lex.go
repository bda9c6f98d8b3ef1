package ics

import (
	"strings"
)

// Line is one logical content line of an ICS document:
//
//	NAME;PARAM=VALUE;PARAM=VALUE:value
//
// Name and parameter keys are upper-cased; parameter values have their
// surrounding quotes removed. Value is kept raw (still escaped).
type Line struct {
	Name   string
	Params map[string]string
	Value  string
}

// Param returns the value of the named parameter, or "" if absent.
func (l Line) Param(key string) string {
	if l.Params == nil {
		return ""
	}
	return l.Params[strings.ToUpper(key)]
}

// Unfold normalizes line endings and joins folded continuation lines.
// A physical line starting with a space or horizontal tab continues the
// previous line; the single fold character is dropped. Empty lines are
// discarded.
func Unfold(doc string) []string {
	doc = strings.TrimPrefix(doc, "\uFEFF")
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = strings.ReplaceAll(doc, "\r", "\n")

	out := make([]string, 0, strings.Count(doc, "\n")+1)
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, raw := range strings.Split(doc, "\n") {
		if raw == "" {
			continue
		}
		if raw[0] == ' ' || raw[0] == '\t' {
			cur.WriteString(raw[1:])
			continue
		}
		flush()
		cur.WriteString(raw)
	}
	flush()

	return out
}

// ParseLine splits one unfolded line into name, parameters and value.
// The split happens on the first ':' outside a quoted parameter value.
// ok is false for lines without a separator or without a name.
func ParseLine(s string) (Line, bool) {
	sep := indexOutsideQuotes(s, ':')
	if sep < 0 {
		return Line{}, false
	}

	head, value := s[:sep], s[sep+1:]
	parts := splitOutsideQuotes(head, ';')

	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if name == "" {
		return Line{}, false
	}

	l := Line{Name: name, Value: value}
	for _, p := range parts[1:] {
		k, v, found := strings.Cut(p, "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if !found || k == "" {
			continue
		}
		if l.Params == nil {
			l.Params = make(map[string]string, len(parts)-1)
		}
		l.Params[k] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return l, true
}

// Tokenize unfolds doc and returns its logical lines in order. Malformed
// lines are skipped.
func Tokenize(doc string) []Line {
	physical := Unfold(doc)
	lines := make([]Line, 0, len(physical))
	for _, raw := range physical {
		l, ok := ParseLine(raw)
		if !ok {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func indexOutsideQuotes(s string, sep byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				return i
			}
		}
	}
	return -1
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	for {
		i := indexOutsideQuotes(s, sep)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i+1:]
	}
}
