// Package exposition reads values out of a Prometheus text exposition body. The
// parser is deliberately tolerant: comments, blank lines and anything malformed
// are skipped rather than reported.
package exposition

import (
	"math"
	"strconv"
	"strings"
)

// Sample is one well-formed line of an exposition body. Labels are kept as the
// raw text between the braces and are not interpreted.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Lookup returns the value of the first line whose metric name equals name exactly.
func Lookup(body, name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	var found float64
	var ok bool
	scanLines(body, func(line string) bool {
		if !strings.HasPrefix(line, name) {
			return true
		}
		// the name must end at '{' or whitespace, so "x" does not match "x_total"
		if rest := line[len(name):]; rest == "" || (rest[0] != '{' && !isSpace(rest[0])) {
			return true
		}
		s, parsed := parseLine(line)
		if !parsed || s.Name != name {
			return true
		}
		found, ok = s.Value, true
		return false
	})
	return found, ok
}

// Parse returns every well-formed sample in body, in order.
func Parse(body string) []Sample {
	var out []Sample
	scanLines(body, func(line string) bool {
		if s, ok := parseLine(line); ok {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Ratio returns num/(num+den) for two counters, e.g. hits and misses. It is not
// found when either counter is missing or both are zero.
func Ratio(body, num, den string) (float64, bool) {
	n, ok := Lookup(body, num)
	if !ok {
		return 0, false
	}
	d, ok := Lookup(body, den)
	if !ok || n+d == 0 {
		return 0, false
	}
	return n / (n + d), true
}

// scanLines calls fn with each trimmed, non-comment, non-blank line until fn returns false.
func scanLines(body string, fn func(line string) bool) {
	for len(body) > 0 {
		var line string
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			line, body = body[:i], body[i+1:]
		} else {
			line, body = body, ""
		}
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if !fn(line) {
			return
		}
	}
}

// parseLine parses `name{labels} value [timestamp]` or `name value [timestamp]`.
func parseLine(line string) (Sample, bool) {
	i := 0
	for i < len(line) && isNameChar(line[i], i == 0) {
		i++
	}
	if i == 0 {
		return Sample{}, false
	}
	s := Sample{Name: line[:i]}
	rest := line[i:]

	if strings.HasPrefix(rest, "{") {
		end, ok := labelsEnd(rest)
		if !ok {
			return Sample{}, false
		}
		s.Labels = rest[1:end]
		rest = rest[end+1:]
	}

	if rest == "" || !isSpace(rest[0]) {
		return Sample{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > 2 {
		return Sample{}, false
	}
	v, ok := parseValue(fields[0])
	if !ok {
		return Sample{}, false
	}
	if len(fields) == 2 {
		if _, err := strconv.ParseInt(fields[1], 10, 64); err != nil {
			return Sample{}, false
		}
	}
	s.Value = v
	return s, true
}

// labelsEnd returns the index of the '}' closing the label set that starts at s[0],
// honouring quoted values with escapes.
func labelsEnd(s string) (int, bool) {
	inQuote := false
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case !inQuote && c == '}':
			return i, true
		}
	}
	return 0, false
}

func parseValue(tok string) (float64, bool) {
	switch tok {
	case "NaN":
		return math.NaN(), true
	case "+Inf", "Inf":
		return math.Inf(1), true
	case "-Inf":
		return math.Inf(-1), true
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isNameChar(c byte, first bool) bool {
	if c == '_' || c == ':' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
		return true
	}
	return !first && '0' <= c && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
