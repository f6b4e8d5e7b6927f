package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// Sanitize reduces raw backend output to the text most likely to parse as
// JSON: fenced blocks are unwrapped, backticks dropped, whitespace and control
// characters collapsed, and the result trimmed to the outermost object or
// array. Empty input yields "{}". Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	text := trimToOuter(unwrap(raw))
	if text == "" {
		return "{}"
	}
	return text
}

// DecodeJSON sanitizes raw and unmarshals it into v. When the first bracket
// found was the wrong kind, it retries on the other kind before giving up.
func DecodeJSON(raw string, v any) error {
	text := Sanitize(raw)
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	base := unwrap(raw)
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		if alt := between(base, pair[0], pair[1]); alt != "" && alt != text {
			if json.Unmarshal([]byte(alt), v) == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("decode structured response: %w (text: %s)", err, truncate(text, 200))
}

func unwrap(raw string) string {
	text := raw
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	text = strings.ReplaceAll(text, "`", "")
	return collapseSpace(text)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}

func trimToOuter(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

func between(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
