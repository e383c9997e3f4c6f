package sanitize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON scans text for a brace/bracket-depth-balanced JSON-like
// substring, ignoring delimiters inside quoted strings, then strips
// line/block comments and trailing commas from it.
//
// The substring is returned whether or not it parses; when the text
// contains several balanced candidates, a parseable one is preferred.
// ok is false only when no JSON-shaped substring exists at all.
func ExtractJSON(text string) (result string, ok bool) {
	var first string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		candidate, end := balancedSpan(text, i)
		if candidate == "" {
			continue
		}
		cleaned := stripJSONComments(candidate)
		cleaned = stripTrailingCommas(cleaned)
		if gjson.Valid(cleaned) {
			return cleaned, true
		}
		if first == "" {
			first = cleaned
		}
		i = end
	}
	if first != "" {
		return first, true
	}
	return "", false
}

// balancedSpan returns the depth-balanced substring starting at start,
// and the index of its closing delimiter. Returns "" when the text ends
// before the span closes.
func balancedSpan(text string, start int) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], i
			}
		}
	}
	return "", len(text)
}

// stripJSONComments removes // line comments and /* */ block comments,
// leaving quoted strings untouched.
func stripJSONComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // skip the closing '/'
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// stripTrailingCommas removes commas that directly precede a closing
// brace or bracket (modulo whitespace), again skipping quoted strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
