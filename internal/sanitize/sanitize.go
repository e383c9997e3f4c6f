package sanitize

import (
	"strings"

	"inferd/internal/template"
)

const (
	// Repetition guard: a sequence of at least minLoopLen characters
	// repeated three times back to back marks a looping generation.
	minLoopLen = 5
	maxLoopLen = 80
	loopRepeat = 3
)

// Options carries per-request context for sanitization.
type Options struct {
	// LastUserMessage enables echo suppression: a response that opens by
	// repeating the user's message verbatim has that prefix removed.
	LastUserMessage string
}

// Sanitize cleans raw model output for the given family. It is a pure
// function: identical inputs always yield identical output and no input
// is mutated.
//
// The deepseek family is used primarily for structured internal calls,
// so instead of prose cleanup its output goes through JSON extraction.
func Sanitize(family template.Family, raw string, opts Options) string {
	if family == template.FamilyDeepseek {
		if extracted, ok := ExtractJSON(raw); ok {
			return extracted
		}
		// No JSON-shaped content at all: fall through to prose cleanup.
	}

	cleaned := strings.TrimSpace(StripControlTokens(family, raw))
	cleaned = suppressEcho(cleaned, opts.LastUserMessage)

	if loopAt(cleaned) >= 0 {
		cleaned = firstSentences(cleaned, 2)
	}
	return cleaned
}

// suppressEcho strips a leading verbatim repetition of the last user
// message, compared case-insensitively.
func suppressEcho(text, lastUser string) string {
	lastUser = strings.TrimSpace(lastUser)
	if lastUser == "" || len(text) < len(lastUser) {
		return text
	}
	if strings.EqualFold(text[:len(lastUser)], lastUser) {
		return strings.TrimSpace(text[len(lastUser):])
	}
	return text
}

// loopAt returns the index where a degenerate repetition starts, or -1.
// It looks for a sequence of 5..80 characters repeated three times in a
// row, which bounds the detection window to at most 240 characters.
func loopAt(text string) int {
	for i := 0; i < len(text); i++ {
		limit := maxLoopLen
		if rest := (len(text) - i) / loopRepeat; rest < limit {
			limit = rest
		}
		for l := minLoopLen; l <= limit; l++ {
			seq := text[i : i+l]
			if text[i+l:i+2*l] == seq && text[i+2*l:i+3*l] == seq {
				return i
			}
		}
	}
	return -1
}

// firstSentences truncates text to its first n sentences.
func firstSentences(text string, n int) string {
	var count int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Treat a run of terminators as one sentence end.
			for i+1 < len(text) && (text[i+1] == '.' || text[i+1] == '!' || text[i+1] == '?') {
				i++
			}
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return strings.TrimSpace(text)
}
