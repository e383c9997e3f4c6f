// Package contextwin estimates token budgets and fits conversation
// histories into a model's context window.
//
// Token counts are approximated as ceil(chars/4) over concatenated text
// content. This is intentionally not a real tokenizer: the estimate only
// needs to be deterministic and conservative enough to drive truncation.
package contextwin

import (
	"log/slog"

	"inferd/internal/core"
)

const (
	// CharsPerToken is the fixed character-per-token estimate.
	CharsPerToken = 4

	// budgetPercent caps retained history at 90% of the context window,
	// leaving headroom for the formatted prompt scaffolding and generation.
	budgetPercent = 90
)

// TruncationNotice is inserted as a system message when even the system
// messages plus the last user turn exceed the budget and the last turn
// has to be dropped.
const TruncationNotice = "Note: earlier parts of this conversation were removed because they exceeded the model's context window."

// EstimateTokens returns the deterministic token estimate for a history:
// ceil(totalChars / 4) over the concatenated text content of all messages.
func EstimateTokens(messages []core.Message) int {
	var chars int
	for _, m := range messages {
		chars += len(m.Text())
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// Validate reports whether the history fits the model's context window.
// IsTooLong holds exactly when the estimate reaches or exceeds the window.
func Validate(messages []core.Message, window int) core.ContextDecision {
	est := EstimateTokens(messages)
	return core.ContextDecision{
		EstimatedTokens: est,
		ContextSize:     window,
		IsTooLong:       est >= window,
	}
}

// Budget returns the usable token budget for retained history: 90% of the
// context window.
func Budget(window int) int {
	return window * budgetPercent / 100
}

// Truncate drops the oldest user/assistant turns until the retained
// history fits within 90% of the context window.
//
// System messages are never dropped and the relative order of retained
// messages is preserved. Non-system turns are removed from the front two
// at a time (one if a single droppable turn remains), always keeping the
// most recent turn. If even the system messages plus that final turn
// exceed the budget, the final turn is dropped too and an explicit
// truncation notice is inserted after the system messages.
func Truncate(messages []core.Message, window int) []core.Message {
	budget := Budget(window)
	if EstimateTokens(messages) <= budget {
		return messages
	}

	// Indices of droppable (non-system) turns, oldest first.
	var turns []int
	for i, m := range messages {
		if m.Role != core.RoleSystem {
			turns = append(turns, i)
		}
	}
	if len(turns) == 0 {
		return messages
	}

	dropped := make(map[int]bool)
	droppable := turns[:len(turns)-1] // the most recent turn is kept for now

	retained := func() []core.Message {
		out := make([]core.Message, 0, len(messages))
		for i, m := range messages {
			if !dropped[i] {
				out = append(out, m)
			}
		}
		return out
	}

	for i := 0; i < len(droppable) && EstimateTokens(retained()) > budget; {
		n := 2
		if len(droppable)-i < 2 {
			n = 1
		}
		for j := 0; j < n; j++ {
			dropped[droppable[i]] = true
			i++
		}
	}

	out := retained()
	if EstimateTokens(out) <= budget {
		return out
	}

	// Even system messages plus the final turn overflow. Keep the system
	// messages, note the truncation, and drop the final turn as well.
	// This discards the caller's latest input without an error; logged so
	// the silent loss is at least visible operationally.
	slog.Warn("context truncation dropped the most recent turn",
		"window", window,
		"budget", budget,
	)
	final := make([]core.Message, 0, len(out))
	for _, m := range out {
		if m.Role == core.RoleSystem {
			final = append(final, m)
		}
	}
	return append(final, core.Message{Role: core.RoleSystem, Content: TruncationNotice})
}
