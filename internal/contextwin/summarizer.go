package contextwin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inferd/internal/core"
)

// CheckpointPrefix marks a system message as a summary checkpoint. The
// latest checkpoint delimits the span of history that has already been
// summarized.
const CheckpointPrefix = "[conversation summary] "

const (
	// keepRecentTurns is the number of most recent turns always kept
	// verbatim when summarizing.
	keepRecentTurns = 3

	// minSummarizableTurns is the smallest span worth a summarization
	// round trip.
	minSummarizableTurns = 2

	summaryMaxTokens = 256
	summaryTimeout   = 60 * time.Second
)

const summaryInstruction = "Summarize the following conversation excerpt in a short paragraph. " +
	"Keep names, decisions, and open questions. Do not add commentary."

// Summarizer condenses older conversation turns into a single checkpoint
// system message using one completion call against a local model.
//
// Summarization is strictly best-effort: every failure is swallowed and
// the original history is returned unmodified. The caller never sees an
// error from this path.
type Summarizer struct {
	dispatcher core.Dispatcher
}

// NewSummarizer creates a Summarizer backed by the given local dispatcher.
func NewSummarizer(dispatcher core.Dispatcher) *Summarizer {
	return &Summarizer{dispatcher: dispatcher}
}

// Summarize replaces the span of turns after the latest summary
// checkpoint (except the most recent 3 turns) with a new checkpoint
// system message. System messages inside the span are retained in place.
// On any failure the original slice is returned.
func (s *Summarizer) Summarize(ctx context.Context, messages []core.Message, modelID string) []core.Message {
	if s == nil || s.dispatcher == nil {
		return messages
	}

	start := spanStart(messages)

	// Candidate turns: non-system messages in [start, len-keepRecentTurns).
	end := len(messages) - keepRecentTurns
	if end <= start {
		return messages
	}
	var candidates []int
	for i := start; i < end; i++ {
		if messages[i].Role != core.RoleSystem {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) < minSummarizableTurns {
		return messages
	}

	summary, err := s.summarizeSpan(ctx, messages, candidates, modelID)
	if err != nil {
		slog.Debug("history summarization failed, using original history",
			"model", modelID,
			"error", err,
		)
		return messages
	}

	summarized := make(map[int]bool, len(candidates))
	for _, i := range candidates {
		summarized[i] = true
	}

	out := make([]core.Message, 0, len(messages)-len(candidates)+1)
	inserted := false
	for i, m := range messages {
		if summarized[i] {
			if !inserted {
				out = append(out, core.Message{
					Role:    core.RoleSystem,
					Content: CheckpointPrefix + summary,
				})
				inserted = true
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

// summarizeSpan runs the single bounded completion call for the span.
func (s *Summarizer) summarizeSpan(ctx context.Context, messages []core.Message, candidates []int, modelID string) (string, error) {
	var b strings.Builder
	b.WriteString(summaryInstruction)
	b.WriteString("\n\n")
	for _, i := range candidates {
		m := messages[i]
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text())
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	maxTokens := summaryMaxTokens
	temp := 0.2
	result, err := s.dispatcher.Dispatch(ctx, &core.DispatchRequest{
		ModelID: modelID,
		Prompt:  b.String(),
		Params:  core.Params{MaxTokens: &maxTokens, Temperature: &temp},
	}, func(string) {})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary from model %s", modelID)
	}
	return summary, nil
}

// spanStart returns the index just after the latest summary checkpoint,
// or 0 if the history has none.
func spanStart(messages []core.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == core.RoleSystem && strings.HasPrefix(m.Content, CheckpointPrefix) {
			return i + 1
		}
	}
	return 0
}
