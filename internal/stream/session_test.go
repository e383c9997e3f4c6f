package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"inferd/internal/template"
)

func collect(forwarded *[]string) func(string) {
	return func(tok string) { *forwarded = append(*forwarded, tok) }
}

func TestStopSequenceSplitAcrossTokens(t *testing.T) {
	s := NewSession("req-1", Config{StopSequences: []string{"STOP"}})

	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	for _, tok := range []string{"ab", "cS", "TOP", "xyz"} {
		guarded(tok)
	}

	assert.Equal(t, []string{"ab", "cS"}, forwarded)
	assert.Equal(t, VerdictStopSequence, s.Verdict())
	assert.Equal(t, "STOP", s.Matched())
	assert.Equal(t, "abcS", s.Raw(), "terminating token is not accumulated")
}

func TestStopSequenceIsCleanTermination(t *testing.T) {
	assert.True(t, VerdictStopSequence.Clean())
	assert.True(t, VerdictAnomaly.Clean())
	assert.False(t, VerdictTransportError.Clean())
	assert.False(t, VerdictCancelled.Clean())
}

func TestAnomalyDetection(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		pattern string
	}{
		{"chatml contamination", []string{"fine so far ", "<|im_", "start|>"}, "chatml-contamination"},
		{"apology loop", []string{"I apologize. ", "I apologize. ", "I apologize. "}, "apology-loop"},
		{"empty instruction block", []string{"ok [INST]", " [/INST]"}, "empty-instruction-block"},
		{"self dialog", []string{"Sure.\n", "User: ", "and then"}, "self-dialog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("req", Config{GuardAnomalies: true})
			var forwarded []string
			guarded := s.Wrap(collect(&forwarded))
			for _, tok := range tt.tokens {
				guarded(tok)
			}
			assert.Equal(t, VerdictAnomaly, s.Verdict())
			assert.Equal(t, tt.pattern, s.Matched())
		})
	}
}

func TestAnomalyCheckDisabledByDefault(t *testing.T) {
	s := NewSession("req", Config{})
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	guarded("<|im_start|>")
	guarded("still flowing")

	assert.Equal(t, VerdictContinue, s.Verdict())
	assert.Len(t, forwarded, 2)
}

func TestTokensForwardedUnchangedInOrder(t *testing.T) {
	s := NewSession("req", Config{GuardAnomalies: true})
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	tokens := []string{"The", " quick", " brown", " fox"}
	for _, tok := range tokens {
		guarded(tok)
	}

	assert.Equal(t, tokens, forwarded)
	assert.Equal(t, "The quick brown fox", s.Raw())
}

func TestTerminateFirstTransitionWins(t *testing.T) {
	s := NewSession("req", Config{})

	assert.True(t, s.Terminate(VerdictCancelled, "client"))
	assert.False(t, s.Terminate(VerdictTransportError, "late"))
	assert.Equal(t, VerdictCancelled, s.Verdict())

	// Tokens after termination are dropped.
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))
	guarded("late token")
	assert.Empty(t, forwarded)
	assert.Empty(t, s.Raw())
}

func TestTerminateRejectsNonTerminal(t *testing.T) {
	s := NewSession("req", Config{})
	assert.False(t, s.Terminate(VerdictContinue, ""))
	assert.Equal(t, VerdictContinue, s.Verdict())
}

func TestSanitizedComputedFromRaw(t *testing.T) {
	s := NewSession("req", Config{
		Family:          template.FamilyLlama,
		LastUserMessage: "what is go?",
	})
	guarded := s.Wrap(func(string) {})

	guarded("What is go? ")
	guarded("Go is a language.")
	guarded("<|eot_id|>")

	assert.Equal(t, "What is go? Go is a language.<|eot_id|>", s.Raw())
	assert.Equal(t, "Go is a language.", s.Sanitized())
}

func TestCodeSpanSanitization(t *testing.T) {
	s := NewSession("req", Config{
		SanitizeCodeSpans: true,
		Family:            template.FamilyLlama,
	})
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	guarded("Use `go")
	guarded(" test<|eot_id|>` to run them.")

	joined := strings.Join(forwarded, "")
	assert.Equal(t, "Use `go test` to run them.", joined)

	// Raw keeps the leaked token for persistence fidelity.
	assert.Contains(t, s.Raw(), "<|eot_id|>")
}

func TestCodeSpanPassThroughOutsideSpans(t *testing.T) {
	s := NewSession("req", Config{SanitizeCodeSpans: true, Family: template.FamilyLlama})
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	// Control tokens outside code spans are forwarded unchanged.
	guarded("plain <|eot_id|> text")
	assert.Equal(t, []string{"plain <|eot_id|> text"}, forwarded)
}

func TestDrainFlushesUnclosedSpan(t *testing.T) {
	s := NewSession("req", Config{SanitizeCodeSpans: true})
	var forwarded []string
	guarded := s.Wrap(collect(&forwarded))

	guarded("```go\nfunc main()")

	assert.Empty(t, forwarded, "span still open, nothing forwarded yet")
	assert.Equal(t, "```go\nfunc main()", s.Drain())
	assert.Empty(t, s.Drain(), "second drain is empty")
}

func TestTrailingBufferBounded(t *testing.T) {
	s := NewSession("req", Config{StopSequences: []string{"END"}})
	guarded := s.Wrap(func(string) {})

	for i := 0; i < 10_000; i++ {
		guarded("abcdefgh")
	}
	assert.LessOrEqual(t, len(s.trailing), minTrailingWindow)

	// A stop split across the boundary is still found.
	guarded("EN")
	guarded("D")
	assert.Equal(t, VerdictStopSequence, s.Verdict())
}
