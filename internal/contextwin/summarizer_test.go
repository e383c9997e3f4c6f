package contextwin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/core"
)

type fakeDispatcher struct {
	content string
	err     error
	calls   int
	prompt  string
}

func (f *fakeDispatcher) Name() string { return "fake" }

func (f *fakeDispatcher) Dispatch(_ context.Context, req *core.DispatchRequest, _ core.TokenFunc) (*core.DispatchResult, error) {
	f.calls++
	f.prompt = req.Prompt
	if f.err != nil {
		return nil, f.err
	}
	return &core.DispatchResult{Content: f.content}, nil
}

func history(n int) []core.Message {
	h := []core.Message{msg(core.RoleSystem, "sys")}
	for i := 0; i < n; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		h = append(h, msg(role, strings.Repeat("t", 10)))
	}
	return h
}

func TestSummarizeReplacesSpanWithCheckpoint(t *testing.T) {
	d := &fakeDispatcher{content: "they talked about Go"}
	s := NewSummarizer(d)

	h := history(8)
	got := s.Summarize(context.Background(), h, "llama3:8b")

	require.Equal(t, 1, d.calls)
	assert.Contains(t, d.prompt, "Summarize the following")

	// One checkpoint inserted, the 3 most recent turns kept verbatim.
	var checkpoints int
	for _, m := range got {
		if strings.HasPrefix(m.Content, CheckpointPrefix) {
			checkpoints++
			assert.Equal(t, core.RoleSystem, m.Role)
			assert.Contains(t, m.Content, "they talked about Go")
		}
	}
	assert.Equal(t, 1, checkpoints)
	assert.Equal(t, h[len(h)-3:], got[len(got)-3:])
	assert.Less(t, len(got), len(h))
}

func TestSummarizeFailureReturnsOriginal(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("model offline")}
	s := NewSummarizer(d)

	h := history(8)
	got := s.Summarize(context.Background(), h, "llama3:8b")
	assert.Equal(t, h, got)
}

func TestSummarizeEmptyResultReturnsOriginal(t *testing.T) {
	d := &fakeDispatcher{content: "   "}
	s := NewSummarizer(d)

	h := history(8)
	got := s.Summarize(context.Background(), h, "llama3:8b")
	assert.Equal(t, h, got)
}

func TestSummarizeTooFewTurnsIsNoop(t *testing.T) {
	d := &fakeDispatcher{content: "unused"}
	s := NewSummarizer(d)

	h := history(3)
	got := s.Summarize(context.Background(), h, "llama3:8b")
	assert.Equal(t, h, got)
	assert.Zero(t, d.calls)
}

func TestSummarizeStartsAfterLatestCheckpoint(t *testing.T) {
	d := &fakeDispatcher{content: "recent developments"}
	s := NewSummarizer(d)

	h := []core.Message{
		msg(core.RoleSystem, "sys"),
		msg(core.RoleUser, "old old old"),
		msg(core.RoleSystem, CheckpointPrefix+"earlier summary"),
	}
	h = append(h, history(8)[1:]...)

	got := s.Summarize(context.Background(), h, "llama3:8b")

	// The pre-checkpoint turn and the old checkpoint survive untouched.
	assert.Equal(t, "old old old", got[1].Content)
	assert.Equal(t, CheckpointPrefix+"earlier summary", got[2].Content)

	// The new span was not fed the pre-checkpoint content.
	assert.NotContains(t, d.prompt, "old old old")
}

func TestSummarizeNilDispatcherIsNoop(t *testing.T) {
	s := NewSummarizer(nil)
	h := history(8)
	assert.Equal(t, h, s.Summarize(context.Background(), h, "m"))
}
