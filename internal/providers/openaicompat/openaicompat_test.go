package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/core"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}))
}

func TestDispatchParsesSSE(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"text":"Hel"}]}`,
		`{"choices":[{"text":"lo"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewWithHTTPClient(srv.Client(), "openai", srv.URL)
	var tokens []string
	result, err := client.Dispatch(context.Background(), &core.DispatchRequest{
		Credential: "sk-test",
		ModelID:    "gpt-phony",
		Prompt:     "formatted",
	}, func(token string) { tokens = append(tokens, token) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", result.Content)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 9, result.Usage.TotalTokens)
}

func TestDispatchSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.Client(), "openai", srv.URL)
	_, err := client.Dispatch(context.Background(), &core.DispatchRequest{
		Credential: "sk-secret",
		ModelID:    "gpt-phony",
		Prompt:     "p",
	}, func(string) {})

	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-secret", auth)
}

func TestDispatchIgnoresKeepaliveLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"ok\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.Client(), "openai", srv.URL)
	var tokens []string
	_, err := client.Dispatch(context.Background(), &core.DispatchRequest{ModelID: "m", Prompt: "p"},
		func(token string) { tokens = append(tokens, token) })

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, tokens)
}

func TestDispatchMalformedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {broken\n\n")
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.Client(), "openai", srv.URL)
	_, err := client.Dispatch(context.Background(), &core.DispatchRequest{ModelID: "m", Prompt: "p"}, func(string) {})

	require.Error(t, err)
	assert.Equal(t, core.ErrProviderTransport, core.KindOf(err))
}

func TestDispatchAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.Client(), "openai", srv.URL)
	_, err := client.Dispatch(context.Background(), &core.DispatchRequest{Credential: "sk-bad", ModelID: "m", Prompt: "p"}, func(string) {})

	require.Error(t, err)
	assert.Equal(t, core.ErrProviderAuth, core.KindOf(err))
}
