package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"inferd/internal/catalog"
	"inferd/internal/core"
	"inferd/internal/router"
	"inferd/internal/sink"
)

type stubDispatcher struct {
	tokens []string
	err    error
}

func (d *stubDispatcher) Name() string { return "ollama" }

func (d *stubDispatcher) Dispatch(ctx context.Context, req *core.DispatchRequest, onToken core.TokenFunc) (*core.DispatchResult, error) {
	for _, tok := range d.tokens {
		onToken(tok)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &core.DispatchResult{}, nil
}

func testServer(t *testing.T, dispatcher core.Dispatcher, cfg *Config) *Server {
	t.Helper()
	active := &catalog.ActiveModel{}
	active.Set(core.ModelSpec{ID: "llama3.1:8b", Provider: "ollama", ContextWindow: 8192}, 8192)
	cat := catalog.New([]core.ModelSpec{
		{ID: "llama3.1:8b", Provider: "ollama", ContextWindow: 8192},
	}, active)
	broker := sink.New()
	rt := router.New(router.Config{
		Models:         cat,
		Windows:        cat,
		Active:         active,
		Local:          dispatcher,
		Sink:           broker,
		GuardAnomalies: true,
	})
	return New(rt, cat, broker, nil, cfg)
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestListModels(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"llama3.1:8b"`)
	assert.Contains(t, body, `"active"`)
	assert.Contains(t, body, `"window":8192`)
}

func TestChatStreamsSSE(t *testing.T) {
	srv := testServer(t, &stubDispatcher{tokens: []string{"Hello", " there."}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"model":"llama3.1:8b","messages":[{"role":"user","content":"Hi"}]}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: meta")
	assert.Contains(t, body, `"message_id"`)
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, `"token":"Hello"`)
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"sanitized":"Hello there."`)

	tokenIdx := strings.Index(body, "event: token")
	completeIdx := strings.Index(body, "event: complete")
	assert.Less(t, tokenIdx, completeIdx, "tokens arrive before the terminal event")
}

func TestChatUnknownModel(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"model":"nope","messages":[{"role":"user","content":"Hi"}]}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatMissingMessages(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"model":"llama3.1:8b","messages":[]}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatDispatchErrorAsSSE(t *testing.T) {
	srv := testServer(t, &stubDispatcher{
		err: core.NewProviderTransportError("ollama", "backend down", nil),
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"model":"llama3.1:8b","messages":[{"role":"user","content":"Hi"}]}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "stream already started, errors ride the stream")
	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "backend down")
	assert.NotContains(t, body, "event: complete")
}

func TestCancelUnknownRequest(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/no-such-id/cancel", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":false`)
}

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, &Config{MasterKey: "hunter2"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthSkipsHealthAndMetrics(t *testing.T) {
	srv := testServer(t, &stubDispatcher{}, &Config{MasterKey: "hunter2"})

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
