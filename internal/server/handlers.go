package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"inferd/internal/catalog"
	"inferd/internal/core"
	"inferd/internal/history"
	"inferd/internal/router"
	"inferd/internal/sink"
	"inferd/internal/version"
)

// ProviderKeyHeader carries an optional caller-supplied provider
// credential, consulted after the server-side key.
const ProviderKeyHeader = "X-Provider-Key"

// Handler holds the route implementations.
type Handler struct {
	router *router.Router
	cat    *catalog.Catalog
	broker *sink.Broker
	store  history.Store // nil disables persistence
}

// NewHandler builds a Handler.
func NewHandler(rt *router.Router, cat *catalog.Catalog, broker *sink.Broker, store history.Store) *Handler {
	return &Handler{router: rt, cat: cat, broker: broker, store: store}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c echo.Context) error {
	resp := map[string]any{"models": h.cat.List()}
	if active := h.cat.Active(); active != nil {
		if snap, ok := active.Snapshot(); ok {
			resp["active"] = map[string]any{
				"model":   snap.Spec.ID,
				"window":  snap.Window,
				"version": snap.Version,
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /v1/chat/:message_id/cancel. Cancelling an
// unknown or already finished request is a no-op.
func (h *Handler) Cancel(c echo.Context) error {
	messageID := c.Param("message_id")
	cancelled := h.router.Cancel(messageID)
	return c.JSON(http.StatusOK, map[string]any{
		"message_id": messageID,
		"cancelled":  cancelled,
	})
}

// Chat handles POST /v1/chat. The response is a server-sent event
// stream: one meta event, zero or more token events, then exactly one
// complete or error event.
func (h *Handler) Chat(c echo.Context) error {
	var req core.PromptRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.ModelID == "" {
		return badRequest(c, "model is required")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages are required")
	}
	if _, ok := h.cat.Get(req.ModelID); !ok {
		return handleError(c, core.NewModelUnavailableError(req.ModelID, "not in model catalog"))
	}

	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	req.MessageID = uuid.NewString()
	req.APIKey = c.Request().Header.Get(ProviderKeyHeader)

	ctx := core.WithRequestID(c.Request().Context(), req.MessageID)
	h.recordTurn(c, &req)

	key := sink.Key{ConversationID: req.ConversationID, MessageID: req.MessageID}
	events, unsubscribe := h.broker.Subscribe(key)
	defer unsubscribe()

	go func() {
		if err := h.router.Route(ctx, &req); err != nil {
			// Pre-stream failures produce no sink event; deliver them
			// here. For mid-stream failures the router already emitted
			// the terminal event and this publish is dropped.
			var infErr *core.InferenceError
			message := "internal error"
			if errors.As(err, &infErr) {
				message = infErr.Message
			}
			h.broker.Error(key, message)
		}
	}()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	writeEvent(res, "meta", map[string]any{
		"conversation_id": req.ConversationID,
		"message_id":      req.MessageID,
	})

	for ev := range events {
		switch ev.Type {
		case sink.EventToken:
			writeEvent(res, "token", map[string]any{"token": ev.Token})
		case sink.EventComplete:
			writeEvent(res, "complete", ev)
			return nil
		case sink.EventError:
			writeEvent(res, "error", map[string]any{"message": ev.Message})
			return nil
		}
	}
	return nil
}

// recordTurn persists the newest user turn and the pending assistant
// row. Persistence failures never block the completion.
func (h *Handler) recordTurn(c echo.Context, req *core.PromptRequest) {
	if h.store == nil {
		return
	}
	ctx := c.Request().Context()

	last := req.Messages[len(req.Messages)-1]
	if last.Role == core.RoleUser {
		if err := h.store.Insert(ctx, history.Record{
			ConversationID: req.ConversationID,
			MessageID:      uuid.NewString(),
			Role:           string(core.RoleUser),
			Content:        last.Text(),
		}); err != nil {
			slog.Warn("failed to record user turn", "error", err)
		}
	}

	if err := h.store.Insert(ctx, history.Record{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Role:           string(core.RoleAssistant),
		IsLoading:      true,
	}); err != nil {
		slog.Warn("failed to record pending assistant row", "error", err)
	}
}

func writeEvent(res *echo.Response, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data)
	res.Flush()
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"type":    "invalid_request",
			"message": message,
		},
	})
}

// handleError maps inference errors onto HTTP statuses.
func handleError(c echo.Context, err error) error {
	var infErr *core.InferenceError
	if errors.As(err, &infErr) {
		return c.JSON(infErr.HTTPStatusCode(), infErr.ToJSON())
	}
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
