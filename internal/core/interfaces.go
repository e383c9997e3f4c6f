package core

import "context"

// TokenFunc receives one raw token fragment as it arrives from a backend.
type TokenFunc func(token string)

// DispatchRequest carries everything a backend needs for one generation.
// Prompt is an already-formatted, family-specific grammar string; backends
// must treat it as opaque.
type DispatchRequest struct {
	Credential string
	ModelID    string
	Prompt     string
	Params     Params
}

// Dispatcher is the uniform contract every concrete backend implements.
// Dispatch streams raw tokens through onToken and returns the final
// result once the backend's stream has ended. Cancellation is signalled
// through ctx; a cancelled dispatch returns ctx.Err().
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req *DispatchRequest, onToken TokenFunc) (*DispatchResult, error)
}

// MessageStore persists the final content of an assistant message. Update
// is invoked at most once per request, and only on non-error completion,
// with the raw accumulated text. It reports whether a row was updated.
type MessageStore interface {
	Update(ctx context.Context, messageID, content string, isLoading bool) (bool, error)
	Close() error
}

// ContextSource reports the usable context window for a model: the
// statically declared size, overridden by a live-reported value when the
// model is the currently active local model.
type ContextSource interface {
	WindowFor(modelID string) int
}

// ModelLookup resolves model records. Decoupled from the concrete catalog
// so the router can be tested against a fixed table.
type ModelLookup interface {
	Get(modelID string) (*ModelSpec, bool)
	List() []ModelSpec
}
