package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies inference failures.
type ErrorKind string

const (
	// ErrContextOverflow indicates the history is too large even after
	// truncation, or truncation was disabled.
	ErrContextOverflow ErrorKind = "context_overflow"
	// ErrModelUnavailable indicates the requested local model is not
	// active, or the model record is missing.
	ErrModelUnavailable ErrorKind = "model_unavailable"
	// ErrProviderAuth indicates no usable credential for the chosen
	// external provider.
	ErrProviderAuth ErrorKind = "provider_auth"
	// ErrProviderTransport indicates a network or HTTP failure before or
	// during streaming.
	ErrProviderTransport ErrorKind = "provider_transport"
	// ErrClientCancelled indicates explicit caller cancellation. Not a
	// failure: accumulated content is preserved.
	ErrClientCancelled ErrorKind = "client_cancelled"
	// ErrGuardTripped indicates a mid-stream anomaly was detected. Soft
	// stop: partial content is retained and flagged as degraded.
	ErrGuardTripped ErrorKind = "termination_guard_tripped"
)

// InferenceError is the base error type for all routing failures.
type InferenceError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Provider string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error kind to an HTTP status.
func (e *InferenceError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrContextOverflow:
		return http.StatusRequestEntityTooLarge
	case ErrModelUnavailable:
		return http.StatusNotFound
	case ErrProviderAuth:
		return http.StatusUnauthorized
	case ErrClientCancelled:
		return 499 // client closed request
	case ErrProviderTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map for HTTP responses.
func (e *InferenceError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Kind,
			"message": e.Message,
		},
	}
}

// KindOf returns the ErrorKind of err, or empty string if err is not an
// InferenceError.
func KindOf(err error) ErrorKind {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// NewContextOverflowError creates a context-overflow error.
func NewContextOverflowError(estimated, window int) *InferenceError {
	return &InferenceError{
		Kind:    ErrContextOverflow,
		Message: fmt.Sprintf("history of ~%d tokens exceeds context window of %d", estimated, window),
	}
}

// NewModelUnavailableError creates a model-unavailable error.
func NewModelUnavailableError(modelID, reason string) *InferenceError {
	return &InferenceError{
		Kind:    ErrModelUnavailable,
		Message: fmt.Sprintf("model %q unavailable: %s", modelID, reason),
	}
}

// NewProviderAuthError creates an authentication error for a provider.
func NewProviderAuthError(provider, message string) *InferenceError {
	return &InferenceError{
		Kind:     ErrProviderAuth,
		Message:  message,
		Provider: provider,
	}
}

// NewProviderTransportError creates a transport error for a provider.
func NewProviderTransportError(provider, message string, err error) *InferenceError {
	return &InferenceError{
		Kind:     ErrProviderTransport,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewClientCancelledError creates a cancellation outcome.
func NewClientCancelledError(requestID string) *InferenceError {
	return &InferenceError{
		Kind:    ErrClientCancelled,
		Message: fmt.Sprintf("request %s cancelled by client", requestID),
	}
}

// NewGuardTrippedError creates a soft-stop outcome for a mid-stream
// anomaly. Pattern names which termination pattern matched.
func NewGuardTrippedError(pattern string) *InferenceError {
	return &InferenceError{
		Kind:    ErrGuardTripped,
		Message: fmt.Sprintf("generation stopped: termination pattern %q detected", pattern),
	}
}

// ParseProviderError translates an upstream HTTP failure into an
// InferenceError, extracting the provider's error message when the body
// is a recognizable JSON error envelope.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *InferenceError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewProviderAuthError(provider, message)
	case statusCode == http.StatusNotFound:
		return &InferenceError{Kind: ErrModelUnavailable, Message: message, Provider: provider}
	default:
		return NewProviderTransportError(provider, fmt.Sprintf("upstream returned %d: %s", statusCode, message), originalErr)
	}
}
