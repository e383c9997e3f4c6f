// Package providers holds the dispatcher factory. Provider packages
// register themselves from init so wiring a new backend is a blank
// import away.
package providers

import (
	"fmt"
	"net/http"
	"sort"

	"inferd/internal/core"
)

// Options carries per-provider construction settings.
type Options struct {
	// BaseURL overrides the provider's default endpoint when non-empty.
	BaseURL string

	// HTTPClient overrides the default streaming transport, mainly for
	// tests.
	HTTPClient *http.Client
}

// Builder constructs a dispatcher for one provider type.
type Builder func(opts Options) (core.Dispatcher, error)

var registry = make(map[string]Builder)

// Register installs a builder for providerType. Called from provider
// package init functions.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// Create instantiates a dispatcher for providerType.
func Create(providerType string, opts Options) (core.Dispatcher, error) {
	builder, ok := registry[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
	return builder(opts)
}

// ListRegistered returns the registered provider types, sorted.
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
