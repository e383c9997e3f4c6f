package router

import (
	"context"
	"sync"

	"inferd/internal/stream"
)

// handle pairs a request's context cancel function with its stream
// session so one cancel call both tears down the transport and records
// the aborted verdict.
type handle struct {
	cancel  context.CancelFunc
	session *stream.Session
}

// CancelRegistry maps in-flight request ids to their cancel handles. It
// is owned exclusively by the Router: a handle is registered at dispatch
// start and removed exactly once at the first terminal transition, which
// makes duplicate cancel calls idempotent no-ops.
type CancelRegistry struct {
	mu      sync.Mutex
	handles map[string]handle
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{handles: make(map[string]handle)}
}

func (r *CancelRegistry) register(id string, h handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// unregister removes the handle for id, reporting whether it was
// present. Called once per request at its terminal transition.
func (r *CancelRegistry) unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; !ok {
		return false
	}
	delete(r.handles, id)
	return true
}

// Cancel aborts the in-flight request with the given id. Returns false
// without side effects when the id is unknown or already finished.
func (r *CancelRegistry) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		// Removal is part of the same transition: a second Cancel for
		// the same id sees no entry and returns false.
		delete(r.handles, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.session.Terminate(stream.VerdictCancelled, "client")
	h.cancel()
	return true
}

// Len returns the number of in-flight requests.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
