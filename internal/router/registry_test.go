package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"inferd/internal/stream"
)

func TestCancelRegistryLifecycle(t *testing.T) {
	reg := NewCancelRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	session := stream.NewSession("req-1", stream.Config{})

	reg.register("req-1", handle{cancel: cancel, session: session})
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Cancel("req-1"))
	assert.Error(t, ctx.Err(), "cancel must fire the context")
	assert.Equal(t, stream.VerdictCancelled, session.Verdict())
	assert.Zero(t, reg.Len())

	assert.False(t, reg.Cancel("req-1"), "second cancel is a no-op")
}

func TestCancelRegistryUnknownID(t *testing.T) {
	reg := NewCancelRegistry()
	assert.False(t, reg.Cancel("nope"))
}

func TestCancelRegistryUnregister(t *testing.T) {
	reg := NewCancelRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := stream.NewSession("req-2", stream.Config{})

	reg.register("req-2", handle{cancel: cancel, session: session})
	assert.True(t, reg.unregister("req-2"))
	assert.False(t, reg.unregister("req-2"))

	assert.False(t, reg.Cancel("req-2"), "completed requests cannot be cancelled")
	assert.Equal(t, stream.VerdictContinue, session.Verdict(),
		"a finished session is left untouched")
}
