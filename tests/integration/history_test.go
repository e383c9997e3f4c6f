//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/history"
)

func openStore(t *testing.T, backend string) history.Store {
	t.Helper()
	cfg := history.Config{Type: backend}
	switch backend {
	case history.TypePostgreSQL:
		cfg.PostgreSQL.URL = pgURL
	case history.TypeMongoDB:
		cfg.MongoDB.URL = mongoURL
		cfg.MongoDB.Database = "inferd_test"
	}
	store, err := history.New(testCtx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends() []string {
	return []string{history.TypePostgreSQL, history.TypeMongoDB}
}

func TestStoreLifecycle(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			store := openStore(t, backend)
			ctx := context.Background()
			conversationID := uuid.NewString()
			messageID := uuid.NewString()

			require.NoError(t, store.Insert(ctx, history.Record{
				ConversationID: conversationID,
				MessageID:      messageID,
				Role:           "assistant",
				IsLoading:      true,
			}))

			found, err := store.Update(ctx, messageID, "streamed content", false)
			require.NoError(t, err)
			assert.True(t, found)

			records, err := store.Conversation(ctx, conversationID)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "streamed content", records[0].Content)
			assert.False(t, records[0].IsLoading)
		})
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			store := openStore(t, backend)

			found, err := store.Update(context.Background(), uuid.NewString(), "x", false)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStoreConversationOrdering(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			store := openStore(t, backend)
			ctx := context.Background()
			conversationID := uuid.NewString()

			base := time.Now().UTC().Truncate(time.Second)
			roles := []string{"user", "assistant", "user", "assistant"}
			for i, role := range roles {
				require.NoError(t, store.Insert(ctx, history.Record{
					ConversationID: conversationID,
					MessageID:      uuid.NewString(),
					Role:           role,
					CreatedAt:      base.Add(time.Duration(i) * time.Second),
				}))
			}

			records, err := store.Conversation(ctx, conversationID)
			require.NoError(t, err)
			require.Len(t, records, len(roles))
			for i, role := range roles {
				assert.Equal(t, role, records[i].Role)
			}
		})
	}
}

func TestStoreDuplicateMessageID(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			store := openStore(t, backend)
			ctx := context.Background()
			messageID := uuid.NewString()

			rec := history.Record{
				ConversationID: uuid.NewString(),
				MessageID:      messageID,
				Role:           "user",
			}
			require.NoError(t, store.Insert(ctx, rec))
			assert.Error(t, store.Insert(ctx, rec))
		})
	}
}
