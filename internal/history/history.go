// Package history persists conversation messages. Three backends share
// one schema: a message row is created in the loading state when a
// completion starts and finalized with its content exactly once when
// the stream ends.
package history

import (
	"context"
	"fmt"
	"time"

	"inferd/internal/core"
)

// Backend type constants.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Config selects and configures the backend.
type Config struct {
	Type string

	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
	MongoDB    MongoDBConfig
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	// URL is the connection string.
	URL string
	// MaxConns is the pool size, 10 when zero.
	MaxConns int
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string
	Database string
}

// DefaultConfig returns a local SQLite setup.
func DefaultConfig() Config {
	return Config{
		Type: TypeSQLite,
		SQLite: SQLiteConfig{
			Path: "data/inferd.db",
		},
		PostgreSQL: PostgreSQLConfig{
			MaxConns: 10,
		},
		MongoDB: MongoDBConfig{
			Database: "inferd",
		},
	}
}

// Record is one stored message.
type Record struct {
	ConversationID string
	MessageID      string
	Role           string
	Content        string
	IsLoading      bool
	CreatedAt      time.Time
}

// Store is the full persistence surface. It extends the router-facing
// core.MessageStore with creation and conversation reads.
type Store interface {
	core.MessageStore

	// Insert creates a message row. MessageID must be unique.
	Insert(ctx context.Context, rec Record) error

	// Conversation returns all messages of a conversation, oldest
	// first.
	Conversation(ctx context.Context, conversationID string) ([]Record, error)
}

// New opens the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown history backend: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}
