package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	is_loading      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL opens a pooled PostgreSQL-backed store.
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, is_loading, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.MessageID, rec.ConversationID, rec.Role, rec.Content, rec.IsLoading, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *postgresStore) Update(ctx context.Context, messageID, content string, isLoading bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $1, is_loading = $2 WHERE message_id = $3`,
		content, isLoading, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) Conversation(ctx context.Context, conversationID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, conversation_id, role, content, is_loading, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at, message_id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.MessageID, &rec.ConversationID, &rec.Role,
			&rec.Content, &rec.IsLoading, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
