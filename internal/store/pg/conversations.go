package pg

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
)

// ConversationStore implements sessionregistry.Database backed by
// Postgres, giving the session registry's history fallback a durable
// record independent of any in-process session's lifetime.
type ConversationStore struct {
	db *sql.DB
}

// OpenConversationStore opens a Postgres connection pool for dsn and
// returns a ConversationStore over it. Callers are expected to run the
// project's migrations (migrations/) against dsn before first use.
func OpenConversationStore(dsn string) (*ConversationStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open conversation store: %w", err)
	}
	return &ConversationStore{db: db}, nil
}

// ListConversationMessages returns every message recorded for
// conversationID, oldest first.
func (s *ConversationStore) ListConversationMessages(ctx context.Context, conversationID string) ([]sessionregistry.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: list conversation messages: %w", err)
	}
	defer rows.Close()

	var entries []sessionregistry.HistoryEntry
	for rows.Next() {
		var e sessionregistry.HistoryEntry
		if err := rows.Scan(&e.Role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("pg: scan conversation message: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddConversationMessage appends one message to conversationID's history.
func (s *ConversationStore) AddConversationMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, now())`,
		conversationID, role, content,
	)
	if err != nil {
		return fmt.Errorf("pg: add conversation message: %w", err)
	}
	return nil
}

var _ sessionregistry.Database = (*ConversationStore)(nil)
