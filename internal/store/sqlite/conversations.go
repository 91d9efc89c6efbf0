// Package sqlite provides an embedded-database implementation of the
// session registry's conversation history store, for single-process
// deployments that don't run a separate Postgres instance.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
)

// ConversationStore implements sessionregistry.Database backed by a local
// SQLite file.
type ConversationStore struct {
	db *sql.DB
}

// OpenConversationStore opens (creating if absent) the SQLite database at
// path and ensures its schema exists.
func OpenConversationStore(path string) (*ConversationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open conversation store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &ConversationStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_conversation_id
	ON conversation_messages (conversation_id, created_at);
`

// ListConversationMessages returns every message recorded for
// conversationID, oldest first.
func (s *ConversationStore) ListConversationMessages(ctx context.Context, conversationID string) ([]sessionregistry.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_messages
		 WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversation messages: %w", err)
	}
	defer rows.Close()

	var entries []sessionregistry.HistoryEntry
	for rows.Next() {
		var e sessionregistry.HistoryEntry
		if err := rows.Scan(&e.Role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation message: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddConversationMessage appends one message to conversationID's history.
func (s *ConversationStore) AddConversationMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, content,
	)
	if err != nil {
		return fmt.Errorf("sqlite: add conversation message: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

var _ sessionregistry.Database = (*ConversationStore)(nil)
