package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.db")
	store, err := OpenConversationStore(path)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddAndListConversationMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddConversationMessage(ctx, "conv-1", "user", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddConversationMessage(ctx, "conv-1", "assistant", "hi there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := store.ListConversationMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Content != "hello" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Role != "assistant" || entries[1].Content != "hi there" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestListConversationMessagesIsolatedPerConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddConversationMessage(ctx, "conv-1", "user", "a")
	store.AddConversationMessage(ctx, "conv-2", "user", "b")

	entries, err := store.ListConversationMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "a" {
		t.Fatalf("expected isolated history for conv-1, got %+v", entries)
	}
}

func TestListConversationMessagesEmptyForUnknownConversation(t *testing.T) {
	store := openTestStore(t)
	entries, err := store.ListConversationMessages(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}
