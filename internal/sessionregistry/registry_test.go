package sessionregistry

import (
	"context"
	"testing"
	"time"
)

func TestResolveThreadCreatesLazily(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h1, tid1 := r.ResolveThread("u1", "telegram", "")
	h2, tid2 := r.ResolveThread("u1", "telegram", "")

	if h1.ID() != h2.ID() {
		t.Fatalf("expected same session on repeat resolution, got %s vs %s", h1.ID(), h2.ID())
	}
	if tid1 != tid2 || tid1 != "main" {
		t.Fatalf("expected default main thread, got %q and %q", tid1, tid2)
	}
}

func TestResolveThreadDistinctThreads(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h1, _ := r.ResolveThread("u1", "telegram", "t1")
	h2, _ := r.ResolveThread("u1", "telegram", "t2")
	if h1.ID() == h2.ID() {
		t.Fatal("expected distinct sessions for distinct thread IDs")
	}
}

func TestHistoryDeniesNonOwner(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h, _ := r.ResolveThread("owner", "telegram", "")
	if err := r.SendTo(context.Background(), h.ID(), "hello", "owner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := r.History(context.Background(), h.ID(), 10, "intruder")
	if err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSendToDeniesNonOwner(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h, _ := r.ResolveThread("owner", "telegram", "")
	if err := r.SendTo(context.Background(), h.ID(), "hi", "intruder"); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestHistoryReturnsOwnedTurns(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h, _ := r.ResolveThread("owner", "telegram", "")
	if err := r.SendTo(context.Background(), h.ID(), "hello", "owner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := r.History(context.Background(), h.ID(), 10, "owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "hello" || entries[0].Role != "user" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

type stubDB struct {
	entries []HistoryEntry
}

func (s *stubDB) ListConversationMessages(ctx context.Context, conversationID string) ([]HistoryEntry, error) {
	return s.entries, nil
}

func (s *stubDB) AddConversationMessage(ctx context.Context, conversationID, role, content string) error {
	return nil
}

func TestHistoryFallsBackToDatabaseWhenThreadEmpty(t *testing.T) {
	db := &stubDB{entries: []HistoryEntry{{Role: "user", Content: "persisted"}}}
	r := New(DefaultConfig(), db)
	h, _ := r.ResolveThread("owner", "telegram", "")

	r.mu.Lock()
	s := r.byID[h.ID()]
	s.Metadata["conversation_id"] = "conv-1"
	r.mu.Unlock()

	entries, err := r.History(context.Background(), h.ID(), 10, "owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "persisted" {
		t.Fatalf("expected database fallback, got %+v", entries)
	}
}

func TestListSessionsFiltersByKind(t *testing.T) {
	r := New(DefaultConfig(), nil)
	h1, _ := r.ResolveThread("u1", "telegram", "")
	h2, _ := r.ResolveThread("u2", "telegram", "")

	r.mu.Lock()
	r.byID[h2.ID()].Metadata["kind"] = "subagent"
	r.mu.Unlock()

	mainOnly := r.ListSessions("main")
	foundMain := false
	for _, s := range mainOnly {
		if s.ID == h1.ID() {
			foundMain = true
		}
		if s.ID == h2.ID() {
			t.Fatal("expected subagent session excluded from main filter")
		}
	}
	if !foundMain {
		t.Fatal("expected main session included")
	}
}

func TestPruneIdleRemovesStaleSessions(t *testing.T) {
	cfg := Config{IdleTimeout: time.Millisecond}
	r := New(cfg, nil)
	h, _ := r.ResolveThread("u1", "telegram", "")

	time.Sleep(5 * time.Millisecond)
	removed := r.PruneIdle()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := r.byID[h.ID()]; ok {
		t.Fatal("expected session removed from byID index")
	}
}
