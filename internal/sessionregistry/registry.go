// Package sessionregistry maintains per-user sessions and their active
// threads, providing cross-session addressing and history access with
// ownership checks. Sessions are looked up by (user, channel, thread) and
// identified by a random UUID.
package sessionregistry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotAuthorized is returned when a requester tries to act on a session it
// does not own.
var ErrNotAuthorized = errors.New("sessionregistry: requester does not own this session")

// Turn is one user/response exchange within a thread.
type Turn struct {
	UserInput   string
	Response    string
	HasResponse bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Thread is an ordered sequence of turns within a session.
type Thread struct {
	ID    string
	Turns []Turn
}

// Session is the persistent conversational unit owned exclusively by the
// Registry; callers interact with it only through SessionHandle.
type Session struct {
	ID           string
	UserID       string
	Channel      string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Threads      []Thread
	Metadata     map[string]any

	mu sync.Mutex
}

// kind returns the session's display kind, defaulting to "main" when the
// metadata doesn't carry one, matching the registry's list filter semantics.
func (s *Session) kind() string {
	if s.Metadata == nil {
		return "main"
	}
	if k, ok := s.Metadata["kind"].(string); ok && k != "" {
		return k
	}
	return "main"
}

// SessionHandle is the external, ownership-safe view onto a Session.
type SessionHandle struct {
	session *Session
}

// ID returns the handle's underlying session ID.
func (h SessionHandle) ID() string { return h.session.ID }

// Summary is a lightweight projection of a session for listing.
type Summary struct {
	ID           string
	UserID       string
	Channel      string
	Kind         string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ThreadCount  int
}

// HistoryEntry is one turn's contribution to a history listing.
type HistoryEntry struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Database is the narrow persistence interface C8 depends on for
// database-backed history fallback; implemented by internal/store adapters.
type Database interface {
	ListConversationMessages(ctx context.Context, conversationID string) ([]HistoryEntry, error)
	AddConversationMessage(ctx context.Context, conversationID, role, content string) error
}

// Config controls registry-wide behavior.
type Config struct {
	IdleTimeout time.Duration
}

// DefaultConfig applies a 30 minute idle timeout before a session becomes
// eligible for pruning.
func DefaultConfig() Config {
	return Config{IdleTimeout: 30 * time.Minute}
}

// sessionKey is the (user, channel, thread) lookup key for the outer map.
type sessionKey struct {
	userID   string
	channel  string
	threadID string
}

// Registry maps (user_id, channel, optional thread_id) to a Session,
// creating sessions and their first thread lazily on first resolution.
type Registry struct {
	cfg Config
	db  Database

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
	byID     map[string]*Session
}

// New creates an empty registry. db may be nil if no database-backed history
// fallback is needed.
func New(cfg Config, db Database) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Registry{
		cfg:      cfg,
		db:       db,
		sessions: make(map[sessionKey]*Session),
		byID:     make(map[string]*Session),
	}
}

// ResolveThread returns the session and thread ID for (user, channel,
// threadID), lazily constructing both on first resolution. An empty
// threadID resolves to the session's default ("main") thread.
func (r *Registry) ResolveThread(userID, channel, threadID string) (SessionHandle, string) {
	key := sessionKey{userID: userID, channel: channel, threadID: threadID}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if ok {
		s.mu.Lock()
		s.LastActiveAt = time.Now()
		s.mu.Unlock()
		return SessionHandle{session: s}, resolvedThreadID(s, threadID)
	}

	now := time.Now()
	tid := threadID
	if tid == "" {
		tid = "main"
	}
	s = &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Channel:      channel,
		CreatedAt:    now,
		LastActiveAt: now,
		Threads:      []Thread{{ID: tid}},
		Metadata:     make(map[string]any),
	}
	r.sessions[key] = s
	r.byID[s.ID] = s
	return SessionHandle{session: s}, tid
}

func resolvedThreadID(s *Session, requested string) string {
	if requested != "" {
		return requested
	}
	if len(s.Threads) > 0 {
		return s.Threads[0].ID
	}
	return "main"
}

// ListSessions returns summaries of every registered session, optionally
// filtered to those whose kind matches kindFilter (ignored when empty).
func (r *Registry) ListSessions(kindFilter string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.byID))
	for _, s := range r.byID {
		s.mu.Lock()
		k := s.kind()
		if kindFilter != "" && k != kindFilter {
			s.mu.Unlock()
			continue
		}
		out = append(out, Summary{
			ID:           s.ID,
			UserID:       s.UserID,
			Channel:      s.Channel,
			Kind:         k,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ThreadCount:  len(s.Threads),
		})
		s.mu.Unlock()
	}
	return out
}

// History returns the requester's view of a session's conversation history,
// denying access if requesterUserID does not own the session. If the
// session's active thread has no turns yet and it carries a conversation_id
// in metadata, history is loaded from the database instead.
func (r *Registry) History(ctx context.Context, sessionID string, limit int, requesterUserID string) ([]HistoryEntry, error) {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UserID != requesterUserID {
		return nil, ErrNotAuthorized
	}

	var entries []HistoryEntry
	if len(s.Threads) > 0 {
		for _, turn := range s.Threads[0].Turns {
			entries = append(entries, HistoryEntry{Role: "user", Content: turn.UserInput, Timestamp: turn.StartedAt})
			if turn.HasResponse {
				entries = append(entries, HistoryEntry{Role: "assistant", Content: turn.Response, Timestamp: turn.CompletedAt})
			}
		}
	}

	if len(entries) == 0 && r.db != nil {
		if convID, ok := s.Metadata["conversation_id"].(string); ok && convID != "" {
			dbEntries, err := r.db.ListConversationMessages(ctx, convID)
			if err != nil {
				return nil, err
			}
			entries = dbEntries
		}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// SendTo appends a new user turn to the active thread of the target
// session, denying the write if requesterUserID does not own it. If the
// session carries a conversation_id, the message is also persisted
// fire-and-forget (errors are swallowed; this is best-effort).
func (r *Registry) SendTo(ctx context.Context, sessionID, content, requesterUserID string) error {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.UserID != requesterUserID {
		s.mu.Unlock()
		return ErrNotAuthorized
	}
	if len(s.Threads) == 0 {
		s.Threads = append(s.Threads, Thread{ID: "main"})
	}
	s.Threads[0].Turns = append(s.Threads[0].Turns, Turn{UserInput: content, StartedAt: time.Now()})
	s.LastActiveAt = time.Now()
	convID, hasConvID := s.Metadata["conversation_id"].(string)
	s.mu.Unlock()

	if hasConvID && convID != "" && r.db != nil {
		go func() {
			_ = r.db.AddConversationMessage(context.Background(), convID, "user", content)
		}()
	}
	return nil
}

// PruneIdle removes sessions whose LastActiveAt exceeds the configured idle
// timeout, returning the number removed.
func (r *Registry) PruneIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.cfg.IdleTimeout)
	removed := 0
	for key, s := range r.sessions {
		s.mu.Lock()
		stale := s.LastActiveAt.Before(cutoff)
		id := s.ID
		s.mu.Unlock()
		if stale {
			delete(r.sessions, key)
			delete(r.byID, id)
			removed++
		}
	}
	return removed
}
