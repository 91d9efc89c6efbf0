// Package commandqueue implements per-session, per-lane FIFO command queues
// with coalescing, expiry, and a broadcast notifier for enqueue events.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielsimonjr/ironclaw/internal/inline"
)

// Lane re-exports the shared priority lane type so callers of this package
// don't need to import internal/inline just to name a lane.
type Lane = inline.Lane

const (
	LaneSystem    = inline.LaneSystem
	LaneApproval  = inline.LaneApproval
	LaneControl   = inline.LaneControl
	LaneUserInput = inline.LaneUserInput
)

// orderedLanes is the strict priority order used for dequeue selection,
// draining, and stats display.
var orderedLanes = []Lane{LaneSystem, LaneApproval, LaneControl, LaneUserInput}

// QueuedCommand is one unit of work waiting for a session's consumer.
type QueuedCommand struct {
	ID         uuid.UUID
	SessionID  string
	Lane       Lane
	Content    string
	Channel    string
	UserID     string
	EnqueuedAt time.Time
	Metadata   map[string]any
}

// Config controls queue-wide limits and coalescing behavior.
type Config struct {
	MaxQueueSize     int
	MaxAge           time.Duration
	CoalesceDisabled bool
}

// DefaultConfig applies a generous per-session cap and a five minute
// expiry window.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize: 100,
		MaxAge:       5 * time.Minute,
	}
}

// QueueFullError reports that a session's queue is at capacity.
type QueueFullError struct {
	SessionID string
	Size      int
	Max       int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full for session %s: size=%d max=%d", e.SessionID, e.Size, e.Max)
}

// Stats is a point-in-time snapshot of a session's queue counters.
type Stats struct {
	TotalEnqueued  uint64
	TotalDequeued  uint64
	TotalCoalesced uint64
	PendingByLane  map[Lane]int
	QueueDepth     int
}

// sessionQueue holds one session's per-lane command sequences and lifetime
// counters. All access is serialized by CommandQueue's outer lock; it carries
// no lock of its own.
type sessionQueue struct {
	lanes          map[Lane][]*QueuedCommand
	totalEnqueued  uint64
	totalDequeued  uint64
	totalCoalesced uint64
	lastEnqueue    time.Time
}

func newSessionQueue() *sessionQueue {
	return &sessionQueue{lanes: make(map[Lane][]*QueuedCommand)}
}

func (sq *sessionQueue) depth() int {
	n := 0
	for _, l := range orderedLanes {
		n += len(sq.lanes[l])
	}
	return n
}

func (sq *sessionQueue) isEmpty() bool {
	return sq.depth() == 0
}

// dequeueLocked removes and returns the first command from the
// highest-priority non-empty lane. Caller holds the outer write lock.
func (sq *sessionQueue) dequeueLocked() *QueuedCommand {
	for _, l := range orderedLanes {
		q := sq.lanes[l]
		if len(q) == 0 {
			continue
		}
		cmd := q[0]
		sq.lanes[l] = q[1:]
		sq.totalDequeued++
		return cmd
	}
	return nil
}

func (sq *sessionQueue) peekLocked() *QueuedCommand {
	for _, l := range orderedLanes {
		q := sq.lanes[l]
		if len(q) == 0 {
			continue
		}
		cloned := *q[0]
		return &cloned
	}
	return nil
}

func (sq *sessionQueue) drainLocked() []*QueuedCommand {
	out := make([]*QueuedCommand, 0, sq.depth())
	for _, l := range orderedLanes {
		out = append(out, sq.lanes[l]...)
		sq.totalDequeued += uint64(len(sq.lanes[l]))
		sq.lanes[l] = nil
	}
	return out
}

func (sq *sessionQueue) clearLocked() {
	for _, l := range orderedLanes {
		sq.lanes[l] = nil
	}
}

// removeExpiredLocked drops commands older than maxAge across all lanes,
// returning the count removed.
func (sq *sessionQueue) removeExpiredLocked(now time.Time, maxAge time.Duration) int {
	removed := 0
	for _, l := range orderedLanes {
		q := sq.lanes[l]
		if len(q) == 0 {
			continue
		}
		kept := q[:0:0]
		for _, cmd := range q {
			if now.Sub(cmd.EnqueuedAt) > maxAge {
				removed++
				continue
			}
			kept = append(kept, cmd)
		}
		sq.lanes[l] = kept
	}
	return removed
}

// CommandQueue is the shared, session-keyed priority queue. All mutating
// operations hold the writer-biased mutex for the duration of the map/lane
// mutation only; the enqueue notifier is always signalled after the lock is
// released, matching the "drop lock before notify" ordering the design
// requires to avoid lock-held wakeups.
type CommandQueue struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*sessionQueue

	notifyMu sync.Mutex
	wake     chan struct{}
}

// New creates an empty command queue.
func New(cfg Config) *CommandQueue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	return &CommandQueue{
		cfg:      cfg,
		sessions: make(map[string]*sessionQueue),
		wake:     make(chan struct{}),
	}
}

// notify wakes every goroutine currently blocked in WaitForCommand. It must
// never be called while the outer mutex is held.
func (q *CommandQueue) notify() {
	q.notifyMu.Lock()
	close(q.wake)
	q.wake = make(chan struct{})
	q.notifyMu.Unlock()
}

// WaitForCommand suspends until the next enqueue broadcasts a wake-up, or
// ctx is cancelled. Wake-ups may be spurious: callers must re-check by
// calling Dequeue or Coalesce themselves.
func (q *CommandQueue) WaitForCommand(ctx context.Context) {
	q.notifyMu.Lock()
	ch := q.wake
	q.notifyMu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// Enqueue appends cmd to its lane for cmd.SessionID, failing with
// *QueueFullError when the session is already at capacity.
func (q *CommandQueue) Enqueue(cmd *QueuedCommand) error {
	q.mu.Lock()
	sq, ok := q.sessions[cmd.SessionID]
	if !ok {
		sq = newSessionQueue()
		q.sessions[cmd.SessionID] = sq
	}

	depth := sq.depth()
	if depth >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return &QueueFullError{SessionID: cmd.SessionID, Size: depth, Max: q.cfg.MaxQueueSize}
	}

	sq.lanes[cmd.Lane] = append(sq.lanes[cmd.Lane], cmd)
	sq.totalEnqueued++
	sq.lastEnqueue = time.Now()
	q.mu.Unlock()

	q.notify()
	return nil
}

// Dequeue atomically removes and returns the first command from the
// highest-priority non-empty lane for session, or nil if none is pending.
func (q *CommandQueue) Dequeue(sessionID string) *QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq, ok := q.sessions[sessionID]
	if !ok {
		return nil
	}
	return sq.dequeueLocked()
}

// Peek returns a copy of the next command that Dequeue would return, without
// removing it.
func (q *CommandQueue) Peek(sessionID string) *QueuedCommand {
	q.mu.RLock()
	defer q.mu.RUnlock()
	sq, ok := q.sessions[sessionID]
	if !ok {
		return nil
	}
	return sq.peekLocked()
}

// Coalesce drains the UserInput lane for session and joins its contents into
// one synthetic command, or behaves exactly like Dequeue when coalescing is
// disabled in this queue's config (including returning a non-UserInput
// command from a higher-priority lane unchanged).
func (q *CommandQueue) Coalesce(sessionID string) *QueuedCommand {
	if q.cfg.CoalesceDisabled {
		return q.Dequeue(sessionID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sq, ok := q.sessions[sessionID]
	if !ok {
		return nil
	}

	batch := sq.lanes[LaneUserInput]
	if len(batch) == 0 {
		return nil
	}
	sq.lanes[LaneUserInput] = nil

	first := batch[0]
	contents := make([]string, len(batch))
	for i, cmd := range batch {
		contents[i] = cmd.Content
	}

	merged := &QueuedCommand{
		ID:         first.ID,
		SessionID:  first.SessionID,
		Lane:       LaneUserInput,
		Content:    joinLines(contents),
		Channel:    first.Channel,
		UserID:     first.UserID,
		EnqueuedAt: first.EnqueuedAt,
		Metadata:   first.Metadata,
	}

	sq.totalDequeued++
	sq.totalCoalesced += uint64(len(batch) - 1)

	return merged
}

func joinLines(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}

// DrainSession removes and returns all pending commands for session in
// strict priority order, FIFO within each lane.
func (q *CommandQueue) DrainSession(sessionID string) []*QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq, ok := q.sessions[sessionID]
	if !ok {
		return nil
	}
	return sq.drainLocked()
}

// ClearSession removes all pending commands for session but keeps its
// lifetime counters.
func (q *CommandQueue) ClearSession(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sq, ok := q.sessions[sessionID]; ok {
		sq.clearLocked()
	}
}

// ClearExpired drops commands older than the queue's MaxAge across all
// sessions, removing any session whose queue becomes empty as a result.
// Returns the total number of commands removed.
func (q *CommandQueue) ClearExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sq := range q.sessions {
		removed += sq.removeExpiredLocked(now, q.cfg.MaxAge)
		if sq.isEmpty() {
			delete(q.sessions, id)
		}
	}
	return removed
}

// Stats returns a point-in-time snapshot for session. Lanes with zero
// pending commands are omitted from PendingByLane.
func (q *CommandQueue) Stats(sessionID string) Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	sq, ok := q.sessions[sessionID]
	if !ok {
		return Stats{PendingByLane: map[Lane]int{}}
	}

	pending := make(map[Lane]int)
	for _, l := range orderedLanes {
		if n := len(sq.lanes[l]); n > 0 {
			pending[l] = n
		}
	}

	return Stats{
		TotalEnqueued:  sq.totalEnqueued,
		TotalDequeued:  sq.totalDequeued,
		TotalCoalesced: sq.totalCoalesced,
		PendingByLane:  pending,
		QueueDepth:     sq.depth(),
	}
}
