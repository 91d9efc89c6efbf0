package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func cmd(session string, lane Lane, content string) *QueuedCommand {
	return &QueuedCommand{
		ID:         uuid.New(),
		SessionID:  session,
		Lane:       lane,
		Content:    content,
		EnqueuedAt: time.Now(),
	}
}

func TestPriorityDequeueOrder(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "u"))
	mustEnqueue(t, q, cmd(sid, LaneControl, "/undo"))
	mustEnqueue(t, q, cmd(sid, LaneSystem, "/help"))
	mustEnqueue(t, q, cmd(sid, LaneApproval, "yes"))

	drained := q.DrainSession(sid)
	want := []string{"/help", "yes", "/undo", "u"}
	if len(drained) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(drained))
	}
	for i, c := range drained {
		if c.Content != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, c.Content, want[i])
		}
	}
}

func TestCoalescing(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "b"))
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "c"))

	merged := q.Coalesce(sid)
	if merged == nil {
		t.Fatal("expected merged command")
	}
	if merged.Content != "a\nb\nc" {
		t.Fatalf("expected joined content, got %q", merged.Content)
	}

	stats := q.Stats(sid)
	if stats.TotalEnqueued != 3 {
		t.Fatalf("expected total_enqueued=3, got %d", stats.TotalEnqueued)
	}
	if stats.TotalDequeued != 1 {
		t.Fatalf("expected total_dequeued=1, got %d", stats.TotalDequeued)
	}
	if stats.TotalCoalesced != 2 {
		t.Fatalf("expected total_coalesced=2, got %d", stats.TotalCoalesced)
	}
}

func TestCoalescePreservesFirstIdentityAndTime(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	first := cmd(sid, LaneUserInput, "a")
	first.EnqueuedAt = time.Now().Add(-time.Minute)
	mustEnqueue(t, q, first)
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "b"))

	merged := q.Coalesce(sid)
	if merged.ID != first.ID {
		t.Fatalf("expected coalesced command to keep first ID")
	}
	if !merged.EnqueuedAt.Equal(first.EnqueuedAt) {
		t.Fatalf("expected coalesced command to keep first EnqueuedAt")
	}
}

func TestCoalesceOnlyTouchesUserInputLane(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "u1"))
	mustEnqueue(t, q, cmd(sid, LaneSystem, "/help"))

	merged := q.Coalesce(sid)
	if merged == nil || merged.Content != "u1" {
		t.Fatalf("expected only user input lane coalesced, got %+v", merged)
	}

	next := q.Dequeue(sid)
	if next == nil || next.Content != "/help" {
		t.Fatalf("expected system lane untouched, got %+v", next)
	}
}

func TestCoalesceDisabledFallsBackToDequeue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoalesceDisabled = true
	q := New(cfg)
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneSystem, "/help"))
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "b"))

	// Disabled coalescing must return the highest-priority lane's single
	// command unchanged, even though it is not UserInput.
	got := q.Coalesce(sid)
	if got == nil || got.Content != "/help" {
		t.Fatalf("expected dequeue-equivalent result, got %+v", got)
	}

	got2 := q.Coalesce(sid)
	if got2 == nil || got2.Content != "a" {
		t.Fatalf("expected single user input dequeued, got %+v", got2)
	}
}

func TestCoalesceEmptyReturnsNil(t *testing.T) {
	q := New(DefaultConfig())
	if got := q.Coalesce("missing"); got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}
}

func TestEnqueueFailsAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 2
	q := New(cfg)
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "b"))

	err := q.Enqueue(cmd(sid, LaneUserInput, "c"))
	if err == nil {
		t.Fatal("expected queue full error")
	}
	var qfe *QueueFullError
	if !asQueueFull(err, &qfe) {
		t.Fatalf("expected *QueueFullError, got %T", err)
	}
	if qfe.Size != 2 || qfe.Max != 2 {
		t.Fatalf("unexpected error fields: %+v", qfe)
	}

	q.Dequeue(sid)
	if err := q.Enqueue(cmd(sid, LaneUserInput, "c")); err != nil {
		t.Fatalf("expected enqueue to succeed after dequeue, got %v", err)
	}
}

func asQueueFull(err error, out **QueueFullError) bool {
	qfe, ok := err.(*QueueFullError)
	if ok {
		*out = qfe
	}
	return ok
}

func TestClearExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = time.Millisecond
	q := New(cfg)
	const sid = "s1"

	old := cmd(sid, LaneUserInput, "stale")
	old.EnqueuedAt = time.Now().Add(-time.Hour)
	mustEnqueue(t, q, old)

	time.Sleep(2 * time.Millisecond)
	removed := q.ClearExpired()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if stats := q.Stats(sid); stats.QueueDepth != 0 {
		t.Fatalf("expected session cleared, got depth %d", stats.QueueDepth)
	}
}

func TestStatsOnlyListsNonEmptyLanes(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))

	stats := q.Stats(sid)
	if len(stats.PendingByLane) != 1 {
		t.Fatalf("expected exactly one lane reported, got %v", stats.PendingByLane)
	}
	if stats.PendingByLane[LaneUserInput] != 1 {
		t.Fatalf("expected 1 pending in user input lane, got %v", stats.PendingByLane)
	}
}

func TestWaitForCommandWakesOnEnqueue(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.WaitForCommand(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForCommand did not wake on enqueue")
	}
}

func TestWaitForCommandRespectsContextCancel(t *testing.T) {
	q := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		q.WaitForCommand(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForCommand did not respect cancelled context")
	}
}

func TestEnqueueThenDrainThenEnqueueAgain(t *testing.T) {
	q := New(DefaultConfig())
	const sid = "s1"

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "a"))
	drained := q.DrainSession(sid)
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained, got %d", len(drained))
	}

	mustEnqueue(t, q, cmd(sid, LaneUserInput, "b"))
	drained2 := q.DrainSession(sid)
	if len(drained2) != 1 || drained2[0].Content != "b" {
		t.Fatalf("expected fresh drain after re-enqueue, got %+v", drained2)
	}
}

func mustEnqueue(t *testing.T, q *CommandQueue, c *QueuedCommand) {
	t.Helper()
	if err := q.Enqueue(c); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}
