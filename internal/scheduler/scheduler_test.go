package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsAndReturnsOutcome(t *testing.T) {
	s := New()
	out := <-s.Schedule(context.Background(), LaneMain, RunRequest{
		SessionKey: "s1",
		RunID:      "r1",
		Run:        func(ctx context.Context) (string, error) { return "done", nil },
	})
	if out.Err != nil || out.Content != "done" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestScheduleSerializesPerSessionByDefault(t *testing.T) {
	s := New()
	var running atomic.Int32
	var maxObserved atomic.Int32

	run := func(ctx context.Context) (string, error) {
		n := running.Add(1)
		for {
			cur := maxObserved.Load()
			if n <= cur || maxObserved.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	}

	ch1 := s.Schedule(context.Background(), LaneMain, RunRequest{SessionKey: "s1", RunID: "r1", Run: run})
	ch2 := s.Schedule(context.Background(), LaneMain, RunRequest{SessionKey: "s1", RunID: "r2", Run: run})

	<-ch1
	<-ch2

	if maxObserved.Load() > 1 {
		t.Fatalf("expected strictly serialized runs for one session, observed concurrency %d", maxObserved.Load())
	}
}

func TestScheduleWithOptsAllowsConcurrency(t *testing.T) {
	s := New()
	var running atomic.Int32
	var maxObserved atomic.Int32

	run := func(ctx context.Context) (string, error) {
		n := running.Add(1)
		for {
			cur := maxObserved.Load()
			if n <= cur || maxObserved.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	}

	opts := ScheduleOpts{MaxConcurrent: 3}
	chans := make([]<-chan Outcome, 3)
	for i := range chans {
		chans[i] = s.ScheduleWithOpts(context.Background(), LaneMain, RunRequest{
			SessionKey: "group",
			RunID:      string(rune('a' + i)),
			Run:        run,
		}, opts)
	}
	for _, ch := range chans {
		<-ch
	}

	if maxObserved.Load() < 2 {
		t.Fatalf("expected concurrent execution, observed max %d", maxObserved.Load())
	}
}

func TestScheduleReportsRunError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	out := <-s.Schedule(context.Background(), LaneMain, RunRequest{
		SessionKey: "s1",
		RunID:      "r1",
		Run:        func(ctx context.Context) (string, error) { return "", boom },
	})
	if !errors.Is(out.Err, boom) {
		t.Fatalf("expected wrapped run error, got %v", out.Err)
	}
}

func TestCancelOneSessionStopsThatRun(t *testing.T) {
	s := New()
	started := make(chan struct{})
	ch := s.Schedule(context.Background(), LaneMain, RunRequest{
		SessionKey: "s1",
		RunID:      "r1",
		Run: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	<-started
	if !s.CancelOneSession("s1", "r1") {
		t.Fatal("expected CancelOneSession to find the in-flight run")
	}

	out := <-ch
	if out.Err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestCancelSessionStopsAllRuns(t *testing.T) {
	s := New()
	startedA := make(chan struct{})
	startedB := make(chan struct{})

	run := func(started chan struct{}) RunFunc {
		return func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
	}

	chA := s.ScheduleWithOpts(context.Background(), LaneMain, RunRequest{SessionKey: "s1", RunID: "a", Run: run(startedA)}, ScheduleOpts{MaxConcurrent: 2})
	chB := s.ScheduleWithOpts(context.Background(), LaneMain, RunRequest{SessionKey: "s1", RunID: "b", Run: run(startedB)}, ScheduleOpts{MaxConcurrent: 2})

	<-startedA
	<-startedB

	if n := s.CancelSession("s1"); n != 2 {
		t.Fatalf("expected 2 runs cancelled, got %d", n)
	}

	outA := <-chA
	outB := <-chB
	if outA.Err == nil || outB.Err == nil {
		t.Fatal("expected both runs to report cancellation")
	}
}

func TestCancelOneSessionReportsNotFound(t *testing.T) {
	s := New()
	if s.CancelOneSession("missing", "missing") {
		t.Fatal("expected false for unknown session/run")
	}
}
