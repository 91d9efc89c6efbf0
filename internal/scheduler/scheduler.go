// Package scheduler runs dispatcher work items onto named lanes, bounding
// how many runs may execute concurrently per session, and supports
// cancelling in-flight runs by session or by run ID.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Lane groups scheduled work by origin, mirroring the dispatcher's own
// inbound classification: ordinary chat turns run on the main lane, while
// subagent/delegate announcements and cron-triggered runs get their own
// lanes so a burst on one never starves the others.
type Lane string

const (
	LaneMain     Lane = "main"
	LaneSubagent Lane = "subagent"
	LaneDelegate Lane = "delegate"
	LaneCron     Lane = "cron"
)

// RunFunc executes one scheduled unit of work to completion, returning the
// agent's final response text.
type RunFunc func(ctx context.Context) (string, error)

// RunRequest is one unit of work to schedule.
type RunRequest struct {
	SessionKey string
	RunID      string
	Run        RunFunc
}

// Outcome is delivered on a run's outcome channel exactly once.
type Outcome struct {
	Content string
	Err     error
}

// ScheduleOpts controls per-session concurrency for a scheduled request.
type ScheduleOpts struct {
	// MaxConcurrent caps how many runs may be in flight at once for the
	// same SessionKey. 0 defaults to 1 (strictly serialized per session).
	MaxConcurrent int
}

// Scheduler dispatches RunRequests, enforcing a per-session concurrency cap
// and tracking in-flight runs so they can be cancelled by session or by
// individual run ID.
type Scheduler struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	cancels map[string]map[string]context.CancelFunc
	log     *slog.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		slots:   make(map[string]chan struct{}),
		cancels: make(map[string]map[string]context.CancelFunc),
		log:     slog.With("component", "scheduler"),
	}
}

// Schedule runs req on lane with default options (MaxConcurrent: 1).
func (s *Scheduler) Schedule(ctx context.Context, lane Lane, req RunRequest) <-chan Outcome {
	return s.ScheduleWithOpts(ctx, lane, req, ScheduleOpts{})
}

// ScheduleWithOpts runs req on lane, waiting for a free concurrency slot
// for req.SessionKey before invoking req.Run. The returned channel
// receives exactly one Outcome and is then closed.
func (s *Scheduler) ScheduleWithOpts(ctx context.Context, lane Lane, req RunRequest, opts ScheduleOpts) <-chan Outcome {
	out := make(chan Outcome, 1)
	sem := s.semaphoreFor(req.SessionKey, opts.MaxConcurrent)

	runCtx, cancel := context.WithCancel(ctx)
	s.registerCancel(req.SessionKey, req.RunID, cancel)

	go func() {
		defer func() {
			s.unregisterCancel(req.SessionKey, req.RunID)
			cancel()
		}()

		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-runCtx.Done():
			out <- Outcome{Err: runCtx.Err()}
			close(out)
			return
		}

		s.log.Debug("run starting", "lane", lane, "session", req.SessionKey, "run_id", req.RunID)
		content, err := req.Run(runCtx)
		if err != nil {
			s.log.Warn("run failed", "lane", lane, "session", req.SessionKey, "run_id", req.RunID, "error", err)
		}
		out <- Outcome{Content: content, Err: err}
		close(out)
	}()

	return out
}

// semaphoreFor returns (creating if necessary) the concurrency-limiting
// channel for sessionKey, sized to max (at least 1).
func (s *Scheduler) semaphoreFor(sessionKey string, max int) chan struct{} {
	if max <= 0 {
		max = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.slots[sessionKey]
	if !ok || cap(sem) != max {
		sem = make(chan struct{}, max)
		s.slots[sessionKey] = sem
	}
	return sem
}

func (s *Scheduler) registerCancel(sessionKey, runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs, ok := s.cancels[sessionKey]
	if !ok {
		runs = make(map[string]context.CancelFunc)
		s.cancels[sessionKey] = runs
	}
	runs[runID] = cancel
}

func (s *Scheduler) unregisterCancel(sessionKey, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs, ok := s.cancels[sessionKey]
	if !ok {
		return
	}
	delete(runs, runID)
	if len(runs) == 0 {
		delete(s.cancels, sessionKey)
	}
}

// CancelSession cancels every run currently in flight for sessionKey,
// returning how many were cancelled.
func (s *Scheduler) CancelSession(sessionKey string) int {
	s.mu.Lock()
	runs := s.cancels[sessionKey]
	cancelFns := make([]context.CancelFunc, 0, len(runs))
	for _, c := range runs {
		cancelFns = append(cancelFns, c)
	}
	s.mu.Unlock()

	for _, c := range cancelFns {
		c()
	}
	return len(cancelFns)
}

// CancelOneSession cancels a single in-flight run identified by
// (sessionKey, runID), reporting whether a matching run was found.
func (s *Scheduler) CancelOneSession(sessionKey, runID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[sessionKey][runID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
