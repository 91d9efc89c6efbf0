package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// CronJob is one recurring unit of work, evaluated against a standard
// five-field cron expression.
type CronJob struct {
	ID         string
	Expr       string
	SessionKey string
	Run        RunFunc
}

// CronScheduler polls a set of CronJobs against the clock and hands due
// jobs to a Scheduler's cron lane, so they get the same per-session
// concurrency control and cancellation as any other scheduled run.
type CronScheduler struct {
	sched    *Scheduler
	interval time.Duration
	gronx    gronx.Gronx

	mu   sync.Mutex
	jobs map[string]CronJob

	log *slog.Logger
}

// NewCronScheduler creates a cron scheduler that hands due jobs to sched
// and polls job expressions every interval (a minute is the finest
// granularity standard cron expressions support; smaller intervals just
// re-check more often without changing firing semantics).
func NewCronScheduler(sched *Scheduler, interval time.Duration) *CronScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CronScheduler{
		sched:    sched,
		interval: interval,
		gronx:    gronx.New(),
		jobs:     make(map[string]CronJob),
		log:      slog.With("component", "scheduler.cron"),
	}
}

// AddJob registers or replaces job, rejecting an invalid cron expression.
func (c *CronScheduler) AddJob(job CronJob) error {
	if !gronx.IsValid(job.Expr) {
		return fmt.Errorf("scheduler: invalid cron expression %q for job %s", job.Expr, job.ID)
	}
	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()
	return nil
}

// RemoveJob unregisters a job by ID, if present.
func (c *CronScheduler) RemoveJob(id string) {
	c.mu.Lock()
	delete(c.jobs, id)
	c.mu.Unlock()
}

// Run polls registered jobs until ctx is cancelled, dispatching each job
// whose expression is due at the tick time onto the cron lane. Dispatch is
// fire-and-forget: Run never blocks waiting for a job to finish.
func (c *CronScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(ctx, now)
		}
	}
}

func (c *CronScheduler) tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	due := make([]CronJob, 0, len(c.jobs))
	for _, job := range c.jobs {
		ok, err := c.gronx.IsDue(job.Expr, now)
		if err != nil {
			c.log.Error("invalid cron expression at tick", "job", job.ID, "expr", job.Expr, "error", err)
			continue
		}
		if ok {
			due = append(due, job)
		}
	}
	c.mu.Unlock()

	for _, job := range due {
		runID := fmt.Sprintf("cron:%s:%d", job.ID, now.Unix())
		c.log.Info("cron job due", "job", job.ID, "run_id", runID)
		outCh := c.sched.Schedule(ctx, LaneCron, RunRequest{
			SessionKey: job.SessionKey,
			RunID:      runID,
			Run:        job.Run,
		})
		go func(jobID string) {
			outcome := <-outCh
			if outcome.Err != nil {
				c.log.Error("cron job failed", "job", jobID, "error", outcome.Err)
			}
		}(job.ID)
	}
}
