package cmd

import (
	"context"
	"time"

	"github.com/danielsimonjr/ironclaw/internal/scheduler"
)

// startCronScheduler wires a CronScheduler to sched's cron lane and starts
// its polling loop. Jobs are added at runtime (there is no persisted job
// store in this build); the scheduler starts with none registered.
func startCronScheduler(ctx context.Context, sched *scheduler.Scheduler) *scheduler.CronScheduler {
	cronSched := scheduler.NewCronScheduler(sched, time.Minute)
	go cronSched.Run(ctx)
	return cronSched
}
