package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleTaskFailer fails tasks stuck in flight since before cutoff
type StaleTaskFailer interface {
	FailStale(ctx context.Context, cutoff time.Time) (int, error)
}

// TaskReaper periodically fails image tasks that never finished, so that
// pollers waiting on them see a terminal status
type TaskReaper struct {
	tasks   StaleTaskFailer
	timeout time.Duration
	sched   *cron.Cron
	log     *zap.Logger
	now     func() time.Time
}

// NewTaskReaper schedules the reaper with a cron spec such as "@every 1m"
func NewTaskReaper(tasks StaleTaskFailer, spec string, timeout time.Duration, log *zap.Logger) (*TaskReaper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &TaskReaper{
		tasks:   tasks,
		timeout: timeout,
		sched:   cron.New(),
		log:     log.Named("reaper"),
		now:     time.Now,
	}
	if _, err := r.sched.AddFunc(spec, func() { r.Reap(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start runs the schedule in the background
func (r *TaskReaper) Start() {
	r.sched.Start()
	r.log.Info("Task reaper scheduled", zap.Duration("timeout", r.timeout))
}

// Stop halts the schedule and waits for a running reap to finish
func (r *TaskReaper) Stop() {
	<-r.sched.Stop().Done()
}

// Reap fails every task in flight for longer than the timeout
func (r *TaskReaper) Reap(ctx context.Context) int {
	n, err := r.tasks.FailStale(ctx, r.now().UTC().Add(-r.timeout))
	if err != nil {
		r.log.Error("Failed to reap stale tasks", zap.Error(err))
		return 0
	}
	if n > 0 {
		r.log.Warn("Reaped stale tasks", zap.Int("tasks", n))
	}
	return n
}
