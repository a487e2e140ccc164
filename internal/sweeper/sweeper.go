// Package sweeper runs the absence sweep on a schedule and on demand.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"campusattend/internal/attendance"
	"campusattend/internal/queue"
)

// Sweeper marks absentees for expired codes.
type Sweeper interface {
	Sweep(ctx context.Context) (attendance.SweepResult, error)
}

// Runner serialises sweeps coming from the scheduler and the job queue.
type Runner struct {
	svc     Sweeper
	timeout time.Duration
	mu      sync.Mutex
}

// NewRunner wraps svc; each run is bounded by timeout.
func NewRunner(svc Sweeper, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{svc: svc, timeout: timeout}
}

// Run performs one sweep. Concurrent calls wait for each other.
func (r *Runner) Run(ctx context.Context, trigger string) (attendance.SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.svc.Sweep(ctx)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"trigger": trigger,
			"codes":   res.Codes,
			"failed":  res.Failed,
		}).Warn("sweep finished with errors")
	}
	return res, err
}

// Schedule registers the sweep on a cron spec such as "@every 1m" and returns
// the scheduler unstarted.
func (r *Runner) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		_, _ = r.Run(context.Background(), "schedule")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handlers returns the queue handlers served by r.
func (r *Runner) Handlers() map[string]queue.HandlerFunc {
	return map[string]queue.HandlerFunc{
		queue.TypeSweep: func(ctx context.Context, msg queue.Message) error {
			logrus.WithField("enqueued_at", msg.EnqueuedAt).Info("sweep requested")
			_, err := r.Run(ctx, "queue")
			return err
		},
	}
}
