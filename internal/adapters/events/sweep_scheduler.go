package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepFunc returns how many records it touched.
type SweepFunc func(ctx context.Context) (int, error)

type Sweep struct {
	Name     string
	Schedule string
	Run      SweepFunc
	Timeout  time.Duration
}

// SweepScheduler runs maintenance sweeps on cron schedules. Overlapping runs of the same
// sweep are skipped.
type SweepScheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
}

func NewSweepScheduler(logger *slog.Logger, sweeps []Sweep) (*SweepScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	s := &SweepScheduler{logger: logger, cron: c}
	for _, sweep := range sweeps {
		if sweep.Run == nil || sweep.Schedule == "" {
			continue
		}
		job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(s.job(sweep))
		if _, err := c.AddJob(sweep.Schedule, job); err != nil {
			return nil, fmt.Errorf("schedule sweep %s: %w", sweep.Name, err)
		}
	}
	return s, nil
}

func (s *SweepScheduler) job(sweep Sweep) cron.Job {
	timeout := sweep.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.RunNow(ctx, sweep)
	})
}

// RunNow executes a sweep once in the caller's goroutine.
func (s *SweepScheduler) RunNow(ctx context.Context, sweep Sweep) {
	started := time.Now()
	n, err := sweep.Run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed",
			"module", "events.sweep_scheduler",
			"layer", "adapter",
			"operation", sweep.Name,
			"outcome", "failure",
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "sweep completed",
		"module", "events.sweep_scheduler",
		"layer", "adapter",
		"operation", sweep.Name,
		"outcome", "success",
		"affected", n,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// Run blocks until ctx is cancelled, then waits for in-flight sweeps.
func (s *SweepScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}
