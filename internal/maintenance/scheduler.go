// Package maintenance runs the daily housekeeping job on a single background
// worker. The worker arms one fire time, runs the job when it is reached and
// arms the next one, so runs never overlap.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// DefaultFireSpec fires every day at 00:01 local time.
const DefaultFireSpec = "0 1 0 * * *"

// DebugInterval replaces the daily schedule in debug mode.
const DebugInterval = time.Minute

// Runner is one maintenance run.
type Runner interface {
	Run(ctx context.Context) error
}

// Planner computes the next fire time after now.
type Planner func(now time.Time) time.Time

// NewPlanner returns the debug interval planner or one following the six
// field cron spec. With the default spec a start between 00:00 and 00:01
// fires at 00:01 the same day, not the next day.
func NewPlanner(debug bool, spec string) (Planner, error) {
	if debug {
		return func(now time.Time) time.Time { return now.Add(DebugInterval) }, nil
	}
	if spec == "" {
		spec = DefaultFireSpec
	}
	sched, err := cron.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("fire spec %q: %w", spec, err)
	}
	return sched.Next, nil
}

type Scheduler struct {
	job          Runner
	plan         Planner
	stopTimeout  time.Duration
	pollInterval time.Duration
	logger       *zap.SugaredLogger
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(job Runner, plan Planner, stopTimeout time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if stopTimeout <= 0 {
		stopTimeout = 3 * time.Second
	}
	return &Scheduler{
		job:          job,
		plan:         plan,
		stopTimeout:  stopTimeout,
		pollInterval: 250 * time.Millisecond,
		logger:       logger,
		now:          time.Now,
	}
}

// NextFireTime is the fire time the worker would arm right now.
func (s *Scheduler) NextFireTime() time.Time {
	return s.plan(s.now())
}

// Start launches the worker. A running worker is stopped first.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.logger.Debugw("restarting maintenance worker: stopping old worker beforehand")
		s.stopLocked()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.logger.Debugw("starting maintenance worker")
	go s.loop(ctx, done)
}

// Stop cancels the pending fire and waits for the worker up to the stop
// timeout. Stopping an idle scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.done == nil {
		return
	}
	s.logger.Debugw("stopping maintenance worker")
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		s.logger.Errorw("maintenance worker did not exit in time, leaking it", "timeout", s.stopTimeout)
	}
	s.cancel = nil
	s.done = nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	next := s.plan(s.now())
	s.logger.Infow("scheduled next maintenance job", "at", next)

	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if s.now().Before(next) {
			continue
		}
		s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		next = s.plan(s.now())
		s.logger.Infow("scheduled next maintenance job", "at", next)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("maintenance job panicked", "panic", r)
		}
	}()
	if err := s.job.Run(ctx); err != nil {
		s.logger.Warnw("maintenance job finished with errors", "err", err)
	}
}
