package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is the dispatch cadence.
const DefaultTickInterval = time.Second

// Scheduler runs Dispatcher.Tick on a fixed interval using gocron.
type Scheduler struct {
	cron       gocron.Scheduler
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler. clock drives both gocron and the
// dispatcher in tests.
func NewScheduler(d *Dispatcher, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cron, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:       cron,
		dispatcher: d,
		interval:   interval,
		logger:     logger,
	}, nil
}

// Start releases stale items and schedules the tick job. ctx is passed to
// every tick; canceling it aborts in-flight sends.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.dispatcher.ReleaseStale(ctx); err != nil {
		// Not fatal: stuck items are picked up on the next restart.
		s.logger.Error("failed to release stale notifications", "error", err)
	}

	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.dispatcher.Tick(ctx)
		}),
		gocron.WithName("dispatch-tick"),
		// A tick that overruns the interval delays the next one instead of
		// running alongside it.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("scheduling dispatch tick: %w", err)
	}

	s.cron.Start()
	s.logger.Info("dispatch scheduler started", "interval", s.interval)
	return nil
}

// Stop shuts down the gocron scheduler, waiting for a running tick.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}
