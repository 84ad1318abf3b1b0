package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/assessly/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep every fifteen minutes
const DefaultSweepSchedule = "*/15 * * * *"

// Sweeper runs CleanupExpiredGrants on a cron schedule.
// The engine never sweeps on its own; deployments opt in by starting one.
type Sweeper struct {
	engine   *EnhancedRBAC
	schedule string
	logger   *observability.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweeper validates schedule and prepares a sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(engine *EnhancedRBAC, schedule string, logger *observability.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &Sweeper{
		engine:   engine,
		schedule: schedule,
		logger:   logger.WithField("component", "rbac-sweeper"),
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Schedule returns the cron expression the sweeper runs on
func (s *Sweeper) Schedule() string { return s.schedule }

// RunOnce performs a single sweep and returns how many grants were removed
func (s *Sweeper) RunOnce(ctx context.Context) int {
	removed := s.engine.CleanupExpiredGrants(ctx)
	s.logger.WithField("removed", removed).Debug("Expired grant sweep finished")
	return removed
}

// Start begins scheduled sweeps. Calling Start twice has no effect.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Expired grant sweeper started")
}

// Stop halts scheduling and waits for a running sweep, or for ctx, whichever ends first
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("Expired grant sweeper stopped")
}
