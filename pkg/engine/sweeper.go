package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule  = "@every 1m"
	DefaultSweepBatchSize = 100
)

// Sweeper periodically resumes parked executions whose wait elapsed without
// a local timer firing, e.g. after a restart or when the owning worker died.
type Sweeper struct {
	engine    *Engine
	cron      *cron.Cron
	clock     clockwork.Clock
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewSweeper(engine *Engine, schedule string, batchSize int, clock clockwork.Clock, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Sweeper{
		engine:    engine,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		clock:     clock,
		batchSize: batchSize,
		logger:    logger.With("module", "sweeper"),
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start runs an immediate sweep and then follows the schedule.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true

	s.logger.InfoContext(ctx, "Starting resumption sweeper")

	go s.tick()

	s.cron.Start()
}

// Stop halts the schedule and waits for a sweep in progress.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()

		return
	}

	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep resumes every execution due at the clock's current time, in batches.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	total := 0

	for {
		resumed, err := s.engine.ResumeDue(ctx, s.clock.Now(), s.batchSize)
		total += resumed

		if err != nil {
			return total, err
		}

		// A short batch means the backlog is drained. A full batch where nothing
		// could be claimed means other resumers hold the rest.
		if resumed == 0 || resumed < s.batchSize {
			return total, nil
		}
	}
}

func (s *Sweeper) tick() {
	ctx := context.Background()

	resumed, err := s.Sweep(ctx)
	if err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return
		}

		s.logger.ErrorContext(ctx, "Sweep failed", "resumed", resumed, "error", err)

		return
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "Resumed parked executions", "count", resumed)
	}
}
