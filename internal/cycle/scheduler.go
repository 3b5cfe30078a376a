package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/metrics"
)

// DefaultCadence is the interval between cycle starts.
const DefaultCadence = time.Hour

// Loader reads the catalog persisted by earlier runs.
type Loader interface {
	Load(ctx context.Context) (catalog.State, error)
}

// CycleRunner executes one cycle.
type CycleRunner interface {
	Run(ctx context.Context, prior catalog.State) (catalog.State, Report, error)
}

// SleepClock measures time and sleeps until ctx ends.
type SleepClock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Observer is told about every cycle that finished.
type Observer func(Report)

// Scheduler loads the catalog once and runs cycles at a fixed cadence.
type Scheduler struct {
	cadence   time.Duration
	loader    Loader
	runner    CycleRunner
	clock     SleepClock
	observers []Observer
	logger    *zap.Logger
}

// NewScheduler builds a Scheduler. A non-positive cadence uses DefaultCadence.
func NewScheduler(cadence time.Duration, loader Loader, runner CycleRunner, clock SleepClock, logger *zap.Logger, observers ...Observer) (*Scheduler, error) {
	if loader == nil || runner == nil || clock == nil {
		return nil, errors.New("loader, runner and clock are required")
	}
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cadence:   cadence,
		loader:    loader,
		runner:    runner,
		clock:     clock,
		observers: observers,
		logger:    logger.Named("scheduler"),
	}, nil
}

// NextDelay returns how long to sleep after a cycle that took elapsed so the
// next one starts a full cadence after the previous start. Overruns start the
// next cycle immediately.
func NextDelay(cadence, elapsed time.Duration) time.Duration {
	if elapsed >= cadence {
		return 0
	}
	return cadence - elapsed
}

// Run loads the catalog and cycles until ctx ends or a cycle fails. A corrupt
// catalog the policy refused to overwrite surfaces as catalog.ErrLoadAborted.
func (s *Scheduler) Run(ctx context.Context) error {
	state, err := s.load(ctx)
	if err != nil {
		return err
	}
	for {
		start := s.clock.Now()
		next, rep, err := s.runner.Run(ctx, state)
		if err != nil {
			return fmt.Errorf("cycle %s: %w", rep.CycleID, err)
		}
		state = next
		s.notify(rep)

		delay := NextDelay(s.cadence, s.clock.Now().Sub(start))
		metrics.SetCycleSleep(delay)
		s.logger.Info("Sleeping until next cycle", zap.Duration("delay", delay))
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// RunOnce loads the catalog and runs a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	state, err := s.load(ctx)
	if err != nil {
		return Report{}, err
	}
	_, rep, err := s.runner.Run(ctx, state)
	if err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.CycleID, err)
	}
	s.notify(rep)
	return rep, nil
}

func (s *Scheduler) load(ctx context.Context) (catalog.State, error) {
	state, err := s.loader.Load(ctx)
	if err != nil {
		return catalog.State{}, fmt.Errorf("load catalog: %w", err)
	}
	return state, nil
}

func (s *Scheduler) notify(rep Report) {
	for _, obs := range s.observers {
		obs(rep)
	}
}
