package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/metrics"
)

// Decision is the outcome of a CorruptionPolicy.
type Decision int

// Supported corruption decisions.
const (
	DecisionAbort Decision = iota
	DecisionOverwrite
)

func (d Decision) String() string {
	if d == DecisionOverwrite {
		return "overwrite"
	}
	return "abort"
}

// CorruptionPolicy decides whether to continue with an empty catalog when the
// persisted one cannot be read.
type CorruptionPolicy interface {
	Decide(ctx context.Context, cerr *CorruptionError) (Decision, error)
}

// RetryGate runs between failed save attempts. Returning an error stops the
// retry loop.
type RetryGate interface {
	BeforeRetry(ctx context.Context, attempt int, err error) error
}

// Keeper applies the recovery policy on load and the retry policy on save.
type Keeper struct {
	store  Store
	policy CorruptionPolicy
	gate   RetryGate
	logger *zap.Logger
}

// NewKeeper wires a Keeper. A nil policy aborts on corruption; a nil gate
// pauses one second between save attempts.
func NewKeeper(store Store, policy CorruptionPolicy, gate RetryGate, logger *zap.Logger) *Keeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = pauseGate(time.Second)
	}
	return &Keeper{
		store:  store,
		policy: policy,
		gate:   gate,
		logger: logger,
	}
}

// Load reads the persisted catalog. Missing data yields an empty State.
// Corrupt data is resolved through the CorruptionPolicy; an abort decision
// returns an error matching ErrLoadAborted and nothing is written.
func (k *Keeper) Load(ctx context.Context) (State, error) {
	entries, err := k.store.Load(ctx)
	if err == nil {
		k.logger.Info("Catalog loaded", zap.Int("entries", len(entries)))
		return NewState(entries), nil
	}
	var cerr *CorruptionError
	if !errors.As(err, &cerr) {
		return State{}, fmt.Errorf("load catalog: %w", err)
	}

	k.logger.Error("Failed to read saved catalog; corrupted data may be lost", zap.Error(err))
	decision := DecisionAbort
	if k.policy != nil {
		decision, err = k.policy.Decide(ctx, cerr)
		if err != nil {
			return State{}, fmt.Errorf("decide on corrupt catalog: %w", err)
		}
	}
	metrics.ObserveCorruptionDecision(decision.String())

	if decision == DecisionOverwrite {
		k.logger.Warn("Continuing with an empty catalog; saved data will be overwritten",
			zap.String("path", cerr.Path))
		return State{}, nil
	}
	return State{}, fmt.Errorf("%w: %w", ErrLoadAborted, cerr)
}

// Save persists state, retrying until it succeeds, the gate gives up, or ctx
// is canceled.
func (k *Keeper) Save(ctx context.Context, state State) error {
	entries := state.Entries()
	for attempt := 1; ; attempt++ {
		err := k.store.Save(ctx, entries)
		if err == nil {
			metrics.ObserveCatalogSave("success")
			metrics.SetCatalogEntries(len(entries))
			if attempt > 1 {
				k.logger.Info("Catalog saved after retry", zap.Int("attempts", attempt))
			}
			return nil
		}
		metrics.ObserveCatalogSave("failure")
		k.logger.Error("Failed to save catalog", zap.Int("attempt", attempt), zap.Error(err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("save catalog: %w", ctxErr)
		}
		if gateErr := k.gate.BeforeRetry(ctx, attempt, err); gateErr != nil {
			return fmt.Errorf("save catalog after %d attempts: %w", attempt, gateErr)
		}
	}
}

type pauseGate time.Duration

func (p pauseGate) BeforeRetry(ctx context.Context, _ int, _ error) error {
	timer := time.NewTimer(time.Duration(p))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("save retry pause: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
