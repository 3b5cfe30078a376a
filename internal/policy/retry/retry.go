// Package retry paces repeated catalog save attempts.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// Backoff waits an exponentially growing, jittered delay between attempts.
// It never gives up on its own; only ctx ends the wait early.
type Backoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewBackoff builds a Backoff. Non-positive values fall back to 1s and 1m.
func NewBackoff(baseDelay, maxDelay time.Duration) *Backoff {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Backoff{baseDelay: baseDelay, maxDelay: maxDelay, sleep: sleepCtx}
}

// Delay returns the wait before attempt+1. Half of the exponential delay is
// fixed and half is jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// BeforeRetry implements catalog.RetryGate.
func (b *Backoff) BeforeRetry(ctx context.Context, attempt int, _ error) error {
	return b.sleep(ctx, b.Delay(attempt))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("save retry backoff: %w", ctx.Err())
	}
}

// Waiter blocks until the operator acknowledges a failure.
type Waiter interface {
	Interactive() bool
	WaitForEnter(ctx context.Context, message string) error
}

// Gate is the catalog.RetryGate contract.
type Gate interface {
	BeforeRetry(ctx context.Context, attempt int, err error) error
}

// OperatorGate asks the operator to press Enter before each retry when a
// terminal is attached and otherwise defers to fallback. When the terminal
// input closes it switches to fallback for good.
type OperatorGate struct {
	waiter   Waiter
	fallback Gate
	logger   *zap.Logger
	detached bool
}

// NewOperatorGate wires an OperatorGate.
func NewOperatorGate(waiter Waiter, fallback Gate, logger *zap.Logger) *OperatorGate {
	if fallback == nil {
		fallback = NewBackoff(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorGate{waiter: waiter, fallback: fallback, logger: logger}
}

// BeforeRetry implements catalog.RetryGate.
func (g *OperatorGate) BeforeRetry(ctx context.Context, attempt int, err error) error {
	if g.detached || g.waiter == nil || !g.waiter.Interactive() {
		return g.fallback.BeforeRetry(ctx, attempt, err)
	}
	msg := fmt.Sprintf("Failed to save catalog (attempt %d): %v", attempt, err)
	if waitErr := g.waiter.WaitForEnter(ctx, msg); waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("save retry prompt: %w", ctxErr)
		}
		g.logger.Warn("Operator input unavailable; retrying with backoff", zap.Error(waitErr))
		g.detached = true
		return g.fallback.BeforeRetry(ctx, attempt, err)
	}
	return nil
}
