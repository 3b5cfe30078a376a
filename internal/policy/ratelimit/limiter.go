// Package ratelimit paces outbound requests to search engines and link hosts.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/invite-crawler/internal/metrics"
)

// Limiter blocks until the next request may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Kinds accepted by New.
const (
	KindFixed = "fixed"
	KindToken = "token"
)

// FixedDelay pauses for the same delay before every request, so consecutive
// requests are always at least delay apart.
type FixedDelay struct {
	name  string
	delay time.Duration
}

// NewFixedDelay returns a limiter that sleeps delay on every Wait.
func NewFixedDelay(name string, delay time.Duration) *FixedDelay {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelay{name: name, delay: delay}
}

// Wait sleeps for the configured delay or until ctx is done.
func (f *FixedDelay) Wait(ctx context.Context) error {
	if f.delay == 0 {
		return ctxErr(ctx)
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.ObserveRateLimitDelay(f.name, f.delay)
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

// TokenBucket admits one request per interval on average with bursts up to burst.
type TokenBucket struct {
	name    string
	limiter *rate.Limiter
}

// NewTokenBucket builds a token bucket refilling one token every interval.
// A non-positive interval disables limiting.
func NewTokenBucket(name string, interval time.Duration, burst int) *TokenBucket {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{name: name, limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available, respecting the context.
func (t *TokenBucket) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(t.name, waited)
	}
	return nil
}

// New selects a limiter implementation by kind. The empty kind means fixed.
func New(kind, name string, interval time.Duration, burst int) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindFixed:
		return NewFixedDelay(name, interval), nil
	case KindToken:
		return NewTokenBucket(name, interval, burst), nil
	default:
		return nil, fmt.Errorf("unknown limiter kind %q", kind)
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
