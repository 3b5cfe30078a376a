package api

import (
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/invite-crawler/internal/cycle"
)

// Status tracks scheduler progress for the readiness and status endpoints.
// Observe is shaped as a cycle.Observer.
type Status struct {
	ready atomic.Bool

	mu   sync.RWMutex
	last *cycle.Summary
}

// NewStatus returns a Status that is not ready yet.
func NewStatus() *Status {
	return &Status{}
}

// Observe records a successful cycle and marks the service ready.
func (s *Status) Observe(rep cycle.Report) {
	summary := rep.Summary()
	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
	s.ready.Store(true)
}

// Ready reports whether at least one cycle has completed.
func (s *Status) Ready() bool {
	return s.ready.Load()
}

// Last returns the most recent cycle summary, if any.
func (s *Status) Last() (cycle.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return cycle.Summary{}, false
	}
	return *s.last, true
}
