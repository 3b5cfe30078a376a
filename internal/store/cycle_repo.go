// Package store declares interfaces for persisting crawl cycle history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("cycle record not found")

// CycleStatus mirrors the crawl_cycles status column.
type CycleStatus string

// Cycle statuses persisted in crawl_cycles.status.
const (
	CycleRunning CycleStatus = "running"
	CycleSuccess CycleStatus = "success"
	CycleError   CycleStatus = "error"
)

// CycleStats holds the counters accumulated by one cycle.
type CycleStats struct {
	// Pages counts search result pages that were fetched successfully.
	Pages int64
	// PageErrors counts search result pages that failed.
	PageErrors int64
	// Links counts candidate links discovered on result pages.
	Links int64
	// Invites counts invites verified and added to the catalog.
	Invites int64
	// Dropped counts candidates dropped by the resolver or verifier.
	Dropped int64
}

// Add returns the element-wise sum of s and other.
func (s CycleStats) Add(other CycleStats) CycleStats {
	return CycleStats{
		Pages:      s.Pages + other.Pages,
		PageErrors: s.PageErrors + other.PageErrors,
		Links:      s.Links + other.Links,
		Invites:    s.Invites + other.Invites,
		Dropped:    s.Dropped + other.Dropped,
	}
}

// IsZero reports whether no counter is set.
func (s CycleStats) IsZero() bool {
	return s == CycleStats{}
}

// Cycle models one row of crawl_cycles.
type Cycle struct {
	// ID is the UUIDv7 cycle identifier.
	ID uuid.UUID
	// StartedAt captures when the cycle began.
	StartedAt time.Time
	// FinishedAt is nil until the cycle is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status CycleStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Stats are the counters accumulated so far.
	Stats CycleStats
	// CatalogEntries is the catalog size after the cycle saved.
	CatalogEntries int64
}

// CycleRepository persists cycle progress.
type CycleRepository interface {
	// StartCycle inserts (or idempotently updates) the cycle row.
	StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error
	// AddCycleStats applies counter deltas to a cycle.
	AddCycleStats(ctx context.Context, cycleID uuid.UUID, delta CycleStats, at time.Time) error
	// CompleteCycle marks the cycle finished.
	CompleteCycle(
		ctx context.Context,
		cycleID uuid.UUID,
		finishedAt time.Time,
		status CycleStatus,
		catalogEntries int64,
		errMsg *string,
	) error

	// GetCycle loads a single cycle or returns ErrNotFound.
	GetCycle(ctx context.Context, cycleID uuid.UUID) (Cycle, error)
	// ListCycles returns cycles filtered by optional status, newest first.
	ListCycles(ctx context.Context, status *CycleStatus, limit, offset int) ([]Cycle, error)
}
