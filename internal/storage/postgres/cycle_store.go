// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/invite-crawler/internal/store"
)

// Schema creates the crawl_cycles table used by CycleStore.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_cycles (
	id              uuid PRIMARY KEY,
	started_at      timestamptz NOT NULL,
	finished_at     timestamptz,
	status          text NOT NULL,
	error_message   text,
	pages           bigint NOT NULL DEFAULT 0,
	page_errors     bigint NOT NULL DEFAULT 0,
	links           bigint NOT NULL DEFAULT 0,
	invites         bigint NOT NULL DEFAULT 0,
	dropped         bigint NOT NULL DEFAULT 0,
	catalog_entries bigint NOT NULL DEFAULT 0,
	last_update     timestamptz NOT NULL
);`

// Config controls the Postgres connection pool used for cycle history.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CycleStore implements store.CycleRepository using Postgres.
type CycleStore struct {
	pool pool
}

// NewCycleStore connects to Postgres and makes sure the schema exists.
func NewCycleStore(ctx context.Context, cfg Config) (*CycleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &CycleStore{pool: p}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewCycleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCycleStoreWithPool(p pool) (*CycleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CycleStore{pool: p}, nil
}

// EnsureSchema creates the crawl_cycles table when missing.
func (s *CycleStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure crawl_cycles schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *CycleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartCycle inserts a running cycle row.
func (s *CycleStore) StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_cycles (id, started_at, status, last_update)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE crawl_cycles.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, cycleID, startedAt, string(store.CycleRunning)); err != nil {
		return fmt.Errorf("failed to start cycle: %w", err)
	}
	return nil
}

// AddCycleStats adds counter deltas to a cycle row.
func (s *CycleStore) AddCycleStats(ctx context.Context, cycleID uuid.UUID, delta store.CycleStats, at time.Time) error {
	query := `
		UPDATE crawl_cycles
		SET pages = pages + $1,
			page_errors = page_errors + $2,
			links = links + $3,
			invites = invites + $4,
			dropped = dropped + $5,
			last_update = $6
		WHERE id = $7;
	`
	res, err := s.pool.Exec(ctx, query,
		delta.Pages, delta.PageErrors, delta.Links, delta.Invites, delta.Dropped, at, cycleID)
	if err != nil {
		return fmt.Errorf("failed to update cycle stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("update cycle stats %s: %w", cycleID, store.ErrNotFound)
	}
	return nil
}

// CompleteCycle marks a cycle as finished with a status and optional error message.
func (s *CycleStore) CompleteCycle(
	ctx context.Context,
	cycleID uuid.UUID,
	finishedAt time.Time,
	status store.CycleStatus,
	catalogEntries int64,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_cycles
		SET finished_at = $1, status = $2, catalog_entries = $3, error_message = $4, last_update = $1
		WHERE id = $5;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), catalogEntries, errMsg, cycleID); err != nil {
		return fmt.Errorf("failed to complete cycle: %w", err)
	}
	return nil
}

const cycleColumns = `id, started_at, finished_at, status, error_message,
		pages, page_errors, links, invites, dropped, catalog_entries`

// GetCycle retrieves a single cycle by its ID.
func (s *CycleStore) GetCycle(ctx context.Context, cycleID uuid.UUID) (store.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM crawl_cycles WHERE id = $1;`
	cycle, err := scanCycle(s.pool.QueryRow(ctx, query, cycleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Cycle{}, store.ErrNotFound
		}
		return store.Cycle{}, fmt.Errorf("failed to get cycle: %w", err)
	}
	return cycle, nil
}

// ListCycles retrieves cycles newest first, with optional status filtering.
func (s *CycleStore) ListCycles(
	ctx context.Context,
	status *store.CycleStatus,
	limit,
	offset int,
) ([]store.Cycle, error) {
	query := `SELECT ` + cycleColumns + `
		FROM crawl_cycles
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []store.Cycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		cycles = append(cycles, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return cycles, nil
}

func scanCycle(row pgx.Row) (store.Cycle, error) {
	var (
		cycle  store.Cycle
		status string
	)
	err := row.Scan(
		&cycle.ID,
		&cycle.StartedAt,
		&cycle.FinishedAt,
		&status,
		&cycle.ErrorMessage,
		&cycle.Stats.Pages,
		&cycle.Stats.PageErrors,
		&cycle.Stats.Links,
		&cycle.Stats.Invites,
		&cycle.Stats.Dropped,
		&cycle.CatalogEntries,
	)
	if err != nil {
		return store.Cycle{}, err
	}
	cycle.Status = store.CycleStatus(status)
	return cycle, nil
}
