package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/store"
)

const (
	defaultCycleLimit = 50
	maxCycleLimit     = 500
	historyTimeout    = 3 * time.Second
)

// CycleHandler exposes read-only cycle history endpoints.
type CycleHandler struct {
	repo    store.CycleRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewCycleHandler wires the repository and logger.
func NewCycleHandler(repo store.CycleRepository, logger *zap.Logger) *CycleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListCycles handles GET /api/cycles?status=&limit=&offset=. It returns
// {"cycles": [...]} newest first, 400 for invalid filters, 503 when no
// history store is configured, or 500 if the repository call fails.
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCycleLimit, maxCycleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.CycleStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cycles, err := h.repo.ListCycles(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list cycles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": toCycleDTOs(cycles),
	})
}

// GetCycle handles GET /api/cycles/{cycle_id}. It returns {"cycle": {...}},
// 400 for malformed IDs, 404 on store.ErrNotFound, 503 without a store, or
// 500 otherwise.
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle history unavailable")
		return
	}
	cycleID, err := parseCycleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, err := h.repo.GetCycle(ctx, cycleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
		h.logger.Error("get cycle failed", zap.Stringer("cycle_id", cycleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cycle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": toCycleDTO(c)})
}

func parseCycleID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "cycle_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("cycle_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid cycle_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.CycleStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.CycleRunning, nil
	case "success", "ok":
		return store.CycleSuccess, nil
	case "error", "failed", "failure":
		return store.CycleError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toCycleDTOs(in []store.Cycle) []cycleDTO {
	out := make([]cycleDTO, 0, len(in))
	for _, c := range in {
		out = append(out, toCycleDTO(c))
	}
	return out
}

func toCycleDTO(c store.Cycle) cycleDTO {
	return cycleDTO{
		ID:         c.ID.String(),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Status:     string(c.Status),
		Error:      c.ErrorMessage,
		Stats: statsDTO{
			Pages:      c.Stats.Pages,
			PageErrors: c.Stats.PageErrors,
			Links:      c.Stats.Links,
			Invites:    c.Stats.Invites,
			Dropped:    c.Stats.Dropped,
		},
		CatalogEntries: c.CatalogEntries,
	}
}

type cycleDTO struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	Error          *string    `json:"error,omitempty"`
	Stats          statsDTO   `json:"stats"`
	CatalogEntries int64      `json:"catalog_entries"`
}

type statsDTO struct {
	Pages      int64 `json:"pages"`
	PageErrors int64 `json:"page_errors"`
	Links      int64 `json:"links"`
	Invites    int64 `json:"invites"`
	Dropped    int64 `json:"dropped"`
}
