package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/progress"
	"github.com/JakeFAU/invite-crawler/internal/store"
)

// StoreSink persists cycle progress via a store.CycleRepository. Counter
// events are collapsed per cycle so each batch costs one update per cycle.
type StoreSink struct {
	repo   store.CycleRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CycleRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes lifecycle events in order and flushes the collapsed counters
// before any completion, so a finished row always carries its final stats.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*statsDelta)

	for _, evt := range batch {
		cycleID := evt.CycleUUID()
		switch evt.Stage {
		case progress.StageCycleStart:
			if err := s.repo.StartCycle(ctx, cycleID, evt.TS); err != nil {
				return fmt.Errorf("start cycle: %w", err)
			}
		case progress.StageCycleDone, progress.StageCycleError:
			if err := s.flushCycle(ctx, pending, cycleID); err != nil {
				return err
			}
			if err := s.completeCycle(ctx, cycleID, evt); err != nil {
				return err
			}
		default:
			recordStats(pending, cycleID, evt)
		}
	}

	for cycleID := range pending {
		if err := s.flushCycle(ctx, pending, cycleID); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) completeCycle(ctx context.Context, cycleID uuid.UUID, evt progress.Event) error {
	status := store.CycleSuccess
	var note *string
	if evt.Stage == progress.StageCycleError {
		status = store.CycleError
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteCycle(ctx, cycleID, evt.TS, status, evt.Entries, note); err != nil {
		return fmt.Errorf("complete cycle: %w", err)
	}
	return nil
}

func (s *StoreSink) flushCycle(ctx context.Context, pending map[uuid.UUID]*statsDelta, cycleID uuid.UUID) error {
	delta, ok := pending[cycleID]
	if !ok {
		return nil
	}
	delete(pending, cycleID)
	if delta.stats.IsZero() {
		return nil
	}
	if err := s.repo.AddCycleStats(ctx, cycleID, delta.stats, delta.at); err != nil {
		return fmt.Errorf("add cycle stats: %w", err)
	}
	return nil
}

func recordStats(pending map[uuid.UUID]*statsDelta, cycleID uuid.UUID, evt progress.Event) {
	var inc store.CycleStats
	switch evt.Stage {
	case progress.StagePageDone:
		inc = store.CycleStats{Pages: 1, Links: evt.Links}
	case progress.StagePageError:
		inc = store.CycleStats{PageErrors: 1}
	case progress.StageInviteFound:
		inc = store.CycleStats{Invites: 1}
	case progress.StageLinkDropped:
		inc = store.CycleStats{Dropped: 1}
	default:
		return
	}
	delta := pending[cycleID]
	if delta == nil {
		delta = &statsDelta{}
		pending[cycleID] = delta
	}
	delta.stats = delta.stats.Add(inc)
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsDelta struct {
	stats store.CycleStats
	at    time.Time
}
