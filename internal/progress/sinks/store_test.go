package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/invite-crawler/internal/progress"
	"github.com/JakeFAU/invite-crawler/internal/store"
)

// TestStoreSinkPersistsEvents ensures counters are collapsed per cycle before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeCycleRepo{}
	sink := NewStoreSink(repo, nil)
	cycleUUID := uuid.New()
	cycleID := progress.UUIDToBytes(cycleUUID)
	now := time.Now()

	batch := []progress.Event{
		{CycleID: cycleID, Stage: progress.StageCycleStart, TS: now},
		{CycleID: cycleID, Stage: progress.StagePageDone, Links: 5, TS: now.Add(time.Second)},
		{CycleID: cycleID, Stage: progress.StagePageDone, Page: 1, Links: 3, TS: now.Add(2 * time.Second)},
		{CycleID: cycleID, Stage: progress.StageLinkDropped, Reason: progress.DropVerify, TS: now.Add(3 * time.Second)},
		{CycleID: cycleID, Stage: progress.StageInviteFound, Code: "abc", TS: now.Add(4 * time.Second)},
		{CycleID: cycleID, Stage: progress.StageCycleDone, Entries: 11, TS: now.Add(5 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start", "stats", "complete"}, repo.calls)
	require.Len(t, repo.stats, 1)
	require.Equal(t, store.CycleStats{Pages: 2, Links: 8, Invites: 1, Dropped: 1}, repo.stats[0])
	require.Equal(t, store.CycleSuccess, repo.lastStatus)
	require.Equal(t, int64(11), repo.lastEntries)
}

// TestStoreSinkFlushesOpenCycles writes stats for cycles still running at batch end.
func TestStoreSinkFlushesOpenCycles(t *testing.T) {
	t.Parallel()

	repo := &fakeCycleRepo{}
	sink := NewStoreSink(repo, nil)
	cycleID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CycleID: cycleID, Stage: progress.StagePageError, TS: time.Now(), Note: "timeout"},
	}))
	require.Equal(t, []string{"stats"}, repo.calls)
	require.Equal(t, store.CycleStats{PageErrors: 1}, repo.stats[0])
}

func TestStoreSinkRecordsErrorNote(t *testing.T) {
	t.Parallel()

	repo := &fakeCycleRepo{}
	sink := NewStoreSink(repo, nil)
	cycleID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CycleID: cycleID, Stage: progress.StageCycleError, TS: time.Now(), Note: "save aborted"},
	}))
	require.Equal(t, store.CycleError, repo.lastStatus)
	require.NotNil(t, repo.lastNote)
	require.Equal(t, "save aborted", *repo.lastNote)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeCycleRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	cycleID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{CycleID: cycleID, Stage: progress.StageCycleStart, TS: time.Now()},
	})
	require.Error(t, err)
}

func TestStoreSinkWithoutRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageCycleStart}}))
}

type fakeCycleRepo struct {
	fail        bool
	calls       []string
	stats       []store.CycleStats
	lastStatus  store.CycleStatus
	lastEntries int64
	lastNote    *string
}

func (f *fakeCycleRepo) StartCycle(context.Context, uuid.UUID, time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeCycleRepo) AddCycleStats(_ context.Context, _ uuid.UUID, delta store.CycleStats, _ time.Time) error {
	if f.fail {
		return assertErr("stats")
	}
	f.calls = append(f.calls, "stats")
	f.stats = append(f.stats, delta)
	return nil
}

func (f *fakeCycleRepo) CompleteCycle(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.CycleStatus,
	entries int64,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	f.calls = append(f.calls, "complete")
	f.lastStatus = status
	f.lastEntries = entries
	f.lastNote = errMsg
	return nil
}

func (f *fakeCycleRepo) GetCycle(context.Context, uuid.UUID) (store.Cycle, error) {
	return store.Cycle{}, assertErr("read")
}

func (f *fakeCycleRepo) ListCycles(context.Context, *store.CycleStatus, int, int) ([]store.Cycle, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
