package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeeperLoadEmptyStore(t *testing.T) {
	t.Parallel()

	keeper := NewKeeper(&fakeStore{}, nil, nil, zap.NewNop())
	state, err := keeper.Load(context.Background())

	require.NoError(t, err)
	require.Zero(t, state.Len())
}

func TestKeeperLoadNormalizesEntries(t *testing.T) {
	t.Parallel()

	store := &fakeStore{entries: []Entry{entry("b", 1, 1), entry("a", 1, 1), entry("a", 4, 1)}}
	keeper := NewKeeper(store, nil, nil, zap.NewNop())

	state, err := keeper.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Entry{entry("a", 4, 1), entry("b", 1, 1)}, state.Entries())
}

func TestKeeperLoadCorruptionAbort(t *testing.T) {
	t.Parallel()

	store := &fakeStore{loadErr: &CorruptionError{Path: "guilds.cbor", Op: OpDecode, Err: errors.New("bad cbor")}}
	policy := &fakePolicy{decision: DecisionAbort}
	keeper := NewKeeper(store, policy, nil, zap.NewNop())

	_, err := keeper.Load(context.Background())

	require.ErrorIs(t, err, ErrLoadAborted)
	require.ErrorIs(t, err, ErrCorrupt)
	require.Equal(t, 1, policy.calls)
	require.Zero(t, store.saves, "abort must not write anything")
}

func TestKeeperLoadCorruptionOverwrite(t *testing.T) {
	t.Parallel()

	store := &fakeStore{loadErr: &CorruptionError{Path: "guilds.cbor", Op: OpDecode, Err: errors.New("bad cbor")}}
	keeper := NewKeeper(store, &fakePolicy{decision: DecisionOverwrite}, nil, zap.NewNop())

	state, err := keeper.Load(context.Background())
	require.NoError(t, err)
	require.Zero(t, state.Len())

	require.NoError(t, keeper.Save(context.Background(), state.Merge([]Entry{entry("a", 1, 1)})))
	require.Equal(t, []Entry{entry("a", 1, 1)}, store.saved)
}

func TestKeeperLoadNilPolicyAborts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{loadErr: &CorruptionError{Op: OpOpen, Err: errors.New("permission denied")}}
	_, err := NewKeeper(store, nil, nil, zap.NewNop()).Load(context.Background())
	require.ErrorIs(t, err, ErrLoadAborted)
}

func TestKeeperLoadPolicyError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{loadErr: &CorruptionError{Op: OpDecode, Err: errors.New("bad")}}
	policy := &fakePolicy{err: errors.New("stdin closed")}
	_, err := NewKeeper(store, policy, nil, zap.NewNop()).Load(context.Background())

	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLoadAborted)
}

func TestKeeperLoadPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := NewKeeper(&fakeStore{loadErr: boom}, &fakePolicy{}, nil, zap.NewNop()).Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestKeeperSaveRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	store := &fakeStore{saveErrs: []error{errors.New("disk full"), errors.New("disk full")}}
	gate := &fakeGate{}
	keeper := NewKeeper(store, nil, gate, zap.NewNop())

	require.NoError(t, keeper.Save(context.Background(), NewState([]Entry{entry("a", 1, 1)})))
	require.Equal(t, 3, store.saves)
	require.Equal(t, []int{1, 2}, gate.attempts)
	require.Equal(t, []Entry{entry("a", 1, 1)}, store.saved)
}

func TestKeeperSaveStopsWhenGateGivesUp(t *testing.T) {
	t.Parallel()

	store := &fakeStore{saveErrs: []error{errors.New("read-only"), errors.New("read-only")}}
	gateErr := errors.New("operator quit")
	keeper := NewKeeper(store, nil, &fakeGate{err: gateErr}, zap.NewNop())

	err := keeper.Save(context.Background(), State{})
	require.ErrorIs(t, err, gateErr)
	require.Equal(t, 1, store.saves)
}

func TestKeeperSaveHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &fakeStore{saveErrs: []error{errors.New("read-only")}}

	err := NewKeeper(store, nil, &fakeGate{}, zap.NewNop()).Save(ctx, State{})
	require.ErrorIs(t, err, context.Canceled)
}

type fakeStore struct {
	mu       sync.Mutex
	entries  []Entry
	loadErr  error
	saveErrs []error
	saves    int
	saved    []Entry
}

func (s *fakeStore) Load(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]Entry(nil), s.entries...), nil
}

func (s *fakeStore) Save(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		return err
	}
	s.saved = append([]Entry(nil), entries...)
	return nil
}

type fakePolicy struct {
	decision Decision
	err      error
	calls    int
}

func (p *fakePolicy) Decide(context.Context, *CorruptionError) (Decision, error) {
	p.calls++
	return p.decision, p.err
}

type fakeGate struct {
	attempts []int
	err      error
}

func (g *fakeGate) BeforeRetry(_ context.Context, attempt int, _ error) error {
	g.attempts = append(g.attempts, attempt)
	return g.err
}
