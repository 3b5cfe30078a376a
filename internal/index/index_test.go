package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

type scriptedBackend struct {
	failAt Stage
	calls  []Stage
	added  []catalog.Entry
}

func (b *scriptedBackend) step(stage Stage) error {
	b.calls = append(b.calls, stage)
	if b.failAt == stage {
		return errors.New("backend unavailable")
	}
	return nil
}

func (b *scriptedBackend) EnsureIndex(context.Context) error { return b.step(StageEnsure) }

func (b *scriptedBackend) DeleteAll(context.Context) error { return b.step(StageDelete) }

func (b *scriptedBackend) AddDocuments(_ context.Context, entries []catalog.Entry) error {
	if err := b.step(StageInsert); err != nil {
		return err
	}
	b.added = entries
	return nil
}

func TestPublishRunsAllSteps(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{}
	entries := []catalog.Entry{{ID: "a"}, {ID: "b"}}
	require.NoError(t, NewFullReplace(backend, nil).Publish(context.Background(), entries))
	assert.Equal(t, []Stage{StageEnsure, StageDelete, StageInsert}, backend.calls)
	assert.Equal(t, entries, backend.added)
}

func TestPublishStopsAtFailedStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		failAt   Stage
		sentinel error
		calls    []Stage
		status   string
	}{
		{StageEnsure, ErrEnsureFailed, []Stage{StageEnsure}, "index is out of control"},
		{StageDelete, ErrDeleteFailed, []Stage{StageEnsure, StageDelete}, "index is outdated"},
		{StageInsert, ErrInsertFailed, []Stage{StageEnsure, StageDelete, StageInsert}, "index is empty"},
	}
	for _, tt := range tests {
		t.Run(string(tt.failAt), func(t *testing.T) {
			t.Parallel()

			backend := &scriptedBackend{failAt: tt.failAt}
			err := NewFullReplace(backend, nil).Publish(context.Background(), []catalog.Entry{{ID: "a"}})
			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.calls, backend.calls)

			var pubErr *PublishError
			require.ErrorAs(t, err, &pubErr)
			assert.Equal(t, tt.failAt, pubErr.Stage)
			assert.Equal(t, tt.status, pubErr.Status())
			assert.Contains(t, err.Error(), "backend unavailable")

			for _, other := range []error{ErrEnsureFailed, ErrDeleteFailed, ErrInsertFailed} {
				if other != tt.sentinel {
					assert.NotErrorIs(t, err, other)
				}
			}
		})
	}
}
