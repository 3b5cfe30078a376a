package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/index"
)

func TestFullReplaceDropsStaleDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := New()
	publisher := index.NewFullReplace(backend, nil)

	require.NoError(t, publisher.Publish(ctx, []catalog.Entry{{ID: "old"}, {ID: "kept", ObservedAt: 1}}))
	require.NoError(t, publisher.Publish(ctx, []catalog.Entry{{ID: "kept", ObservedAt: 2}, {ID: "new"}}))

	assert.True(t, backend.Created())
	assert.Equal(t, []catalog.Entry{{ID: "kept", ObservedAt: 2}, {ID: "new"}}, backend.Documents())
}

func TestFailLeavesPreviousContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := New()
	require.NoError(t, backend.AddDocuments(ctx, []catalog.Entry{{ID: "a"}}))

	backend.Fail = func(step string) error {
		if step == "delete" {
			return errors.New("read only")
		}
		return nil
	}
	err := index.NewFullReplace(backend, nil).Publish(ctx, []catalog.Entry{{ID: "b"}})
	require.ErrorIs(t, err, index.ErrDeleteFailed)
	assert.Equal(t, []catalog.Entry{{ID: "a"}}, backend.Documents())
}
