package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

// TestGeneratorRawIDOrdered checks v7 IDs sort by creation time.
func TestGeneratorRawIDOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewRawID()
	require.NoError(t, err)
	second, err := gen.NewRawID()
	require.NoError(t, err)
	require.Less(t, first.String(), second.String())
}
