package catalog

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func entry(id string, observedAt int64, members int) Entry {
	return Entry{
		ID:         id,
		ObservedAt: observedAt,
		Invite: Invite{
			Code:                   id,
			Guild:                  &Guild{ID: "g-" + id, Name: "guild " + id},
			ApproximateMemberCount: members,
		},
	}
}

func TestMergeKeepsFreshestPerID(t *testing.T) {
	t.Parallel()

	prior := []Entry{entry("b", 100, 1), entry("a", 100, 1), entry("c", 300, 1)}
	fresh := []Entry{entry("a", 200, 2), entry("c", 250, 2), entry("d", 200, 2)}

	got := Merge(prior, fresh)

	require.Equal(t, []Entry{
		entry("a", 200, 2),
		entry("b", 100, 1),
		entry("c", 300, 1),
		entry("d", 200, 2),
	}, got)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	a := []Entry{entry("x", 5, 1), entry("y", 7, 1), entry("x", 9, 3)}
	b := []Entry{entry("y", 8, 2), entry("z", 1, 1)}

	once := Merge(a, b)
	require.Equal(t, once, Merge(once, nil))
	require.Equal(t, once, Merge(nil, once))
}

func TestMergeWithEmptyFreshSortsByID(t *testing.T) {
	t.Parallel()

	catalog := []Entry{entry("m", 1, 1), entry("c", 2, 1), entry("x", 3, 1)}
	got := Merge(catalog, []Entry{})

	require.Equal(t, []Entry{entry("c", 2, 1), entry("m", 1, 1), entry("x", 3, 1)}, got)
	require.Equal(t, "m", catalog[0].ID, "input must not be reordered")
}

func TestMergeEmptyInputs(t *testing.T) {
	t.Parallel()

	got := Merge(nil, nil)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestMergeSurvivorIndependentOfSource(t *testing.T) {
	t.Parallel()

	older := entry("k", 10, 1)
	newer := entry("k", 20, 2)

	require.Equal(t, []Entry{newer}, Merge([]Entry{older}, []Entry{newer}))
	require.Equal(t, []Entry{newer}, Merge([]Entry{newer}, []Entry{older}))
}

func TestMergeTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	first := entry("t", 50, 10)
	second := entry("t", 50, 20)

	forward := Merge([]Entry{first}, []Entry{second})
	backward := Merge([]Entry{second}, []Entry{first})

	require.Len(t, forward, 1)
	require.Equal(t, forward, backward)
}

func TestMergeTieBreakSeesSubSecondExpiry(t *testing.T) {
	t.Parallel()

	early := time.Date(2018, time.November, 23, 13, 23, 54, 100_000_000, time.UTC)
	late := early.Add(800 * time.Millisecond)
	a := entry("abc", 10, 5)
	a.Invite.ExpiresAt = &early
	b := entry("abc", 10, 5)
	b.Invite.ExpiresAt = &late

	require.NotZero(t, Compare(a, b))
	first := Merge([]Entry{a}, []Entry{b})
	second := Merge([]Entry{b}, []Entry{a})
	require.Equal(t, first, second)
	require.Len(t, first, 1)
}

func TestMergeProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		prior := randomEntries(rng, 30)
		fresh := randomEntries(rng, 30)

		merged := Merge(prior, fresh)

		latest := map[string]int64{}
		for _, e := range append(append([]Entry{}, prior...), fresh...) {
			if ts, ok := latest[e.ID]; !ok || e.ObservedAt > ts {
				latest[e.ID] = e.ObservedAt
			}
		}
		require.Len(t, merged, len(latest))
		for i, e := range merged {
			if i > 0 {
				require.Less(t, merged[i-1].ID, e.ID, "ids must be unique and ascending")
			}
			require.Equal(t, latest[e.ID], e.ObservedAt, "freshest observation must win")
		}
		require.Equal(t, merged, Merge(merged, nil))
		require.Equal(t, merged, Merge(fresh, prior))
	}
}

func randomEntries(rng *rand.Rand, n int) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("code%02d", rng.Intn(15))
		out = append(out, entry(id, int64(rng.Intn(5)), rng.Intn(3)))
	}
	return out
}

func TestCompareOrdersByIDThenFreshness(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		a, b Entry
		want int
	}{
		{"lower id first", entry("a", 1, 1), entry("b", 1, 1), -1},
		{"higher id last", entry("b", 1, 1), entry("a", 9, 1), 1},
		{"fresher first", entry("a", 9, 1), entry("a", 1, 1), -1},
		{"older last", entry("a", 1, 1), entry("a", 9, 1), 1},
		{"identical", entry("a", 1, 1), entry("a", 1, 1), 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Compare(tc.a, tc.b))
		})
	}
}
