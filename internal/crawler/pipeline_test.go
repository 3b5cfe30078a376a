package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/progress"
)

type fakeSearch struct {
	pages map[int][]string
	fail  map[int]error
	calls []int
}

func (f *fakeSearch) Search(_ context.Context, page int) ([]string, error) {
	f.calls = append(f.calls, page)
	if err := f.fail[page]; err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

type fakeResolver struct {
	links map[string][]string
	fail  map[string]error
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, link string) ([]string, error) {
	f.calls = append(f.calls, link)
	if err := f.fail[link]; err != nil {
		return nil, err
	}
	return f.links[link], nil
}

type fakeVerifier struct {
	fail  map[string]error
	calls []string
}

func (f *fakeVerifier) Fetch(_ context.Context, link string) (catalog.Invite, error) {
	f.calls = append(f.calls, link)
	if err := f.fail[link]; err != nil {
		return catalog.Invite{}, err
	}
	code := link[len(catalog.InviteBaseURL):]
	return catalog.Invite{Code: code, Guild: &catalog.Guild{ID: "g-" + code, Name: "Guild " + code}}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (c *countingLimiter) Wait(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	return c.err
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func invite(code string) string { return catalog.InviteBaseURL + code }

type harness struct {
	search       *fakeSearch
	resolver     *fakeResolver
	verifier     *fakeVerifier
	searchLimit  *countingLimiter
	linkLimit    *countingLimiter
	emitter      *recordingEmitter
	pipeline     *Pipeline
	observedTime time.Time
}

func newHarness(t *testing.T, pages int) *harness {
	t.Helper()
	h := &harness{
		search:       &fakeSearch{pages: map[int][]string{}, fail: map[int]error{}},
		resolver:     &fakeResolver{links: map[string][]string{}, fail: map[string]error{}},
		verifier:     &fakeVerifier{fail: map[string]error{}},
		searchLimit:  &countingLimiter{},
		linkLimit:    &countingLimiter{},
		emitter:      &recordingEmitter{},
		observedTime: time.Unix(1700000000, 0).UTC(),
	}
	p, err := New(Config{Pages: pages}, Deps{
		Search:        h.search,
		Resolver:      h.resolver,
		Verifier:      h.verifier,
		SearchLimiter: h.searchLimit,
		LinkLimiter:   h.linkLimit,
		Clock:         fixedClock{now: h.observedTime},
		Emitter:       h.emitter,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func TestNewRequiresStages(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	p, err := New(Config{}, Deps{Search: &fakeSearch{}, Resolver: &fakeResolver{}, Verifier: &fakeVerifier{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultPages, p.cfg.Pages)
}

func TestRunSameInviteBehindManyLinksYieldsOneEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.search.pages[0] = []string{"https://a.example/1", "https://b.example/2", "https://c.example/3"}
	for _, link := range h.search.pages[0] {
		h.resolver.links[link] = []string{invite("X")}
	}

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "X", res.Entries[0].ID)
	assert.Equal(t, h.observedTime.Unix(), res.Entries[0].ObservedAt)
	assert.Equal(t, []string{invite("X")}, h.verifier.calls)
	assert.Equal(t, 2, res.InvitesSkipped)
	assert.Equal(t, 3, res.LinksResolved)
}

func TestRunIsolatesPartialFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	links := []string{"https://ok.example/1", "https://broken.example/2", "https://ok.example/3"}
	h.search.pages[0] = links
	h.resolver.links[links[0]] = []string{invite("A")}
	h.resolver.fail[links[1]] = errors.New("connection refused")
	h.resolver.links[links[2]] = []string{invite("B"), invite("C")}
	h.verifier.fail[invite("B")] = errors.New("unknown invite")

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)

	codes := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		codes = append(codes, e.ID)
	}
	assert.Equal(t, []string{"A", "C"}, codes)
	assert.Equal(t, 1, res.ResolveFailures)
	assert.Equal(t, 1, res.VerifyFailures)
	assert.Equal(t, 2, res.InvitesVerified)
	assert.Equal(t, links, h.resolver.calls)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20)
	h.search.pages[0] = []string{"https://a.example/"}
	h.search.pages[1] = []string{"https://b.example/"}

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, h.search.calls)
	assert.True(t, res.SearchExhausted)
	assert.Equal(t, 3, res.PagesSearched)
	assert.Equal(t, 3, h.searchLimit.waits, "one pause before every page request")
}

func TestRunContinuesAfterPageError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.search.fail[0] = errors.New("429 too many requests")
	h.search.pages[1] = []string{"https://a.example/"}
	h.search.pages[2] = []string{"https://b.example/"}

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, h.search.calls)
	assert.Equal(t, 1, res.PagesFailed)
	assert.Equal(t, 2, res.PagesSearched)
	assert.Equal(t, 2, res.LinksDiscovered)
	assert.False(t, res.SearchExhausted)
}

func TestRunDeduplicatesDiscoveredLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.search.pages[0] = []string{"https://a.example/x", "HTTPS://A.example/x#top"}
	h.search.pages[1] = []string{"https://a.example/x", "https://b.example/y"}

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, res.LinksDiscovered)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example/y"}, h.resolver.calls)
}

func TestRunPacesLinksAndExtraInvites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.search.pages[0] = []string{"https://a.example/", "https://b.example/"}
	h.resolver.links["https://a.example/"] = []string{invite("A"), invite("B"), invite("C")}
	h.resolver.links["https://b.example/"] = []string{invite("A")}

	_, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	// One wait per link plus one per extra invite behind link a.
	assert.Equal(t, 4, h.linkLimit.waits)
}

func TestRunEmitsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.search.pages[0] = []string{"https://a.example/", "https://b.example/"}
	h.resolver.links["https://a.example/"] = []string{invite("A")}
	h.resolver.fail["https://b.example/"] = errors.New("timeout")

	cycleID := uuid.New()
	_, err := h.pipeline.Run(context.Background(), cycleID)
	require.NoError(t, err)
	assert.Equal(t, []progress.Stage{
		progress.StagePageDone,
		progress.StageInviteFound,
		progress.StageLinkDropped,
	}, h.emitter.stages())
	for _, evt := range h.emitter.events {
		assert.Equal(t, cycleID, evt.CycleUUID())
		require.NoError(t, evt.Validate())
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 5)
	h.search.pages[0] = []string{"https://a.example/"}
	h.searchLimit.err = context.Canceled

	_, err := h.pipeline.Run(context.Background(), uuid.New())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.search.calls)
}

func TestRunReturnsPartialEntriesWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, 1)
	h.search.pages[0] = []string{"https://a.example/", "https://b.example/"}
	h.resolver.links["https://a.example/"] = []string{invite("A")}
	h.pipeline.deps.Resolver = resolverFunc(func(ctx context.Context, link string) ([]string, error) {
		if link == "https://b.example/" {
			cancel()
			return nil, ctx.Err()
		}
		return h.resolver.Resolve(ctx, link)
	})

	res, err := h.pipeline.Run(ctx, uuid.New())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Entries, 1)
}

func TestRunDropsInviteWithoutCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.search.pages[0] = []string{"https://a.example/"}
	h.resolver.links["https://a.example/"] = []string{catalog.InviteBaseURL}

	res, err := h.pipeline.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.VerifyFailures)
}

type resolverFunc func(ctx context.Context, link string) ([]string, error)

func (f resolverFunc) Resolve(ctx context.Context, link string) ([]string, error) {
	return f(ctx, link)
}
