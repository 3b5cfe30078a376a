package resolver

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

type stubFetcher struct {
	pages map[string]crawler.FetchResponse
	err   error
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.calls = append(s.calls, req.URL)
	if s.err != nil {
		return crawler.FetchResponse{}, s.err
	}
	resp, ok := s.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: req.URL, StatusCode: 404}
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	return resp, nil
}

func page(body string) crawler.FetchResponse {
	return crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}
}

func TestDirectCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link string
		code string
		ok   bool
	}{
		{link: "https://discord.gg/AbC123", code: "AbC123", ok: true},
		{link: "http://discord.gg/abc-def/", code: "abc-def", ok: true},
		{link: "discord.gg/xyz?ref=1", code: "xyz", ok: true},
		{link: "https://discord.com/invite/Game", code: "Game", ok: true},
		{link: "https://discordapp.com/invite/legacy", code: "legacy", ok: true},
		{link: "https://canary.discord.com/invite/beta", code: "beta", ok: true},
		{link: "https://example.com/?u=https://discord.gg/abc"},
		{link: "https://discord.com/channels/1/2"},
		{link: "https://discord.gg/a"},
		{link: ""},
	}
	for _, tt := range tests {
		code, ok := DirectCode(tt.link)
		assert.Equal(t, tt.ok, ok, tt.link)
		assert.Equal(t, tt.code, code, tt.link)
	}
}

func TestExtractInvites(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<a href="https://discord.com/invite/First">join</a>
<p>Or paste discord.gg/Second into the client.</p>
<a href="https://discord.gg/First">again</a>
<script>var link = "https://discord.gg/Third";</script>
<a href="https://example.com/discord">not an invite</a>
</body></html>`

	assert.Equal(t, []string{
		"https://discord.gg/First",
		"https://discord.gg/Second",
		"https://discord.gg/Third",
	}, ExtractInvites([]byte(body)))
	assert.Empty(t, ExtractInvites([]byte("<html></html>")))
}

func TestResolveDirectInviteSkipsFetch(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	r, err := New(fetcher)
	require.NoError(t, err)

	invites, err := r.Resolve(context.Background(), "https://discord.com/invite/Direct")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Direct"}, invites)
	assert.Empty(t, fetcher.calls)
}

func TestResolveFetchesPage(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawler.FetchResponse{
		"https://forum.example.com/t/1": page(`<a href="https://discord.gg/Forum">server</a>`),
		"https://short.example/x": {
			URL:  "https://discord.com/invite/Landing",
			Body: []byte(`<p>redirected, see also discord.gg/Other</p>`),
		},
	}}
	r, err := New(fetcher)
	require.NoError(t, err)

	invites, err := r.Resolve(context.Background(), "https://forum.example.com/t/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Forum"}, invites)

	invites, err = r.Resolve(context.Background(), "https://short.example/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Landing", "https://discord.gg/Other"}, invites)
}

func TestResolveFetchError(t *testing.T) {
	t.Parallel()

	r, err := New(&stubFetcher{err: errors.New("timeout")})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "https://forum.example.com/")
	require.Error(t, err)
}

func TestResolveHeadlessFallback(t *testing.T) {
	t.Parallel()

	const link = "https://spa.example.com/"
	plain := &stubFetcher{pages: map[string]crawler.FetchResponse{link: page(`<div id="root"></div>`)}}
	rendered := &stubFetcher{pages: map[string]crawler.FetchResponse{
		link: page(`<div id="root"><a href="https://discord.gg/Rendered">join</a></div>`),
	}}

	r, err := New(plain, WithHeadless(rendered))
	require.NoError(t, err)
	invites, err := r.Resolve(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Rendered"}, invites)
	assert.Equal(t, []string{link}, rendered.calls)

	// Found without rendering.
	plain.pages[link] = page(`<a href="https://discord.gg/Plain">join</a>`)
	rendered.calls = nil
	invites, err = r.Resolve(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Plain"}, invites)
	assert.Empty(t, rendered.calls)
}

func TestResolveUsesRenderedLinkTargets(t *testing.T) {
	t.Parallel()

	const link = "https://spa.example.com/join"
	plain := &stubFetcher{pages: map[string]crawler.FetchResponse{link: page(`<button id="join">Join</button>`)}}
	rendered := &stubFetcher{pages: map[string]crawler.FetchResponse{link: {
		URL:   link,
		Body:  []byte(`<button id="join">Join</button>`),
		Links: []string{"https://spa.example.com/about", "https://discord.com/invite/Scripted", "https://discord.gg/Scripted"},
	}}}

	r, err := New(plain, WithHeadless(rendered))
	require.NoError(t, err)
	invites, err := r.Resolve(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.gg/Scripted"}, invites)
}

func TestResolveHeadlessFailureYieldsNothing(t *testing.T) {
	t.Parallel()

	const link = "https://spa.example.com/"
	plain := &stubFetcher{pages: map[string]crawler.FetchResponse{link: page(`<div></div>`)}}
	r, err := New(plain, WithHeadless(&stubFetcher{err: errors.New("chrome not found")}))
	require.NoError(t, err)

	invites, err := r.Resolve(context.Background(), link)
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

func TestIsInviteURL(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]bool{
		"https://discord.gg/gophers":             true,
		"https://discord.com/invite/gophers?x=1": true,
		"https://discord.com/channels/1/2":       false,
		"https://short.example/discord":          false,
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, IsInviteURL(u), raw)
	}
	assert.False(t, IsInviteURL(nil))
}
