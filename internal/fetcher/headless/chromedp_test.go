package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
	_, err = NewChromedp(Config{SettleDelay: -time.Second})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2, ExecPath: "/opt/chrome/chrome"})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	assert.Equal(t, 2, cap(fetcher.slots))
	assert.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
}

func TestFetcherTimingDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	assert.Equal(t, defaultNavigationTimeout, fetcher.navTimeout())
	assert.Equal(t, defaultSettleDelay, fetcher.settleDelay())

	fetcher.cfg.NavigationTimeout = time.Second
	fetcher.cfg.SettleDelay = 2 * time.Second
	assert.Equal(t, time.Second, fetcher.navTimeout())
	assert.Equal(t, 2*time.Second, fetcher.settleDelay())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestNetworkHeaderConversion(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "X-Single": {"one"}}
	netHeaders := toNetworkHeaders(src)
	assert.Equal(t, []string{"a", "b"}, netHeaders["X-Test"])
	assert.Equal(t, "one", netHeaders["X-Single"])

	back := fromNetworkHeaders(network.Headers{
		"X-Test":  []any{"a", 2},
		"X-Plain": "yes",
	})
	assert.Equal(t, []string{"a", "2"}, back.Values("X-Test"))
	assert.Equal(t, "yes", back.Get("X-Plain"))
}

func TestPageTraceKeepsTopLevelDocument(t *testing.T) {
	t.Parallel()

	trace := &pageTrace{}
	trace.observe(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeDocument,
		Request: &network.Request{URL: "https://short.example/x"},
	})
	trace.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://forum.example.com/t/1",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	trace.observe(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeScript,
		Request: &network.Request{URL: "https://cdn.example.com/app.js"},
	})
	trace.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 500, URL: "https://widgets.example.com/frame"},
	})

	status, headers, u := trace.document("https://req", "https://location")
	assert.Equal(t, 203, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://forum.example.com/t/1", u)
	assert.Equal(t, []string{"https://short.example/x"}, trace.navigations())
}

func TestPageTraceFallbacks(t *testing.T) {
	t.Parallel()

	trace := &pageTrace{}
	status, headers, u := trace.document("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, headers)
	assert.Equal(t, "https://final", u)

	_, _, u = trace.document("https://req", "")
	assert.Equal(t, "https://req", u)
}

func TestAbsoluteLinks(t *testing.T) {
	t.Parallel()

	got := absoluteLinks(
		[]string{"https://discord.gg/abc", "javascript:void(0)", "", "mailto:a@b.c", "https://discord.gg/abc"},
		[]string{"http://short.example/x", "https://discord.gg/abc", "/relative"},
	)
	assert.Equal(t, []string{"https://discord.gg/abc", "http://short.example/x"}, got)
	assert.Nil(t, absoluteLinks())
}
