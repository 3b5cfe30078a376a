// Package headless renders pages in a headless browser for links whose invites
// only appear after scripts run.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// linkScript returns the resolved targets of every anchor and frame.
const linkScript = `Array.from(document.querySelectorAll('a[href], iframe[src]'), el => el.href || el.src)`

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to let scripts run after the body is ready.
	SettleDelay time.Duration
	// ExecPath overrides the Chrome binary; empty uses the PATH lookup.
	ExecPath string
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily by the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// renderedPage is what the browser reports once scripts settled.
type renderedPage struct {
	html     string
	location string
	links    []string
}

// Fetch renders request.URL and returns the final DOM together with every
// link target and document navigation seen on the way.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	trace := &pageTrace{}
	chromedp.ListenTarget(taskCtx, trace.observe)

	start := time.Now()
	page, err := f.render(taskCtx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := trace.document(request.URL, page.location)
	if status >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: request.URL, StatusCode: status}
	}

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(page.html),
		Duration:     time.Since(start),
		UsedHeadless: true,
		Links:        absoluteLinks(page.links, trace.navigations()),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (renderedPage, error) {
	var page renderedPage
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settleDelay()),
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
		chromedp.Evaluate(linkScript, &page.links),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (f *Fetcher) settleDelay() time.Duration {
	if f.cfg.SettleDelay > 0 {
		return f.cfg.SettleDelay
	}
	return defaultSettleDelay
}

// pageTrace records network events for one render. The first document
// response is the top-level page; later ones belong to frames.
type pageTrace struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
	navs    []string
}

func (p *pageTrace) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeDocument || e.Request == nil {
			return
		}
		p.mu.Lock()
		p.navs = append(p.navs, e.Request.URL)
		p.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.seen {
			return
		}
		p.seen = true
		p.status = int(e.Response.Status)
		p.headers = fromNetworkHeaders(e.Response.Headers)
		p.url = e.Response.URL
	}
}

// document returns the top-level response, falling back to the browser
// location and then the requested URL when no response event arrived.
func (p *pageTrace) document(requestURL, location string) (int, http.Header, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, headers, u := p.status, p.headers.Clone(), p.url
	if u == "" {
		u = location
	}
	if u == "" {
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, u
}

func (p *pageTrace) navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navs...)
}

// absoluteLinks merges link lists, keeping http(s) URLs once in first-seen
// order.
func absoluteLinks(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, raw := range list {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				continue
			}
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}
			out = append(out, raw)
		}
	}
	return out
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
