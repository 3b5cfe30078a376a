// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 10
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	// MaxRedirects caps a redirect chain. Zero means 10.
	MaxRedirects int
	// HaltRedirect ends the fetch at a redirect whose target it accepts. The
	// target becomes the response URL and is never requested.
	HaltRedirect func(target *url.URL) bool
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observe during one visit.
type fetchState struct {
	start  time.Time
	result crawler.FetchResponse
	err    error
	halted bool
}

// New builds a Fetcher. Redirects are followed, subject to HaltRedirect, and
// the final URL is reported on the response.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.SetRedirectHandler(redirectPolicy(cfg))
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	state := &fetchState{start: time.Now()}
	collector := f.buildCollector(ctx, request, state)
	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return crawler.FetchResponse{}, err
	}
	return state.result, nil
}

// buildCollector clones the base collector for one visit. The clone carries
// ctx, so cancellation aborts the request in flight.
func (f *Fetcher) buildCollector(ctx context.Context, request crawler.FetchRequest, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, request, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, request crawler.FetchRequest, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(state.start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if target, ok := redirectTarget(r); ok {
			// Only a halted redirect reaches here with a 3xx; over-long chains
			// fail inside the client.
			state.halted = true
			state.result = crawler.FetchResponse{
				URL:        target,
				StatusCode: r.StatusCode,
				Headers:    r.Headers.Clone(),
				Duration:   time.Since(state.start),
			}
			return
		}
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			state.err = &crawler.StatusError{URL: request.URL, StatusCode: r.StatusCode}
			return
		}
		state.err = err
	})
}

// runCollector visits rawURL on the calling goroutine; the callbacks have
// finished writing state by the time it returns.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, state *fetchState) error {
	err := collector.Visit(rawURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	if state.halted {
		return nil
	}
	if state.err != nil {
		return fmt.Errorf("colly response failed: %w", state.err)
	}
	if err != nil {
		return fmt.Errorf("colly visit failed: %w", err)
	}
	return nil
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func redirectPolicy(cfg Config) func(*http.Request, []*http.Request) error {
	limit := cfg.MaxRedirects
	if limit <= 0 {
		limit = defaultMaxRedirects
	}
	return func(req *http.Request, via []*http.Request) error {
		if cfg.HaltRedirect != nil && cfg.HaltRedirect(req.URL) {
			return http.ErrUseLastResponse
		}
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		if last := via[len(via)-1]; req.URL.Host != last.URL.Host {
			req.Header.Del("Authorization")
		}
		return nil
	}
}

// redirectTarget returns the absolute Location of a 3xx response.
func redirectTarget(r *colly.Response) (string, bool) {
	if r == nil || r.Headers == nil || r.StatusCode < http.StatusMultipleChoices || r.StatusCode >= http.StatusBadRequest {
		return "", false
	}
	loc := r.Headers.Get("Location")
	if loc == "" {
		return "", false
	}
	base := &url.URL{}
	if r.Request != nil && r.Request.URL != nil {
		base = r.Request.URL
	}
	target, err := base.Parse(loc)
	if err != nil {
		return "", false
	}
	return target.String(), true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
