// Package google implements crawler.SearchSource over a Google-style HTML
// results page.
package google

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

const (
	// DefaultBaseURL is the results endpoint queried when none is configured.
	DefaultBaseURL = "https://www.google.com/search"
	// DefaultQuery finds pages that mention invite links.
	DefaultQuery = `"discord.gg"`
	// ResultsPerPage is the offset step between result pages.
	ResultsPerPage = 10
)

// ErrBlocked is returned when the engine answers with a challenge page instead
// of results.
var ErrBlocked = errors.New("search engine returned a challenge page")

// Config controls which engine is queried and how.
type Config struct {
	BaseURL string
	Query   string
	// Language is sent as hl and Accept-Language when set.
	Language string
}

// Source fetches result pages and extracts the outbound links.
type Source struct {
	cfg     Config
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// New builds a Source.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) (*Source, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse search base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, fetcher: fetcher, logger: logger.Named("search")}, nil
}

// PageURL renders the results URL for a zero-based page.
func (s *Source) PageURL(page int) string {
	u, _ := url.Parse(s.cfg.BaseURL)
	q := u.Query()
	q.Set("q", s.cfg.Query)
	q.Set("start", strconv.Itoa(page*ResultsPerPage))
	if s.cfg.Language != "" {
		q.Set("hl", s.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Search returns the result links on one page in document order. An empty
// slice means the engine has no more results.
func (s *Source) Search(ctx context.Context, page int) ([]string, error) {
	if page < 0 {
		return nil, fmt.Errorf("page must be >= 0, got %d", page)
	}
	req := crawler.FetchRequest{URL: s.PageURL(page), Headers: http.Header{}}
	if s.cfg.Language != "" {
		req.Headers.Set("Accept-Language", s.cfg.Language)
	}
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		if crawler.IsStatus(err, http.StatusTooManyRequests) {
			return nil, fmt.Errorf("search page %d: %w: %w", page, ErrBlocked, err)
		}
		return nil, fmt.Errorf("search page %d: %w", page, err)
	}
	if isChallenge(resp.URL) {
		return nil, fmt.Errorf("search page %d: %w", page, ErrBlocked)
	}
	links, err := ExtractLinks(resp.Body, resp.URL)
	if err != nil {
		return nil, fmt.Errorf("search page %d: %w", page, err)
	}
	s.logger.Debug("Parsed results page", zap.Int("page", page), zap.Int("links", len(links)))
	return links, nil
}

// ExtractLinks pulls result links out of a results page. Redirect wrappers of
// the form /url?q=<target> are unwrapped, and links back to the engine or the
// results host are skipped. Duplicates keep their first position.
func ExtractLinks(body []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	links := make([]string, 0)
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target, ok := resultTarget(base, href)
		if !ok {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		links = append(links, target)
	})
	return links, nil
}

func resultTarget(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.Path == "/url" && (ref.Host == "" || isEngineHost(ref.Hostname())) {
		unwrapped := ref.Query().Get("q")
		if unwrapped == "" {
			unwrapped = ref.Query().Get("url")
		}
		if ref, err = url.Parse(unwrapped); err != nil {
			return "", false
		}
	} else if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	if ref.Host == "" || isEngineHost(ref.Hostname()) {
		return "", false
	}
	if base != nil && strings.EqualFold(ref.Host, base.Host) {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}

func isEngineHost(host string) bool {
	host = strings.ToLower(host)
	for _, label := range strings.Split(host, ".") {
		switch label {
		case "google", "googleusercontent", "gstatic", "googleapis":
			return true
		}
	}
	return false
}

func isChallenge(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/sorry/")
}
