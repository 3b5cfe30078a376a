// Package resolver turns candidate links into the invite links they carry.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

// invitePattern matches invite links on both the short and the long host.
var invitePattern = regexp.MustCompile(
	`(?i)(?:https?://)?(?:www\.|ptb\.|canary\.)?(?:discord\.gg|discord(?:app)?\.com/invite)/([a-z0-9-]{2,32})\b`,
)

// Resolver fetches candidate pages and extracts invite links from them.
type Resolver struct {
	fetcher  crawler.Fetcher
	headless crawler.Fetcher
	logger   *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHeadless renders pages in a browser when the plain fetch yields no
// invites.
func WithHeadless(f crawler.Fetcher) Option {
	return func(r *Resolver) {
		r.headless = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Resolver on top of fetcher.
func New(fetcher crawler.Fetcher, opts ...Option) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	r := &Resolver{fetcher: fetcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("resolver")
	return r, nil
}

// Resolve returns the invite links behind link, normalized to the short form
// and deduplicated in first-seen order. A link that already is an invite is
// returned without a request.
func (r *Resolver) Resolve(ctx context.Context, link string) ([]string, error) {
	if code, ok := DirectCode(link); ok {
		return []string{catalog.InviteBaseURL + code}, nil
	}

	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", link, err)
	}
	invites := extract(resp)
	if len(invites) > 0 || r.headless == nil {
		return invites, nil
	}

	rendered, err := r.headless.Fetch(ctx, crawler.FetchRequest{URL: link})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("render %s: %w", link, ctxErr)
		}
		r.logger.Debug("Headless render failed", zap.String("url", link), zap.Error(err))
		return invites, nil
	}
	return extract(rendered), nil
}

// DirectCode reports the invite code when link itself is an invite link.
func DirectCode(link string) (string, bool) {
	trimmed := strings.TrimSpace(link)
	loc := invitePattern.FindStringSubmatchIndex(trimmed)
	if loc == nil || loc[0] != 0 {
		return "", false
	}
	rest := trimmed[loc[1]:]
	if rest != "" && !strings.ContainsAny(rest[:1], "/?#") {
		return "", false
	}
	return trimmed[loc[2]:loc[3]], true
}

// IsInviteURL reports whether u points straight at an invite. Fetchers use
// it to stop redirect chains before they reach the invite page.
func IsInviteURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	_, ok := DirectCode(u.String())
	return ok
}

// ExtractInvites finds invite links in an HTML document, looking at anchor
// targets first and then at the raw markup.
func ExtractInvites(body []byte) []string {
	var found []string
	seen := make(map[string]struct{})
	add := func(code string) {
		normalized := catalog.InviteBaseURL + code
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		found = append(found, normalized)
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if code, ok := DirectCode(href); ok {
				add(code)
			}
		})
	}
	for _, match := range invitePattern.FindAllSubmatch(body, -1) {
		add(string(match[1]))
	}
	return found
}

// extract gathers invites in priority order: the landing URL, links in the
// markup, then targets the renderer reported.
func extract(resp crawler.FetchResponse) []string {
	invites := []string{}
	seen := make(map[string]struct{})
	add := func(link string) {
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		invites = append(invites, link)
	}

	if code, ok := DirectCode(resp.URL); ok {
		add(catalog.InviteBaseURL + code)
	}
	for _, link := range ExtractInvites(resp.Body) {
		add(link)
	}
	for _, target := range resp.Links {
		if code, ok := DirectCode(target); ok {
			add(catalog.InviteBaseURL + code)
		}
	}
	return invites
}
