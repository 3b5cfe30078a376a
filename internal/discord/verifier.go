// Package discord verifies invite links against the platform's invite API.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/crawler"
	"github.com/JakeFAU/invite-crawler/internal/resolver"
)

// DefaultAPIBase is the versioned REST root.
const DefaultAPIBase = "https://discord.com/api/v10"

var (
	// ErrNotInvite is returned for links that carry no invite code.
	ErrNotInvite = errors.New("not an invite link")
	// ErrUnknownInvite is returned when the API does not know the code.
	ErrUnknownInvite = errors.New("unknown invite")
)

// Verifier implements crawler.InviteVerifier.
type Verifier struct {
	apiBase string
	fetcher crawler.Fetcher
}

// New builds a Verifier. An empty apiBase uses DefaultAPIBase.
func New(apiBase string, fetcher crawler.Fetcher) (*Verifier, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if _, err := url.Parse(apiBase); err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	return &Verifier{apiBase: strings.TrimRight(apiBase, "/"), fetcher: fetcher}, nil
}

// InviteURL renders the lookup URL for code, asking for member counts and the
// expiration time.
func (v *Verifier) InviteURL(code string) string {
	return v.apiBase + "/invites/" + url.PathEscape(code) + "?with_counts=true&with_expiration=true"
}

// Fetch looks up the invite behind inviteLink.
func (v *Verifier) Fetch(ctx context.Context, inviteLink string) (catalog.Invite, error) {
	code, ok := resolver.DirectCode(inviteLink)
	if !ok {
		return catalog.Invite{}, fmt.Errorf("%q: %w", inviteLink, ErrNotInvite)
	}
	resp, err := v.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     v.InviteURL(code),
		Headers: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		if crawler.IsStatus(err, http.StatusNotFound) {
			return catalog.Invite{}, fmt.Errorf("invite %s: %w", code, ErrUnknownInvite)
		}
		return catalog.Invite{}, fmt.Errorf("invite %s: %w", code, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return catalog.Invite{}, fmt.Errorf("invite %s: %w", code, &crawler.StatusError{URL: resp.URL, StatusCode: resp.StatusCode})
	}

	var invite catalog.Invite
	if err := json.Unmarshal(resp.Body, &invite); err != nil {
		return catalog.Invite{}, fmt.Errorf("decode invite %s: %w", code, err)
	}
	if invite.Code == "" {
		return catalog.Invite{}, fmt.Errorf("invite %s: response has no code", code)
	}
	return invite, nil
}
