package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// SearchSource returns candidate links from one page of search results.
// An empty slice with a nil error means the results are exhausted.
type SearchSource interface {
	Search(ctx context.Context, page int) ([]string, error)
}

// LinkResolver extracts raw invite links from a candidate link.
type LinkResolver interface {
	Resolve(ctx context.Context, link string) ([]string, error)
}

// InviteVerifier fetches the canonical record for an invite link.
type InviteVerifier interface {
	Fetch(ctx context.Context, inviteLink string) (catalog.Invite, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Limiter blocks until the next outbound request may start.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
