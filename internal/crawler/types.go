package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// Links holds absolute link targets observed while rendering. Plain HTTP
	// fetchers leave it empty.
	Links []string
}

// Result summarizes one pipeline run.
type Result struct {
	PagesSearched   int
	PagesFailed     int
	LinksDiscovered int
	LinksResolved   int
	ResolveFailures int
	InvitesSkipped  int
	InvitesVerified int
	VerifyFailures  int
	SearchExhausted bool

	// Entries are the verified invites in discovery order.
	Entries []catalog.Entry
}

// StatusError reports a response whose status code was not a success.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
