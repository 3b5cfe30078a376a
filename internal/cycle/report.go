package cycle

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/invite-crawler/internal/crawler"
)

// Report describes one finished or aborted cycle.
type Report struct {
	CycleID    uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Crawl      crawler.Result
	// Entries is the catalog size after the merge.
	Entries int
	// Added counts invites that were not in the prior catalog.
	Added int

	MirrorErr  error
	PublishErr error
	NotifyErr  error
}

// Duration is the wall time of the cycle.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is the notification payload for a finished cycle.
type Summary struct {
	CycleID         string    `json:"cycle_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	PagesSearched   int       `json:"pages_searched"`
	PagesFailed     int       `json:"pages_failed"`
	LinksDiscovered int       `json:"links_discovered"`
	InvitesVerified int       `json:"invites_verified"`
	CatalogEntries  int       `json:"catalog_entries"`
	NewEntries      int       `json:"new_entries"`
	Published       bool      `json:"published"`
	Mirrored        bool      `json:"mirrored"`
}

// Summary renders the notification payload.
func (r Report) Summary() Summary {
	return Summary{
		CycleID:         r.CycleID.String(),
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		PagesSearched:   r.Crawl.PagesSearched,
		PagesFailed:     r.Crawl.PagesFailed,
		LinksDiscovered: r.Crawl.LinksDiscovered,
		InvitesVerified: r.Crawl.InvitesVerified,
		CatalogEntries:  r.Entries,
		NewEntries:      r.Added,
		Published:       r.PublishErr == nil,
		Mirrored:        r.MirrorErr == nil,
	}
}

// note lists the side steps that failed, for the cycle history.
func (r Report) note() string {
	var failed []string
	if r.MirrorErr != nil {
		failed = append(failed, "mirror")
	}
	if r.PublishErr != nil {
		failed = append(failed, "publish")
	}
	if r.NotifyErr != nil {
		failed = append(failed, "notify")
	}
	if len(failed) == 0 {
		return ""
	}
	return "failed: " + strings.Join(failed, ",")
}
