// Package catalog holds the invite catalog data model, the merge engine that
// reconciles a crawl with prior state, and the Keeper that applies the load and
// save policies around a Store.
package catalog

import (
	"context"
	"time"
)

// InviteBaseURL prefixes invite codes when rendering a shareable link.
const InviteBaseURL = "https://discord.gg/"

// Entry is one verified invite record. ID is the invite code and is unique
// across a persisted catalog.
type Entry struct {
	ID         string `json:"id"`
	ObservedAt int64  `json:"observed_at"`
	Invite     Invite `json:"invite"`
}

// NewEntry builds an Entry for a freshly verified invite observed at now.
func NewEntry(invite Invite, now time.Time) Entry {
	return Entry{
		ID:         invite.Code,
		ObservedAt: now.Unix(),
		Invite:     invite,
	}
}

// Invite mirrors the invite object returned by the platform's invite API. The
// catalog stores it verbatim and never interprets it.
type Invite struct {
	Code                     string     `json:"code"`
	Type                     int        `json:"type,omitempty"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
	Guild                    *Guild     `json:"guild,omitempty"`
	Channel                  *Channel   `json:"channel,omitempty"`
	Inviter                  *User      `json:"inviter,omitempty"`
	ApproximateMemberCount   int        `json:"approximate_member_count,omitempty"`
	ApproximatePresenceCount int        `json:"approximate_presence_count,omitempty"`
}

// Guild is the community an invite points to.
type Guild struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Description              string   `json:"description,omitempty"`
	Icon                     string   `json:"icon,omitempty"`
	Splash                   string   `json:"splash,omitempty"`
	Banner                   string   `json:"banner,omitempty"`
	Features                 []string `json:"features,omitempty"`
	VerificationLevel        int      `json:"verification_level,omitempty"`
	NSFWLevel                int      `json:"nsfw_level,omitempty"`
	VanityURLCode            string   `json:"vanity_url_code,omitempty"`
	PremiumSubscriptionCount int      `json:"premium_subscription_count,omitempty"`
}

// Channel is the channel an invite lands in.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type int    `json:"type"`
}

// User is the account that created the invite.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// URL renders the shareable invite link.
func (i Invite) URL() string {
	return InviteBaseURL + i.Code
}

// GuildName returns the guild name or "Unknown" when the API omitted it.
func (i Invite) GuildName() string {
	if i.Guild == nil || i.Guild.Name == "" {
		return "Unknown"
	}
	return i.Guild.Name
}

// Store persists a whole catalog. Load returns entries sorted by ID, an empty
// slice when nothing was persisted yet, and a *CorruptionError when persisted
// data exists but cannot be read back.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}
