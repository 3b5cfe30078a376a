package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/metrics"
	"github.com/JakeFAU/invite-crawler/internal/progress"
)

// DefaultPages is the number of search result pages visited per pass.
const DefaultPages = 20

// Config holds the settings for a crawl pass.
type Config struct {
	// Pages bounds how many search result pages are requested.
	Pages int
}

// Deps are the collaborators of a Pipeline. Search, Resolver and Verifier are
// required; the rest default to no-ops.
type Deps struct {
	Search        SearchSource
	Resolver      LinkResolver
	Verifier      InviteVerifier
	SearchLimiter Limiter
	LinkLimiter   Limiter
	Clock         Clock
	Emitter       progress.Emitter
	Logger        *zap.Logger
}

// Pipeline runs search, resolution and verification in sequence.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Search == nil || deps.Resolver == nil || deps.Verifier == nil {
		return nil, errors.New("search, resolver and verifier are required")
	}
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultPages
	}
	if deps.SearchLimiter == nil {
		deps.SearchLimiter = noLimit{}
	}
	if deps.LinkLimiter == nil {
		deps.LinkLimiter = noLimit{}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run performs one crawl pass. Failures of individual pages, links or invites
// are logged and skipped; only context cancellation ends the pass early, in
// which case the entries verified so far are returned with the error.
func (p *Pipeline) Run(ctx context.Context, cycleID uuid.UUID) (Result, error) {
	run := &pass{
		Pipeline: p,
		cycleID:  progress.UUIDToBytes(cycleID),
		logger:   p.deps.Logger.With(zap.String("cycle_id", cycleID.String())),
		seen:     make(map[string]struct{}),
	}
	links, err := run.discover(ctx)
	if err != nil {
		return run.result, err
	}
	err = run.resolveAll(ctx, links)
	return run.result, err
}

type pass struct {
	*Pipeline
	cycleID [16]byte
	logger  *zap.Logger
	seen    map[string]struct{}
	result  Result
}

func (r *pass) discover(ctx context.Context) ([]string, error) {
	var links []string
	visited := make(map[string]struct{})
	for page := 0; page < r.cfg.Pages; page++ {
		if err := r.deps.SearchLimiter.Wait(ctx); err != nil {
			return links, fmt.Errorf("wait before search page %d: %w", page, err)
		}
		found, err := r.deps.Search.Search(ctx, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return links, fmt.Errorf("search page %d: %w", page, ctxErr)
			}
			r.result.PagesFailed++
			r.logger.Warn("Search page failed", zap.Int("page", page), zap.Error(err))
			r.emit(progress.Event{Stage: progress.StagePageError, Page: page, Note: err.Error()})
			continue
		}
		r.result.PagesSearched++
		if len(found) == 0 {
			r.result.SearchExhausted = true
			r.logger.Info("Search results exhausted", zap.Int("page", page))
			r.emit(progress.Event{Stage: progress.StagePageDone, Page: page})
			break
		}
		added := 0
		for _, link := range found {
			key, err := NormalizeURL(link)
			if err != nil {
				key = link
			}
			if _, dup := visited[key]; dup {
				continue
			}
			visited[key] = struct{}{}
			links = append(links, link)
			added++
		}
		r.result.LinksDiscovered += added
		r.logger.Debug("Search page done", zap.Int("page", page), zap.Int("links", added))
		r.emit(progress.Event{Stage: progress.StagePageDone, Page: page, Links: int64(added)})
	}
	return links, nil
}

func (r *pass) resolveAll(ctx context.Context, links []string) error {
	for _, link := range links {
		if err := r.deps.LinkLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait before resolving %s: %w", link, err)
		}
		invites, err := r.deps.Resolver.Resolve(ctx, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("resolve %s: %w", link, ctxErr)
			}
			r.result.ResolveFailures++
			metrics.ObserveResolve(link, "failure")
			r.logger.Debug("Dropping link", zap.String("url", link), zap.Error(err))
			r.emit(progress.Event{Stage: progress.StageLinkDropped, URL: link, Reason: progress.DropResolve, Note: err.Error()})
			continue
		}
		r.result.LinksResolved++
		metrics.ObserveResolve(link, "success")
		if err := r.verifyAll(ctx, invites); err != nil {
			return err
		}
	}
	return nil
}

// verifyAll verifies the invites found behind one link. Invites already handled
// in this pass are skipped, and every verification after the first waits on the
// link limiter again.
func (r *pass) verifyAll(ctx context.Context, invites []string) error {
	verified := 0
	for _, invite := range invites {
		if _, dup := r.seen[invite]; dup {
			r.result.InvitesSkipped++
			continue
		}
		r.seen[invite] = struct{}{}
		if verified > 0 {
			if err := r.deps.LinkLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait before verifying %s: %w", invite, err)
			}
		}
		verified++

		record, err := r.deps.Verifier.Fetch(ctx, invite)
		if err == nil && record.Code == "" {
			err = errors.New("verifier returned an invite without a code")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("verify %s: %w", invite, ctxErr)
			}
			r.result.VerifyFailures++
			r.logger.Debug("Dropping invite", zap.String("url", invite), zap.Error(err))
			r.emit(progress.Event{Stage: progress.StageLinkDropped, URL: invite, Reason: progress.DropVerify, Note: err.Error()})
			continue
		}

		entry := catalog.NewEntry(record, r.deps.Clock.Now())
		r.result.Entries = append(r.result.Entries, entry)
		r.result.InvitesVerified++
		r.logger.Info("Invite found",
			zap.String("code", record.Code),
			zap.String("guild", record.GuildName()),
			zap.String("url", record.URL()),
		)
		r.emit(progress.Event{
			Stage: progress.StageInviteFound,
			Code:  record.Code,
			Guild: record.GuildName(),
			URL:   record.URL(),
		})
	}
	return nil
}

func (r *pass) emit(evt progress.Event) {
	evt.CycleID = r.cycleID
	evt.TS = r.deps.Clock.Now()
	r.deps.Emitter.Emit(evt)
}
