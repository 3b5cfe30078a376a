package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/crawler"
	"github.com/JakeFAU/invite-crawler/internal/progress"
	"github.com/JakeFAU/invite-crawler/internal/telemetry"
)

// Crawler produces the fresh entries of one cycle.
type Crawler interface {
	Run(ctx context.Context, cycleID uuid.UUID) (crawler.Result, error)
}

// Saver persists a catalog. catalog.Keeper retries internally and only fails
// when ctx ends.
type Saver interface {
	Save(ctx context.Context, state catalog.State) error
}

// IndexPublisher replaces the search index content.
type IndexPublisher interface {
	Publish(ctx context.Context, entries []catalog.Entry) error
}

// Mirror copies a saved catalog elsewhere.
type Mirror interface {
	Mirror(ctx context.Context, state catalog.State, at time.Time) error
}

// Notifier announces a finished cycle on a topic.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator issues cycle IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// RunnerDeps are the collaborators of a Runner. Crawler, Saver, Index, IDs and
// Clock are required.
type RunnerDeps struct {
	Crawler     Crawler
	Saver       Saver
	Index       IndexPublisher
	Mirror      Mirror
	Notifier    Notifier
	NotifyTopic string
	IDs         IDGenerator
	Clock       Clock
	Emitter     progress.Emitter
	Timer       *telemetry.StageTimer
	Logger      *zap.Logger
}

// Runner executes single cycles.
type Runner struct {
	deps RunnerDeps
}

// NewRunner validates deps.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("crawler is required")
	case deps.Saver == nil:
		return nil, errors.New("saver is required")
	case deps.Index == nil:
		return nil, errors.New("index publisher is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.Notifier != nil && deps.NotifyTopic == "":
		return nil, errors.New("notify topic is required with a notifier")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{deps: deps}, nil
}

// Run executes one cycle on top of prior and returns the catalog to carry
// into the next cycle. On error the prior catalog is returned unchanged.
func (r *Runner) Run(ctx context.Context, prior catalog.State) (catalog.State, Report, error) {
	id, err := r.deps.IDs.NewRawID()
	if err != nil {
		return prior, Report{}, fmt.Errorf("generate cycle id: %w", err)
	}
	rep := Report{CycleID: id, StartedAt: r.deps.Clock.Now()}
	logger := r.deps.Logger.With(zap.String("cycle_id", id.String()))

	ctx, span := telemetry.Tracer().Start(ctx, "cycle", trace.WithAttributes(
		attribute.String("cycle.id", id.String()),
		attribute.Int("catalog.prior_entries", prior.Len()),
	))
	defer span.End()

	r.emit(id, progress.Event{Stage: progress.StageCycleStart})
	logger.Info("Cycle started", zap.Int("prior_entries", prior.Len()))

	err = r.stage(ctx, "crawl", func(ctx context.Context) error {
		var crawlErr error
		rep.Crawl, crawlErr = r.deps.Crawler.Run(ctx, id)
		return crawlErr
	})
	if err != nil {
		return prior, r.fail(span, logger, rep, fmt.Errorf("crawl: %w", err)), err
	}

	next := prior.Merge(rep.Crawl.Entries)
	rep.Entries = next.Len()
	rep.Added = countAdded(prior, rep.Crawl.Entries)

	err = r.stage(ctx, "save", func(ctx context.Context) error {
		return r.deps.Saver.Save(ctx, next)
	})
	if err != nil {
		return prior, r.fail(span, logger, rep, fmt.Errorf("save: %w", err)), err
	}

	if r.deps.Mirror != nil {
		rep.MirrorErr = r.stage(ctx, "mirror", func(ctx context.Context) error {
			return r.deps.Mirror.Mirror(ctx, next, rep.StartedAt)
		})
	}
	rep.PublishErr = r.stage(ctx, "publish", func(ctx context.Context) error {
		return r.deps.Index.Publish(ctx, next.Entries())
	})
	rep.FinishedAt = r.deps.Clock.Now()

	if r.deps.Notifier != nil {
		rep.NotifyErr = r.stage(ctx, "notify", func(ctx context.Context) error {
			msgID, err := r.deps.Notifier.Publish(ctx, r.deps.NotifyTopic, rep.Summary())
			if err != nil {
				return err
			}
			logger.Debug("Cycle summary published", zap.String("message_id", msgID))
			return nil
		})
		if rep.NotifyErr != nil {
			logger.Warn("Cycle summary not published", zap.Error(rep.NotifyErr))
		}
	}

	span.SetAttributes(
		attribute.Int("catalog.entries", rep.Entries),
		attribute.Int("catalog.added", rep.Added),
	)
	r.emit(id, progress.Event{
		Stage:   progress.StageCycleDone,
		Entries: int64(rep.Entries),
		Dur:     rep.Duration(),
		Note:    rep.note(),
	})
	logger.Info("Cycle finished",
		zap.Int("entries", rep.Entries),
		zap.Int("added", rep.Added),
		zap.Int("verified", rep.Crawl.InvitesVerified),
		zap.Bool("published", rep.PublishErr == nil),
		zap.Duration("duration", rep.Duration()),
	)
	return next, rep, nil
}

func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "cycle."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	r.deps.Timer.Record(ctx, name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Runner) fail(span trace.Span, logger *zap.Logger, rep Report, err error) Report {
	rep.FinishedAt = r.deps.Clock.Now()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.emit(rep.CycleID, progress.Event{Stage: progress.StageCycleError, Dur: rep.Duration(), Note: err.Error()})
	logger.Error("Cycle aborted", zap.Error(err), zap.Duration("duration", rep.Duration()))
	return rep
}

func (r *Runner) emit(id uuid.UUID, evt progress.Event) {
	evt.CycleID = progress.UUIDToBytes(id)
	evt.TS = r.deps.Clock.Now()
	r.deps.Emitter.Emit(evt)
}

func countAdded(prior catalog.State, fresh []catalog.Entry) int {
	seen := make(map[string]struct{}, len(fresh))
	for _, e := range fresh {
		if _, ok := prior.Lookup(e.ID); ok {
			continue
		}
		seen[e.ID] = struct{}{}
	}
	return len(seen)
}
