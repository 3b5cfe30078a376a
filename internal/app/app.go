// Package app builds the long-lived services of the crawler from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/invite-crawler/internal/api"
	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/catalog/codec"
	"github.com/JakeFAU/invite-crawler/internal/clock/system"
	"github.com/JakeFAU/invite-crawler/internal/config"
	"github.com/JakeFAU/invite-crawler/internal/crawler"
	"github.com/JakeFAU/invite-crawler/internal/cycle"
	"github.com/JakeFAU/invite-crawler/internal/discord"
	collyfetcher "github.com/JakeFAU/invite-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/invite-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/invite-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/invite-crawler/internal/id/uuid"
	"github.com/JakeFAU/invite-crawler/internal/index"
	"github.com/JakeFAU/invite-crawler/internal/index/elasticsearch"
	indexmemory "github.com/JakeFAU/invite-crawler/internal/index/memory"
	"github.com/JakeFAU/invite-crawler/internal/metrics"
	"github.com/JakeFAU/invite-crawler/internal/operator"
	"github.com/JakeFAU/invite-crawler/internal/policy/corruption"
	"github.com/JakeFAU/invite-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/invite-crawler/internal/policy/retry"
	"github.com/JakeFAU/invite-crawler/internal/progress"
	"github.com/JakeFAU/invite-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/invite-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/invite-crawler/internal/resolver"
	"github.com/JakeFAU/invite-crawler/internal/search/google"
	"github.com/JakeFAU/invite-crawler/internal/storage"
	"github.com/JakeFAU/invite-crawler/internal/storage/gcs"
	"github.com/JakeFAU/invite-crawler/internal/storage/local"
	"github.com/JakeFAU/invite-crawler/internal/storage/postgres"
	"github.com/JakeFAU/invite-crawler/internal/store"
	"github.com/JakeFAU/invite-crawler/internal/telemetry"
)

// ServiceName identifies the process in traces and logs.
const ServiceName = "invite-crawler"

const indexPingTimeout = 5 * time.Second

// Options overrides parts of the container. Zero values use the production
// wiring derived from config.
type Options struct {
	Version string
	// Prompter answers corruption and save-failure questions; nil attaches
	// to the process terminal.
	Prompter *operator.Prompter
	// IndexBackend replaces the configured index backend.
	IndexBackend index.Backend
	// MirrorProvider replaces the GCS bucket as the snapshot destination.
	MirrorProvider storage.Provider
	// Notifier replaces the Pub/Sub publisher. NotifyTopic must be set with it.
	Notifier    cycle.Notifier
	NotifyTopic string
	// Clock drives the scheduler; nil uses the system clock.
	Clock cycle.SleepClock
	// Registerer receives the progress and OpenTelemetry collectors.
	Registerer prometheus.Registerer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	keeper    *catalog.Keeper
	hub       *progress.Hub
	status    *api.Status
	server    *api.Server
	scheduler *cycle.Scheduler
	closers   []closer
}

// New creates and initializes an App. It fails fast if any configured
// service cannot be reached; partially built services are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
				logger.Warn("Cleanup after failed start", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("Initializing application services...")
	metrics.Init()

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: ServiceName,
		Version:     opts.Version,
		Tracing:     cfg.Telemetry.Tracing,
		ProjectID:   cfg.Telemetry.ProjectID,
		Registerer:  opts.Registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.onClose("telemetry", providers.Shutdown)

	prompter := opts.Prompter
	if prompter == nil {
		prompter = operator.NewTerminal()
	}

	serializer, err := newSerializer(cfg.Catalog.Codec)
	if err != nil {
		return nil, err
	}
	keeper, err := newKeeper(cfg, serializer, prompter, logger.Named("catalog"))
	if err != nil {
		return nil, err
	}
	a.keeper = keeper

	repo, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}

	hub, err := a.newHub(ctx, repo, opts.Registerer)
	if err != nil {
		return nil, err
	}
	a.hub = hub

	pipeline, err := a.newPipeline(hub)
	if err != nil {
		return nil, err
	}

	backend := opts.IndexBackend
	if backend == nil {
		backend, err = newIndexBackend(ctx, cfg.Index, logger.Named("index"))
		if err != nil {
			return nil, err
		}
	}

	mirror, err := a.openMirror(ctx, opts.MirrorProvider, serializer)
	if err != nil {
		return nil, err
	}

	notifier, topic := opts.Notifier, opts.NotifyTopic
	if notifier == nil && cfg.PubSub.TopicName != "" {
		pub, dialErr := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if dialErr != nil {
			return nil, fmt.Errorf("init pubsub: %w", dialErr)
		}
		logger.Info("Cycle notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
		a.onClose("pubsub", func(context.Context) error { return pub.Close() })
		notifier, topic = pub, cfg.PubSub.TopicName
	}

	timer, err := telemetry.NewStageTimer()
	if err != nil {
		return nil, fmt.Errorf("init stage timer: %w", err)
	}

	clock := system.New()
	runner, err := cycle.NewRunner(cycle.RunnerDeps{
		Crawler:     pipeline,
		Saver:       keeper,
		Index:       index.NewFullReplace(backend, logger.Named("index")),
		Mirror:      mirror,
		Notifier:    notifier,
		NotifyTopic: topic,
		IDs:         idgen.New(),
		Clock:       clock,
		Emitter:     hub,
		Timer:       timer,
		Logger:      logger.Named("cycle"),
	})
	if err != nil {
		return nil, fmt.Errorf("init cycle runner: %w", err)
	}

	var sleeper cycle.SleepClock = clock
	if opts.Clock != nil {
		sleeper = opts.Clock
	}
	a.status = api.NewStatus()
	a.scheduler, err = cycle.NewScheduler(
		cfg.Schedule.Cadence,
		keeper,
		runner,
		sleeper,
		logger.Named("scheduler"),
		a.status.Observe,
	)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if cfg.Server.Port > 0 {
		a.server = api.NewServer(a.status, repo, api.Options{
			APIKey:         cfg.Server.APIKey,
			RequestTimeout: cfg.HTTPTimeout(),
		}, logger.Named("api"))
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Status exposes readiness and the last cycle summary.
func (a *App) Status() *api.Status {
	return a.status
}

// Run serves the operator endpoints, if enabled, and runs cycles until ctx
// is canceled or a cycle fails fatally.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
		g.Go(func() error {
			return a.server.Serve(gctx, addr)
		})
	}
	g.Go(func() error {
		err := a.scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}

// RunOnce executes a single cycle against the persisted catalog.
func (a *App) RunOnce(ctx context.Context) (cycle.Report, error) {
	rep, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return rep, fmt.Errorf("run cycle: %w", err)
	}
	return rep, nil
}

// Close flushes progress events and releases services in reverse order.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down application services...")
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("Error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openHistory(ctx context.Context) (store.CycleRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("Cycle history disabled; db.dsn is not set")
		return nil, nil
	}
	cycles, err := postgres.NewCycleStore(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init cycle history: %w", err)
	}
	a.logger.Info("Cycle history enabled")
	a.onClose("postgres", func(context.Context) error {
		cycles.Close()
		return nil
	})
	return cycles, nil
}

func (a *App) newHub(ctx context.Context, repo store.CycleRepository, reg prometheus.Registerer) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	}
	if repo != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(repo, a.logger.Named("history")))
	}
	return progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("hub"),
	}, hubSinks...), nil
}

func (a *App) newPipeline(hub *progress.Hub) (*crawler.Pipeline, error) {
	cfg := a.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
		MaxBodySize:  cfg.HTTP.MaxBodyBytes,
		HaltRedirect: resolver.IsInviteURL,
	})

	search, err := google.New(google.Config{
		BaseURL:  cfg.Crawler.SearchBaseURL,
		Query:    cfg.Crawler.SearchQuery,
		Language: cfg.Crawler.SearchLang,
	}, fetcher, a.logger.Named("search"))
	if err != nil {
		return nil, fmt.Errorf("init search: %w", err)
	}

	resolverOpts := []resolver.Option{resolver.WithLogger(a.logger.Named("resolver"))}
	if cfg.Headless.Enabled {
		headless, headlessErr := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       1,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: secondsDuration(cfg.Headless.NavTimeoutSec),
			SettleDelay:       millisDuration(cfg.Headless.SettleDelayMs),
			ExecPath:          cfg.Headless.ExecPath,
		})
		if headlessErr != nil {
			a.logger.Warn("Headless fetcher init failed; resolving without rendering", zap.Error(headlessErr))
		} else {
			a.onClose("headless", func(context.Context) error {
				headless.Close()
				return nil
			})
			resolverOpts = append(resolverOpts, resolver.WithHeadless(headless))
		}
	}
	links, err := resolver.New(fetcher, resolverOpts...)
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}

	verifier, err := discord.New(cfg.Discord.APIBase, fetcher)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	searchLimiter, err := ratelimit.New(cfg.Crawler.Limiter, "search", cfg.Crawler.SearchDelay, cfg.Crawler.Burst)
	if err != nil {
		return nil, fmt.Errorf("init search limiter: %w", err)
	}
	linkLimiter, err := ratelimit.New(cfg.Crawler.Limiter, "link", cfg.Crawler.LinkDelay, cfg.Crawler.Burst)
	if err != nil {
		return nil, fmt.Errorf("init link limiter: %w", err)
	}

	pipeline, err := crawler.New(crawler.Config{Pages: cfg.Crawler.Pages}, crawler.Deps{
		Search:        search,
		Resolver:      links,
		Verifier:      verifier,
		SearchLimiter: searchLimiter,
		LinkLimiter:   linkLimiter,
		Clock:         system.New(),
		Emitter:       hub,
		Logger:        a.logger.Named("crawler"),
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return pipeline, nil
}

func (a *App) openMirror(ctx context.Context, provider storage.Provider, encoder gcs.Encoder) (cycle.Mirror, error) {
	if provider == nil {
		if a.cfg.Storage.GCSBucket == "" {
			return nil, nil
		}
		bucket, err := gcs.Dial(ctx, a.cfg.Storage.GCSBucket, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("init snapshot mirror: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return bucket.Close() })
		a.logger.Info("Snapshot mirror enabled", zap.String("bucket", a.cfg.Storage.GCSBucket))
		provider = bucket
	}
	mirror, err := gcs.NewMirror(provider, encoder, a.cfg.Storage.Prefix, a.logger.Named("mirror"))
	if err != nil {
		return nil, fmt.Errorf("init snapshot mirror: %w", err)
	}
	return mirror, nil
}

func newSerializer(name string) (*codec.Versioned, error) {
	writer, err := codec.ByName(name)
	if err != nil {
		return nil, fmt.Errorf("init catalog codec: %w", err)
	}
	return codec.NewVersioned(writer, sha256.New(), codec.LegacyV1{}), nil
}

func newKeeper(
	cfg config.Config,
	serializer local.Serializer,
	prompter *operator.Prompter,
	logger *zap.Logger,
) (*catalog.Keeper, error) {
	file, err := local.New(local.Config{Path: cfg.Catalog.Path}, serializer)
	if err != nil {
		return nil, fmt.Errorf("init catalog store: %w", err)
	}
	policy, err := corruption.New(cfg.Catalog.OnCorruption, prompter, logger)
	if err != nil {
		return nil, fmt.Errorf("init corruption policy: %w", err)
	}
	initial, maxDelay := cfg.SaveRetryBounds()
	var gate catalog.RetryGate = retry.NewBackoff(initial, maxDelay)
	if cfg.Catalog.PromptOnSaveFailure {
		gate = retry.NewOperatorGate(prompter, gate, logger)
	}
	return catalog.NewKeeper(file, policy, gate, logger), nil
}

func newIndexBackend(ctx context.Context, cfg config.IndexConfig, logger *zap.Logger) (index.Backend, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("Using in-memory index backend; documents are not persisted")
		return indexmemory.New(), nil
	case "elasticsearch":
		backend, err := elasticsearch.New(elasticsearch.Config{
			Addresses:  []string{cfg.Address},
			Index:      cfg.Name,
			APIKey:     cfg.APIKey,
			Username:   cfg.Username,
			Password:   cfg.Password,
			MaxRetries: cfg.MaxRetries,
			BatchSize:  cfg.BatchSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init index backend: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, indexPingTimeout)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			logger.Warn("Search index is not reachable yet; publishing will retry each cycle",
				zap.String("address", cfg.Address), zap.Error(err))
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func secondsDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func millisDuration(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
