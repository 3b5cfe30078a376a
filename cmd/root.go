package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/app"
	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/config"
	"github.com/JakeFAU/invite-crawler/internal/cycle"
	"github.com/JakeFAU/invite-crawler/internal/logging"
)

// ExitLoadAborted is the exit status when the persisted catalog is corrupt
// and the operator (or policy) declined to continue. It matches EX_IOERR.
const ExitLoadAborted = 74

const shutdownTimeout = 15 * time.Second

// Version is stamped at build time.
var Version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (cycle.Report, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{Version: Version})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "invite-crawler",
		Short: "Discovers, verifies and indexes Discord invites on a schedule.",
		Long: `invite-crawler searches the web for Discord invite links, resolves
intermediary pages, verifies every invite against the Discord API, merges the
results into a persistent catalog and republishes the catalog to a search
index once per cycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     app.ServiceName,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &appHandle{app: appInstance}))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return closeApp(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("host", "", "search index address (overrides index.address)")
	flags.String("index", "", "search index name (overrides index.name)")
	flags.String("key", "", "search index write key (overrides index.api_key)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	executed, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	// PersistentPostRunE does not run when RunE fails.
	if executed != nil {
		if closeErr := closeApp(executed.Context()); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}
	zap.L().Error("Command execution failed", zap.Error(err))
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	if errors.Is(err, catalog.ErrLoadAborted) {
		return ExitLoadAborted
	}
	return 1
}

// appHandle lets the first close clear the app for later callers.
type appHandle struct {
	app App
}

func closeApp(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	handle, ok := ctx.Value(appKey).(*appHandle)
	if !ok || handle == nil || handle.app == nil {
		return nil
	}
	appInstance := handle.app
	handle.app = nil
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := appInstance.Close(shutdownCtx)
	_ = appInstance.Logger().Sync()
	if err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	handle, ok := ctx.Value(appKey).(*appHandle)
	if !ok || handle == nil || handle.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return handle.app, nil
}
