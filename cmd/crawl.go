// Package cmd defines and implements the CLI commands for the invite crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand. By default it runs cycles until
// interrupted; --once runs a single cycle and exits.
func newCrawlCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs crawl cycles on the configured cadence",
		Long: `Loads the persisted catalog, then repeatedly searches for invite links,
verifies them, merges them into the catalog, saves it and republishes the
search index. Each cycle starts one cadence after the previous one started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func runCrawl(ctx context.Context, once bool) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	if once {
		rep, err := appInstance.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("Crawl finished",
			zap.Stringer("cycle_id", rep.CycleID),
			zap.Int("entries", rep.Entries),
			zap.Int("added", rep.Added),
			zap.Duration("duration", rep.Duration()),
		)
		return nil
	}

	if err := appInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}
	logger.Info("Crawl command finished.")
	return nil
}
