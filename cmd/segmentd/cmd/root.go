// Package cmd holds the segmentd commands. Every command builds the segment
// from the same configuration and closes it on exit.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/logger"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "segmentd",
		Short: "Index, query and prune a local search segment",
		Long: `segmentd owns one segment: a postings store, a citation store and a
fulltext store. It indexes documents from the command line or from Kafka,
removes URLs and all references to them, and answers term queries.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			// command output goes to stdout, logs to stderr
			logger.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (defaults plus SP_* environment)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newURLsCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newClearCmd(opts))
	return cmd
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
