package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
)

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty all three stores of the segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("clear drops every record and posting; pass --yes to confirm")
			}
			return runClear(cmd.Context(), cmd.OutOrStdout(), opts.cfg)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the segment")
	return cmd
}

func runClear(ctx context.Context, out io.Writer, cfg *config.Config) error {
	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.segment.Clear(ctx)
	fmt.Fprintf(out, "cleared %s\n", cfg.Segment.DataDir)
	return nil
}
