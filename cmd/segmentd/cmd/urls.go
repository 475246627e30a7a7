package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
)

func newURLsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "urls <stub>",
		Short: "List stored URLs starting with a stub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runURLs(cmd.Context(), cmd.OutOrStdout(), opts.cfg, args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many urls (0 lists all)")
	return cmd
}

func runURLs(ctx context.Context, out io.Writer, cfg *config.Config, stub string, limit int) error {
	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := a.segment.URLSelector(ctx, stub)
	if err != nil {
		return err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		u := it.URL()
		fmt.Fprintf(out, "%s\t%s\n", u.Hash(), u.Normal())
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return it.Err()
}
