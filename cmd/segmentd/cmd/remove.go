package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/loader"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
)

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "remove <url|hash>...",
		Short: "Remove URLs and their postings from the segment",
		Long: `remove re-loads each document to find the words it was indexed under,
drops its postings and always drops its record. A document that cannot be
re-loaded keeps its postings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd.OutOrStdout(), opts.cfg, strategy, args)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "ifexist", "cache strategy used to re-load documents")
	return cmd
}

// parseTarget accepts a url hash or a url.
func parseTarget(raw string) (digest.URLHash, error) {
	if id, err := digest.ParseURLHash(raw); err == nil {
		return id, nil
	}
	u, err := digest.ParseURL(raw)
	if err != nil {
		return digest.URLHash{}, fmt.Errorf("%q is neither a url hash nor a url: %w", raw, err)
	}
	return u.Hash(), nil
}

func runRemove(ctx context.Context, out io.Writer, cfg *config.Config, strategyName string, targets []string) error {
	strategy, err := loader.ParseCacheStrategy(strategyName)
	if err != nil {
		return err
	}
	ids := make([]digest.URLHash, 0, len(targets))
	for _, raw := range targets {
		id, err := parseTarget(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	removed := a.segment.RemoveAllURLReferencesSet(ctx, ids, a.loader, strategy)
	fmt.Fprintf(out, "removed %d urls, %d postings\n", len(ids), removed)
	return nil
}
