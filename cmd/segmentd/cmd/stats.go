package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/health"
)

// StatsOutput is the JSON form of segment statistics.
type StatsOutput struct {
	DataDir       string         `json:"data_dir"`
	URLs          int64          `json:"urls"`
	PostingTerms  int            `json:"posting_terms"`
	CatchallCount int            `json:"catchall_postings"`
	BufferedRefs  int            `json:"buffered_postings"`
	WordCounts    map[string]int `json:"word_counts,omitempty"`
	Health        health.Report  `json:"health"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats [word]...",
		Short: "Show segment statistics",
		Long: `stats prints the number of stored URLs and postings. For each word
given it also prints the estimated number of documents containing it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd.OutOrStdout(), opts.cfg, args, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStats(ctx context.Context, out io.Writer, cfg *config.Config, words []string, jsonOutput bool) error {
	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := StatsOutput{
		DataDir:       cfg.Segment.DataDir,
		URLs:          a.segment.URLCount(ctx),
		PostingTerms:  a.segment.PostingsCount(),
		CatchallCount: a.segment.PostingsCountOf(digest.CatchallHash),
		BufferedRefs:  a.segment.PostingsBufferSize(),
		Health:        a.health.Run(ctx),
	}
	if len(words) > 0 {
		stats.WordCounts = make(map[string]int, len(words))
		for _, w := range words {
			stats.WordCounts[w] = a.segment.QueryCount(ctx, w)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(out, "Segment:        %s (%s)\n", stats.DataDir, stats.Health.Status)
	fmt.Fprintf(out, "URLs:           %d\n", stats.URLs)
	fmt.Fprintf(out, "Posting terms:  %d\n", stats.PostingTerms)
	fmt.Fprintf(out, "Indexed docs:   %d\n", stats.CatchallCount)
	fmt.Fprintf(out, "Buffered:       %d\n", stats.BufferedRefs)
	for _, w := range words {
		fmt.Fprintf(out, "  %-14s%d\n", w, stats.WordCounts[w])
	}
	return nil
}
