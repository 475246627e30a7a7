package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

// SearchHit is one line of search output.
type SearchHit struct {
	ID    string  `json:"id"`
	URL   string  `json:"url"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank stored documents against a query",
		Long: `search ranks the postings of the query words with BM25. Words are
combined with AND unless the query contains OR; NOT or a leading '-'
excludes a word.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), opts.cfg, strings.Join(args, " "), limit, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runSearch(ctx context.Context, out io.Writer, cfg *config.Config, raw string, limit int, jsonOutput bool) error {
	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	q := ranking.ParseQuery(raw, a.segment.Condenser())
	if len(q.Terms) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "search", "parse", errors.New("query has no words"))
	}
	p := ranking.NewProcess(q)
	defer p.Close()
	p.SetTotalDocs(int(a.segment.URLCount(ctx)))
	if err := p.AddStored(a.segment); err != nil {
		return err
	}

	hits := make([]SearchHit, 0, limit)
	for _, doc := range p.Results(ctx, limit) {
		hit := SearchHit{ID: doc.ID.String(), Score: doc.Score}
		if record, err := a.segment.Fulltext().Get(ctx, doc.ID); err == nil {
			hit.URL, hit.Title = record.URL, record.Title
		}
		hits = append(hits, hit)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, hit := range hits {
		fmt.Fprintf(out, "%2d. %.4f  %s  %s\n", i+1, hit.Score, hit.URL, hit.Title)
	}
	return nil
}
