package indexer

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/loader"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

// RemoveAllURLReferences takes a document out of the segment. Its postings
// are found by re-loading and re-condensing the document, since the postings
// store cannot be searched by URL. The canonical record is always removed
// last, even when the document can no longer be loaded or ctx ends while it
// is re-loaded. The result is the number of postings removed, or 0 on any
// degraded path.
func (s *Segment) RemoveAllURLReferences(ctx context.Context, id digest.URLHash, l loader.Loader, strategy loader.CacheStrategy) int {
	log := s.logger.With("id", id.String())

	record, err := s.fulltext.Get(ctx, id)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// nothing was touched; a redelivery retries the whole removal
		log.Warn("removal interrupted before it started", "error", err)
		s.urlRemoved("interrupted")
		return 0
	default:
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("loading record for removal failed", "error", err)
			s.fulltextFailure("get")
		}
		s.urlRemoved("not_found")
		return 0
	}

	removed := 0
	path := "metadata_only"
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RecordRemoveTimeout)
		defer cancel()
		if err := s.fulltext.Remove(rctx, id); err != nil {
			log.Warn("removing record failed", "error", err)
			s.fulltextFailure("remove")
		}
		s.urlRemoved(path)
	}()

	u, err := digest.ParseURL(record.URL)
	if err != nil {
		log.Warn("stored url unparseable, removing metadata only", "url", record.URL, "error", err)
		return 0
	}
	resp, err := l.Load(ctx, loader.Request{URL: u, Strategy: strategy, ForceReload: true, MaxSize: s.opts.MaxMergeSize})
	if err != nil || resp == nil || resp.Document == nil {
		log.Info("document not loadable, removing metadata only",
			"url", u.Normal(),
			"kind", apperrors.Kind(err),
			"error", err,
		)
		return 0
	}

	cell := s.termIndex.Load()
	if cell == nil {
		return 0
	}
	stats := s.opts.Condenser.Condense(resp.Document)
	words := stats.SortedWords()
	terms := make([]digest.TermHash, 0, len(words)+1)
	for _, w := range words {
		terms = append(terms, digest.Word(w))
	}
	removed, err = cell.Remove(id, terms)
	if err != nil {
		log.Warn("removing postings failed", "url", u.Normal(), "error", err)
	}
	// the catchall posting is not part of the term set
	if _, err := cell.Remove(id, []digest.TermHash{digest.CatchallHash}); err != nil {
		log.Warn("removing catchall posting failed", "url", u.Normal(), "error", err)
	}
	path = "full"
	if s.opts.Metrics != nil {
		s.opts.Metrics.ReferencesRemovedTotal.Add(float64(removed))
	}
	log.Info("url references removed", "url", u.Normal(), "words", len(terms), "removed", removed)
	return removed
}

// RemoveAllURLReferencesSet removes every id independently, at most
// RemoveParallelism at a time, and returns the summed removal count.
func (s *Segment) RemoveAllURLReferencesSet(ctx context.Context, ids []digest.URLHash, l loader.Loader, strategy loader.CacheStrategy) int {
	var total atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.opts.RemoveParallelism)
	seen := make(map[digest.URLHash]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			total.Add(int64(s.RemoveAllURLReferences(ctx, id, l, strategy)))
			return nil
		})
	}
	_ = g.Wait()
	return int(total.Load())
}

func (s *Segment) urlRemoved(path string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.URLsRemovedTotal.WithLabelValues(path).Inc()
	}
}
