package indexer

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

const (
	// LivePriority is the priority of postings injected into a running search.
	LivePriority = -1
	// LiveBudget is the time a running search waits for injected postings.
	LiveBudget = 5 * time.Second
)

// RankingContext is a search in progress that accepts freshly indexed
// postings for the words it asked for.
type RankingContext interface {
	IncludeHashes() digest.HashSet
	ExcludeHashes() digest.HashSet
	AddLive(c *index.PostingContainer, live bool, source string, priority int, budget time.Duration) error
	// Finalize ends one batch of AddLive calls.
	Finalize()
}

// StoreRequest carries one parsed document into StoreDocument.
type StoreRequest struct {
	URL      *digest.URL
	Referrer *digest.URL
	Profile  document.CrawlProfile
	Header   *document.ResponseHeader
	Document *document.Document
	// Stats is computed with the segment's condenser when nil.
	Stats *condenser.Result
	// Ranking is nil when no search is waiting for this document.
	Ranking    RankingContext
	Source     string
	StoreToRWI bool
}

func errDisconnected(store string) error {
	return apperrors.New(apperrors.ErrDisconnected, store, "append", nil)
}

// StoreDocument writes a parsed document into the fulltext store, the
// postings store and the citation store. Each write is best-effort: a store
// failure is logged and the remaining writes go ahead, so the returned
// record may be only partially indexed. The only error is a missing URL or
// document.
func (s *Segment) StoreDocument(ctx context.Context, req StoreRequest) (*fulltext.Record, error) {
	if req.URL == nil || req.Document == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "segment", "store_document", nil)
	}
	log := s.logger
	if req.Source != "" {
		log = log.With("source", req.Source)
	}

	start := s.opts.Now()
	url, doc := req.URL, req.Document
	stats := req.Stats
	if stats == nil {
		stats = s.opts.Condenser.Condense(doc)
	}
	modDate := document.ModifiedAt(req.Header, start)
	language := VoteLanguage(stats.Language, doc.Language, url.Language(), url.Normal())

	record := s.opts.Builder.Build(url, req.Profile, req.Header, doc, stats, req.Referrer, language)
	if err := s.fulltext.Put(ctx, record); err != nil {
		log.Warn("failed to send document to fulltext store",
			"url", url.Normal(),
			"error", err,
		)
		s.fulltextFailure("put")
	}
	storageEnd := s.opts.Now()

	wordCount := 0
	termIndex := s.termIndex.Load()
	writePostings := req.StoreToRWI && termIndex != nil
	if writePostings || req.Ranking != nil {
		template := s.template(url, doc, stats, modDate, language)
		var include, exclude digest.HashSet
		if req.Ranking != nil {
			include, exclude = req.Ranking.IncludeHashes(), req.Ranking.ExcludeHashes()
		}

		last := index.CatchallStats
		for _, word := range stats.SortedWords() {
			ws := stats.Words[word]
			last = ws
			term := digest.Word(word)
			p := template.WithWord(ws)
			if writePostings {
				s.appendPosting(log, termIndex, term, p)
			}
			wordCount++

			if req.Ranking != nil && include.Has(term) && !exclude.Has(term) {
				live := index.NewContainer[digest.TermHash, index.Posting](term, 1)
				live.Add(p)
				if err := req.Ranking.AddLive(live, true, req.Source, LivePriority, LiveBudget); err != nil {
					log.Debug("live injection skipped", "word", word, "error", err)
					continue
				}
				s.liveInjected()
			}
		}
		if req.Ranking != nil {
			req.Ranking.Finalize()
		}

		if writePostings {
			s.appendPosting(log, termIndex, digest.CatchallHash, template.WithWord(last))
		}
	}

	refs := s.addCitations(log, url, modDate, doc.Anchors())
	indexingEnd := s.opts.Now()

	log.Info("document indexed",
		"words", wordCount,
		"url", url.Normal(),
		"id", record.ID,
		"title", record.Title,
		"mime", doc.Format,
		"charset", doc.Charset,
		"size", doc.TextLength(),
		"anchors", refs,
		"link_storage_ms", storageEnd.Sub(start).Milliseconds(),
		"index_storage_ms", indexingEnd.Sub(storageEnd).Milliseconds(),
	)
	s.documentIndexed(storageEnd.Sub(start), indexingEnd.Sub(storageEnd))
	return record, nil
}

// template holds the document-level fields shared by every posting of one
// document.
func (s *Segment) template(url *digest.URL, doc *document.Document, stats *condenser.Result, modDate time.Time, language string) index.Posting {
	urlLength := utf8.RuneCountInString(url.Normal())
	titleLength := utf8.RuneCountInString(doc.Title)
	if titleLength == 0 {
		titleLength = urlLength
	}
	p := index.Posting{
		URLHash:       url.Hash(),
		URLLength:     uint32(urlLength),
		URLComps:      uint32(url.Comps()),
		TitleLength:   uint32(titleLength),
		WordCount:     uint32(stats.WordCount),
		SentenceCount: uint32(stats.SentenceCount),
		LastModified:  modDate.UnixMilli(),
		Indexed:       s.opts.Now().UnixMilli(),
		DocType:       document.DocType(doc.Format),
		LinksSame:     uint32(len(doc.InboundLinks)),
		LinksOther:    uint32(len(doc.OutboundLinks)),
	}
	p.SetLanguage(language)
	return p
}

func (s *Segment) appendPosting(log *slog.Logger, cell *TermCell, term digest.TermHash, p index.Posting) {
	if err := cell.Append(term, p); err != nil {
		kind := apperrors.Kind(err)
		log.Warn("posting append skipped",
			"term", term.String(),
			"kind", kind,
			"error", err,
		)
		if s.opts.Metrics != nil {
			s.opts.Metrics.PostingsAppendFailures.WithLabelValues(kind).Inc()
		}
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.PostingsAppendedTotal.Inc()
	}
}

// addCitations appends one citation per distinct link target and returns
// how many were written.
func (s *Segment) addCitations(log *slog.Logger, url *digest.URL, modDate time.Time, anchors []document.Anchor) int {
	cell := s.citationIndex.Load()
	if cell == nil || len(anchors) == 0 {
		return 0
	}
	citation := index.Citation{Citing: url.Hash(), Modified: modDate.UnixMilli()}
	seen := make(map[digest.URLHash]struct{}, len(anchors))
	written := 0
	for _, a := range anchors {
		target, err := url.Resolve(a.URL)
		if err != nil {
			log.Debug("skipping unparseable anchor", "href", a.URL, "error", err)
			continue
		}
		h := target.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if err := cell.Append(h, citation); err != nil {
			log.Warn("citation append skipped",
				"target", target.Normal(),
				"kind", apperrors.Kind(err),
				"error", err,
			)
			continue
		}
		written++
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.CitationsAppendedTotal.Add(float64(written))
	}
	return written
}

func (s *Segment) fulltextFailure(op string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.FulltextFailuresTotal.WithLabelValues(op).Inc()
	}
}

func (s *Segment) liveInjected() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.LiveInjectionsTotal.Inc()
	}
}

func (s *Segment) documentIndexed(linkStorage, indexStorage time.Duration) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.DocsIndexedTotal.Inc()
	s.opts.Metrics.IndexingDuration.WithLabelValues("link_storage").Observe(linkStorage.Seconds())
	s.opts.Metrics.IndexingDuration.WithLabelValues("index_storage").Observe(indexStorage.Seconds())
}
