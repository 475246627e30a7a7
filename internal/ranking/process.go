package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

var (
	// ErrNotRequested rejects postings for a term the query did not ask for.
	ErrNotRequested = errors.New("term not requested by query")
	// ErrClosed rejects postings after the search was closed.
	ErrClosed = errors.New("search closed")
)

var _ indexer.RankingContext = (*Process)(nil)

type candidate struct {
	postings map[digest.TermHash]index.Posting
	live     bool
}

// Process collects postings for one query. Postings may arrive from the
// stored segment and, concurrently, from documents indexed while the search
// runs.
type Process struct {
	query   *Query
	include digest.HashSet
	exclude digest.HashSet
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	docs      map[digest.URLHash]*candidate
	banned    map[digest.URLHash]struct{}
	sources   map[string]int
	totalDocs int
	batches   int
	deadline  time.Time
	closed    bool
	changed   chan struct{}
}

func NewProcess(q *Query) *Process {
	return &Process{
		query:   q,
		include: digest.NewHashSet(digest.Words(q.Terms)...),
		exclude: digest.NewHashSet(digest.Words(q.ExcludeTerms)...),
		now:     time.Now,
		logger:  slog.Default().With("component", "ranking", "query", q.Raw),
		docs:    make(map[digest.URLHash]*candidate),
		banned:  make(map[digest.URLHash]struct{}),
		sources: make(map[string]int),
		changed: make(chan struct{}),
	}
}

func (p *Process) Query() *Query { return p.query }

// IncludeHashes returns the hashes of the query terms. The set must not be
// modified.
func (p *Process) IncludeHashes() digest.HashSet { return p.include }

func (p *Process) ExcludeHashes() digest.HashSet { return p.exclude }

// SetTotalDocs sets the collection size used for inverse document
// frequency. Without it the number of candidates is used.
func (p *Process) SetTotalDocs(n int) {
	p.mu.Lock()
	p.totalDocs = n
	p.mu.Unlock()
}

// AddLive merges the postings of c into the candidates. Live postings
// extend the time Results waits for a batch to budget from now.
func (p *Process) AddLive(c *index.PostingContainer, live bool, source string, priority int, budget time.Duration) error {
	if c == nil {
		return apperrors.New(apperrors.ErrInvalidInput, "ranking", "add", nil)
	}
	term := c.Key()
	if !p.include.Has(term) || p.exclude.Has(term) {
		return fmt.Errorf("%w: %s", ErrNotRequested, term)
	}
	refs := c.References()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if live && budget > 0 {
		if d := p.now().Add(budget); d.After(p.deadline) {
			p.deadline = d
		}
	}
	for _, ref := range refs {
		cand, ok := p.docs[ref.URLHash]
		if !ok {
			cand = &candidate{postings: make(map[digest.TermHash]index.Posting, len(p.include))}
			p.docs[ref.URLHash] = cand
		}
		cand.postings[term] = ref
		cand.live = cand.live || live
	}
	p.sources[source] += len(refs)
	p.logger.Debug("postings added",
		"term", term.String(),
		"source", source,
		"live", live,
		"priority", priority,
		"count", len(refs),
	)
	return nil
}

// Finalize ends one batch of additions and wakes Results.
func (p *Process) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	close(p.changed)
	p.changed = make(chan struct{})
}

// AddStored adds the stored postings of every query term from seg and drops
// the documents stored under an excluded term.
func (p *Process) AddStored(seg *indexer.Segment) error {
	cell := seg.TermIndex()
	if cell == nil {
		return apperrors.New(apperrors.ErrDisconnected, indexer.TermIndexName, "get", nil)
	}
	for term := range p.exclude {
		c, err := cell.Get(term)
		if err != nil {
			return fmt.Errorf("reading postings of %s: %w", term, err)
		}
		p.mu.Lock()
		for _, ref := range c.References() {
			p.banned[ref.URLHash] = struct{}{}
		}
		p.mu.Unlock()
	}
	for term := range p.include {
		c, err := cell.Get(term)
		if err != nil {
			return fmt.Errorf("reading postings of %s: %w", term, err)
		}
		if err := p.AddLive(c, false, "segment", 0, 0); err != nil {
			return err
		}
	}
	p.Finalize()
	return nil
}

// Results ranks the candidates with BM25 over posting hit counts and
// document word counts, and returns the best limit of them. While live
// postings have been announced but no batch has finished, it waits up to the
// live budget.
func (p *Process) Results(ctx context.Context, limit int) []ScoredDoc {
	p.waitForBatch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.include) == 0 {
		return nil
	}

	matching := make(map[digest.URLHash]*candidate, len(p.docs))
	docFreq := make(map[digest.TermHash]int, len(p.include))
	totalLength := 0.0
	for id, cand := range p.docs {
		if _, ok := p.banned[id]; ok {
			continue
		}
		if p.query.Type == QueryAND && len(cand.postings) < len(p.include) {
			continue
		}
		matching[id] = cand
		for term := range cand.postings {
			docFreq[term]++
		}
		totalLength += float64(docLength(cand))
	}
	if len(matching) == 0 {
		return nil
	}
	total := p.totalDocs
	if total < len(matching) {
		total = len(matching)
	}
	avg := totalLength / float64(len(matching))

	scored := make([]ScoredDoc, 0, len(matching))
	for id, cand := range matching {
		length := float64(docLength(cand))
		score := 0.0
		for term, posting := range cand.postings {
			score += idf(total, docFreq[term]) * tfNorm(float64(posting.Word.HitCount), length, avg)
		}
		scored = append(scored, ScoredDoc{
			ID:    id,
			Score: math.Round(score*10000) / 10000,
			Live:  cand.live,
		})
	}
	return topK(scored, limit)
}

func docLength(c *candidate) uint32 {
	for _, p := range c.postings {
		return p.WordCount
	}
	return 0
}

func (p *Process) waitForBatch(ctx context.Context) {
	for {
		p.mu.Lock()
		wait := p.deadline.Sub(p.now())
		done := p.batches > 0 || wait <= 0 || p.closed
		changed := p.changed
		p.mu.Unlock()
		if done {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Sources returns the number of postings received per source label.
func (p *Process) Sources() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.sources))
	for k, v := range p.sources {
		out[k] = v
	}
	return out
}

// Close rejects further postings.
func (p *Process) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.changed)
		p.changed = make(chan struct{})
	}
}
