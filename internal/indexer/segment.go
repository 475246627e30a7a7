// Package indexer owns the segment: the postings store, the citation store
// and the fulltext store of one index, and the pipelines that write a parsed
// document into all three and take a URL back out of them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/kvdb"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/metrics"
)

const (
	TermIndexName     = "text.index"
	CitationIndexName = "citation.index"
)

type (
	TermCell     = index.Cell[digest.TermHash, index.Posting]
	CitationCell = index.Cell[digest.URLHash, index.Citation]
)

// Options configures a Segment. Zero values take defaults.
type Options struct {
	DataDir        string
	PostingsEngine string
	CitationEngine string
	// MaxMergeSize bounds documents re-loaded for deletion.
	MaxMergeSize int64
	// RemoveParallelism bounds concurrent removals in RemoveAllURLReferencesSet.
	RemoveParallelism int
	// RecordRemoveTimeout bounds the final record removal of a deletion. It
	// runs detached from the caller's cancellation. Defaults to 10s.
	RecordRemoveTimeout time.Duration

	Condenser *condenser.Condenser
	Builder   fulltext.Builder
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// OptionsFromConfig maps the segment and fulltext configuration to Options.
func OptionsFromConfig(seg config.SegmentConfig, ft config.FulltextConfig) Options {
	return Options{
		DataDir:           seg.DataDir,
		PostingsEngine:    seg.PostingsEngine,
		CitationEngine:    seg.CitationEngine,
		MaxMergeSize:      seg.MaxMergeSize,
		RemoveParallelism: seg.RemoveParallelism,
		Builder:           fulltext.Builder{MaxTextLength: ft.TextLimit},

		RecordRemoveTimeout: ft.Timeout,
	}
}

// Segment is built once by the composition root and shared by every
// pipeline call. The two reference stores are connected and disconnected at
// runtime; a pipeline that finds a store disconnected skips it.
type Segment struct {
	opts     Options
	fulltext fulltext.Store
	logger   *slog.Logger

	lifecycle     sync.Mutex
	termIndex     atomic.Pointer[TermCell]
	citationIndex atomic.Pointer[CitationCell]
}

func New(store fulltext.Store, opts Options) *Segment {
	if opts.PostingsEngine == "" {
		opts.PostingsEngine = kvdb.BADGER
	}
	if opts.CitationEngine == "" {
		opts.CitationEngine = kvdb.BOLT
	}
	if opts.RemoveParallelism <= 0 {
		opts.RemoveParallelism = 4
	}
	if opts.RecordRemoveTimeout <= 0 {
		opts.RecordRemoveTimeout = 10 * time.Second
	}
	if opts.Condenser == nil {
		opts.Condenser = condenser.New(condenser.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Builder.Now == nil {
		opts.Builder.Now = opts.Now
	}
	s := &Segment{
		opts:     opts,
		fulltext: store,
		logger:   slog.Default().With("component", "segment", "path", opts.DataDir),
	}
	s.logger.Info("segment initialized")
	return s
}

func (s *Segment) Fulltext() fulltext.Store {
	return s.fulltext
}

func (s *Segment) Condenser() *condenser.Condenser {
	return s.opts.Condenser
}

func (s *Segment) storePath(name, engine string) string {
	if engine == kvdb.BOLT {
		return filepath.Join(s.opts.DataDir, name, name+".db")
	}
	return filepath.Join(s.opts.DataDir, name)
}

// ConnectRWI opens the postings store. bufferBudget is the number of
// references held in RAM; maxFileSize caps one backing file.
func (s *Segment) ConnectRWI(bufferBudget int, maxFileSize int64) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.termIndex.Load() != nil {
		return nil
	}
	db, err := kvdb.Open(s.opts.PostingsEngine, s.storePath(TermIndexName, s.opts.PostingsEngine),
		kvdb.Options{ValueLogFileSize: maxFileSize, Bucket: TermIndexName})
	if err != nil {
		return fmt.Errorf("connecting %s: %w", TermIndexName, err)
	}
	s.termIndex.Store(index.NewPostingCell(db, TermIndexName, index.CellOptions{BufferBudget: bufferBudget}))
	s.logger.Info("postings store connected", "engine", s.opts.PostingsEngine, "buffer_budget", bufferBudget)
	return nil
}

func (s *Segment) DisconnectRWI() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	cell := s.termIndex.Swap(nil)
	if cell == nil {
		return
	}
	if err := cell.Close(); err != nil {
		s.logger.Error("closing postings store", "error", err)
	}
}

func (s *Segment) ConnectedRWI() bool {
	return s.termIndex.Load() != nil
}

// ConnectCitation opens the citation store.
func (s *Segment) ConnectCitation(bufferBudget int, maxFileSize int64) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.citationIndex.Load() != nil {
		return nil
	}
	db, err := kvdb.Open(s.opts.CitationEngine, s.storePath(CitationIndexName, s.opts.CitationEngine),
		kvdb.Options{ValueLogFileSize: maxFileSize, Bucket: CitationIndexName})
	if err != nil {
		return fmt.Errorf("connecting %s: %w", CitationIndexName, err)
	}
	s.citationIndex.Store(index.NewCitationCell(db, CitationIndexName, index.CellOptions{BufferBudget: bufferBudget}))
	s.logger.Info("citation store connected", "engine", s.opts.CitationEngine, "buffer_budget", bufferBudget)
	return nil
}

func (s *Segment) DisconnectCitation() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	cell := s.citationIndex.Swap(nil)
	if cell == nil {
		return
	}
	if err := cell.Close(); err != nil {
		s.logger.Error("closing citation store", "error", err)
	}
}

func (s *Segment) ConnectedCitation() bool {
	return s.citationIndex.Load() != nil
}

// TermIndex returns the postings store, or nil when disconnected.
func (s *Segment) TermIndex() *TermCell {
	return s.termIndex.Load()
}

// CitationIndex returns the citation store, or nil when disconnected.
func (s *Segment) CitationIndex() *CitationCell {
	return s.citationIndex.Load()
}

// StorePosting appends one posting to the container of term.
func (s *Segment) StorePosting(term digest.TermHash, p index.Posting) error {
	cell := s.termIndex.Load()
	if cell == nil {
		return errDisconnected(TermIndexName)
	}
	return cell.Append(term, p)
}

// StoreContainer appends every posting of c.
func (s *Segment) StoreContainer(c *index.PostingContainer) error {
	cell := s.termIndex.Load()
	if cell == nil {
		return errDisconnected(TermIndexName)
	}
	return cell.AppendContainer(c)
}

// Flush writes the RAM buffers of both reference stores.
func (s *Segment) Flush() error {
	var errs []error
	if cell := s.termIndex.Load(); cell != nil {
		if err := cell.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", TermIndexName, err))
		}
	}
	if cell := s.citationIndex.Load(); cell != nil {
		if err := cell.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", CitationIndexName, err))
		}
	}
	return errors.Join(errs...)
}

// StartFlushLoop flushes every interval until ctx is done, then flushes a
// final time.
func (s *Segment) StartFlushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("flush loop stopping, performing final flush")
				if err := s.Flush(); err != nil {
					s.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.Flush(); err != nil {
					s.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// URLCount returns the number of canonical records.
func (s *Segment) URLCount(ctx context.Context) int64 {
	n, err := s.fulltext.Count(ctx)
	if err != nil {
		s.logger.Warn("counting records failed", "error", err)
		return 0
	}
	return n
}

// PostingsCount returns the key count of the postings store.
func (s *Segment) PostingsCount() int {
	cell := s.termIndex.Load()
	if cell == nil {
		return 0
	}
	return cell.SizesMax()
}

// PostingsBufferSize returns the number of postings held in RAM.
func (s *Segment) PostingsBufferSize() int {
	cell := s.termIndex.Load()
	if cell == nil {
		return 0
	}
	return cell.BufferSize()
}

// PostingsCountOf returns the number of postings stored for term.
func (s *Segment) PostingsCountOf(term digest.TermHash) int {
	cell := s.termIndex.Load()
	if cell == nil {
		return 0
	}
	return cell.Count(term)
}

// QueryCount estimates the number of documents containing word from the
// postings of its hash and the fulltext index. Words that look like field
// queries, phrases or paths count as zero.
func (s *Segment) QueryCount(ctx context.Context, word string) int {
	if word == "" || strings.ContainsAny(word, ": /") {
		return 0
	}
	count := s.PostingsCountOf(digest.Word(word))
	n, err := s.fulltext.QueryCount(ctx, word)
	if err != nil {
		s.logger.Debug("fulltext query count failed", "word", word, "error", err)
		return count
	}
	return count + n
}

func (s *Segment) Exists(ctx context.Context, id digest.URLHash) bool {
	ok, err := s.fulltext.Exists(ctx, id)
	if err != nil {
		s.logger.Warn("existence check failed", "id", id, "error", err)
		return false
	}
	return ok
}

// Clear empties all three stores. Failures are logged per store.
func (s *Segment) Clear(ctx context.Context) {
	if cell := s.termIndex.Load(); cell != nil {
		if err := cell.Clear(); err != nil {
			s.logger.Error("clearing postings store", "error", err)
		}
	}
	if err := s.fulltext.Clear(ctx); err != nil {
		s.logger.Error("clearing fulltext store", "error", err)
	}
	if cell := s.citationIndex.Load(); cell != nil {
		if err := cell.Clear(); err != nil {
			s.logger.Error("clearing citation store", "error", err)
		}
	}
	s.logger.Info("segment cleared")
}

// Close disconnects both reference stores and closes the fulltext store.
func (s *Segment) Close() error {
	s.DisconnectRWI()
	s.DisconnectCitation()
	if err := s.fulltext.Close(); err != nil {
		return fmt.Errorf("closing fulltext store: %w", err)
	}
	s.logger.Info("segment closed")
	return nil
}
