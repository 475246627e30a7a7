package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/huandu/skiplist"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/kvdb"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/logger"
)

const (
	defaultBufferBudget = 1 << 16
	// maxChunkRows bounds a stored value well below the smallest badger
	// value-log file.
	maxChunkRows = 4096
	// writeGroupBytes bounds one engine batch, keeping it inside a single
	// badger transaction.
	writeGroupBytes = 4 << 20
	seqLength       = 8
)

// Reference is a stored row value. Every reference belongs to one URL.
type Reference interface {
	Owner() digest.URLHash
}

// CellOptions sizes the RAM buffer of a cell.
type CellOptions struct {
	// BufferBudget is the number of buffered references that triggers a flush.
	BufferBudget int
}

// Cell is a reference store: an ordered RAM buffer of containers in front of
// a key/value engine. Each flush stores a key's new rows as chunks under
// key|seq, so a key's rows are read back by prefix and never rewritten on
// append. Appends run concurrently; Clear, Close and Flush are serialized
// against them.
type Cell[K digest.Key, R Reference] struct {
	name   string
	db     kvdb.Engine
	codec  Codec[R]
	budget int
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	// flushMu orders buffer-to-disk moves with readers of both, so a
	// reference is always visible in exactly one place.
	flushMu sync.Mutex

	bufMu    sync.Mutex
	buffer   *skiplist.SkipList
	buffered int

	seq atomic.Uint64
}

func Open[K digest.Key, R Reference](db kvdb.Engine, name string, codec Codec[R], opts CellOptions) *Cell[K, R] {
	budget := opts.BufferBudget
	if budget <= 0 {
		budget = defaultBufferBudget
	}
	c := &Cell[K, R]{
		name:   name,
		db:     db,
		codec:  codec,
		budget: budget,
		logger: logger.WithComponent("cell").With("cell", name),
		buffer: skiplist.New(skiplist.String),
	}
	var last uint64
	if _, err := db.IterKey(func(k []byte) error {
		if len(k) == digest.Length+seqLength {
			last = max(last, binary.BigEndian.Uint64(k[digest.Length:]))
		}
		return nil
	}); err != nil {
		c.logger.Warn("reading chunk sequence failed", "error", err)
	}
	c.seq.Store(last)
	return c
}

// NewPostingCell opens the postings store over db.
func NewPostingCell(db kvdb.Engine, name string, opts CellOptions) *Cell[digest.TermHash, Posting] {
	return Open[digest.TermHash, Posting](db, name, PostingCodec{}, opts)
}

// NewCitationCell opens the citation store over db.
func NewCitationCell(db kvdb.Engine, name string, opts CellOptions) *Cell[digest.URLHash, Citation] {
	return Open[digest.URLHash, Citation](db, name, CitationCodec{}, opts)
}

func (c *Cell[K, R]) Name() string {
	return c.name
}

func keyBytes[K digest.Key](k K) []byte {
	b := [digest.Length]byte(k)
	return b[:]
}

func keyString[K digest.Key](k K) string {
	return string(keyBytes(k))
}

func chunkKey(prefix []byte, seq uint64) []byte {
	k := make([]byte, len(prefix)+seqLength)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

// Append adds one reference under key.
func (c *Cell[K, R]) Append(key K, r R) error {
	container := NewContainer[K, R](key, 1)
	container.Add(r)
	return c.AppendContainer(container)
}

// AppendContainer adds every reference of container under its key. When the
// buffer is at budget it is flushed first. The append is rejected with
// ErrCapacityExceeded, adding nothing, only when the flush failed and the
// rows it could not write still fill the budget.
func (c *Cell[K, R]) AppendContainer(container *ReferenceContainer[K, R]) error {
	if container == nil || container.Len() == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return apperrors.New(apperrors.ErrDisconnected, c.name, "append", nil)
	}

	for {
		c.bufMu.Lock()
		if c.buffered < c.budget {
			c.addLocked(container.key, container.refs)
			c.bufMu.Unlock()
			return nil
		}
		c.bufMu.Unlock()

		if err := c.flush(); err != nil {
			c.bufMu.Lock()
			full := c.buffered >= c.budget
			if !full {
				c.addLocked(container.key, container.refs)
			}
			c.bufMu.Unlock()
			if full {
				return apperrors.New(apperrors.ErrCapacityExceeded, c.name, "append", err)
			}
			c.logger.Warn("flush left rows buffered", "error", err)
			return nil
		}
	}
}

func (c *Cell[K, R]) addLocked(key K, refs []R) {
	k := keyString(key)
	if elem := c.buffer.Get(k); elem != nil {
		existing := elem.Value.(*ReferenceContainer[K, R])
		existing.refs = append(existing.refs, refs...)
	} else {
		fresh := NewContainer[K, R](key, len(refs))
		fresh.refs = append(fresh.refs, refs...)
		c.buffer.Set(k, fresh)
	}
	c.buffered += len(refs)
}

// Flush moves the RAM buffer to the backing engine.
func (c *Cell[K, R]) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return apperrors.New(apperrors.ErrDisconnected, c.name, "flush", nil)
	}
	return c.flush()
}

func (c *Cell[K, R]) flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.bufMu.Lock()
	snapshot, count := c.buffer, c.buffered
	c.buffer = skiplist.New(skiplist.String)
	c.buffered = 0
	c.bufMu.Unlock()

	if count == 0 {
		return nil
	}
	failed, err := c.write(snapshot)
	if err != nil {
		c.restore(failed)
		return apperrors.New(apperrors.ErrStoreIO, c.name, "flush", err)
	}
	c.logger.Debug("buffer flushed",
		"references", count,
		"keys", snapshot.Len(),
	)
	return nil
}

type chunk struct {
	key, value []byte
}

// write stores the snapshot in groups of whole containers. A group the
// engine rejects is retried container by container, so one bad key only
// holds back its own rows. The containers that could not be written are
// returned with the first error.
func (c *Cell[K, R]) write(snapshot *skiplist.SkipList) ([]*ReferenceContainer[K, R], error) {
	var (
		failed   []*ReferenceContainer[K, R]
		firstErr error
		group    []*ReferenceContainer[K, R]
		chunks   [][]chunk
		size     int
	)
	commit := func() {
		if len(group) == 0 {
			return
		}
		if err := c.setChunks(chunks...); err != nil {
			for i, container := range group {
				if err := c.setChunks(chunks[i]); err != nil {
					c.logger.Warn("writing key failed", "key", container.key, "rows", container.Len(), "error", err)
					failed = append(failed, container)
					if firstErr == nil {
						firstErr = fmt.Errorf("writing %v: %w", container.key, err)
					}
				}
			}
		}
		group, chunks, size = group[:0], chunks[:0], 0
	}

	for elem := snapshot.Front(); elem != nil; elem = elem.Next() {
		container := elem.Value.(*ReferenceContainer[K, R])
		prefix := keyBytes(container.key)
		var own []chunk
		for start := 0; start < len(container.refs); start += maxChunkRows {
			end := min(start+maxChunkRows, len(container.refs))
			own = append(own, chunk{
				key:   chunkKey(prefix, c.seq.Add(1)),
				value: encodeRows(c.codec, container.refs[start:end]),
			})
			size += (end - start) * c.codec.RowSize()
		}
		group = append(group, container)
		chunks = append(chunks, own)
		if size >= writeGroupBytes {
			commit()
		}
	}
	commit()
	return failed, firstErr
}

func (c *Cell[K, R]) setChunks(sets ...[]chunk) error {
	var keys, values [][]byte
	for _, set := range sets {
		for _, ch := range set {
			keys = append(keys, ch.key)
			values = append(values, ch.value)
		}
	}
	return c.db.BatchSet(keys, values)
}

// restore puts containers that failed to flush back in front of whatever
// was buffered meanwhile.
func (c *Cell[K, R]) restore(failed []*ReferenceContainer[K, R]) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for _, older := range failed {
		k := keyString(older.key)
		n := older.Len()
		if newer := c.buffer.Get(k); newer != nil {
			older.refs = append(older.refs, newer.Value.(*ReferenceContainer[K, R]).refs...)
		}
		c.buffer.Set(k, older)
		c.buffered += n
	}
}

// stored visits the stored chunks of key in append order.
func (c *Cell[K, R]) stored(key K, fn func(k, rows []byte) error) error {
	return c.db.IterPrefix(keyBytes(key), func(k, v []byte) error {
		if len(k) != digest.Length+seqLength {
			return nil
		}
		return fn(k, v)
	})
}

// Count returns the number of references stored under key.
func (c *Cell[K, R]) Count(key K) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	n := 0
	c.bufMu.Lock()
	if elem := c.buffer.Get(keyString(key)); elem != nil {
		n = elem.Value.(*ReferenceContainer[K, R]).Len()
	}
	c.bufMu.Unlock()

	size := c.codec.RowSize()
	if err := c.stored(key, func(_, rows []byte) error {
		n += len(rows) / size
		return nil
	}); err != nil {
		c.logger.Warn("count read failed", "key", key, "error", err)
	}
	return n
}

// Get returns a copy of the container under key, flushed rows first.
func (c *Cell[K, R]) Get(key K) (*ReferenceContainer[K, R], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, apperrors.New(apperrors.ErrDisconnected, c.name, "get", nil)
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	out := NewContainer[K, R](key, 0)
	if err := c.stored(key, func(_, rows []byte) error {
		out.refs = append(out.refs, decodeRows(c.codec, rows)...)
		return nil
	}); err != nil {
		return nil, apperrors.New(apperrors.ErrStoreIO, c.name, "get", err)
	}

	c.bufMu.Lock()
	if elem := c.buffer.Get(keyString(key)); elem != nil {
		out.refs = append(out.refs, elem.Value.(*ReferenceContainer[K, R]).refs...)
	}
	c.bufMu.Unlock()
	return out, nil
}

// Remove drops every reference owned by owner under the given keys and
// returns how many were dropped.
func (c *Cell[K, R]) Remove(owner digest.URLHash, keys []K) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, apperrors.New(apperrors.ErrDisconnected, c.name, "remove", nil)
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	removed := 0
	c.bufMu.Lock()
	for _, key := range keys {
		k := keyString(key)
		elem := c.buffer.Get(k)
		if elem == nil {
			continue
		}
		container := elem.Value.(*ReferenceContainer[K, R])
		n := container.filter(func(r R) bool {
			return r.Owner() != owner
		})
		removed += n
		c.buffered -= n
		if container.Len() == 0 {
			c.buffer.Remove(k)
		}
	}
	c.bufMu.Unlock()

	var (
		setKeys, setValues [][]byte
		deleteKeys         [][]byte
	)
	size := c.codec.RowSize()
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[keyString(key)]; dup {
			continue
		}
		seen[keyString(key)] = struct{}{}

		err := c.stored(key, func(k, rows []byte) error {
			kept := make([]byte, 0, len(rows))
			for off := 0; off+size <= len(rows); off += size {
				row := rows[off : off+size]
				if rowOwner(row) == owner {
					removed++
					continue
				}
				kept = append(kept, row...)
			}
			switch {
			case len(kept) == len(rows):
			case len(kept) == 0:
				deleteKeys = append(deleteKeys, k)
			default:
				setKeys = append(setKeys, k)
				setValues = append(setValues, kept)
			}
			return nil
		})
		if err != nil {
			return removed, apperrors.New(apperrors.ErrStoreIO, c.name, "remove", err)
		}
	}
	if len(setKeys) > 0 {
		if err := c.db.BatchSet(setKeys, setValues); err != nil {
			return removed, apperrors.New(apperrors.ErrStoreIO, c.name, "remove", err)
		}
	}
	if len(deleteKeys) > 0 {
		if err := c.db.BatchDelete(deleteKeys); err != nil {
			return removed, apperrors.New(apperrors.ErrStoreIO, c.name, "remove", err)
		}
	}
	return removed, nil
}

// BufferSize returns the number of references held in RAM.
func (c *Cell[K, R]) BufferSize() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.buffered
}

// SizesMax returns the larger of the buffered and the stored key counts.
// Stored chunks of one key sort together, so distinct keys are counted by
// prefix change.
func (c *Cell[K, R]) SizesMax() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	c.bufMu.Lock()
	inRAM := c.buffer.Len()
	c.bufMu.Unlock()

	onDisk := 0
	var last []byte
	if _, err := c.db.IterKey(func(k []byte) error {
		prefix := k[:min(len(k), digest.Length)]
		if !bytes.Equal(prefix, last) {
			onDisk++
			last = prefix
		}
		return nil
	}); err != nil {
		c.logger.Warn("key count failed", "error", err)
	}
	return max(inRAM, onDisk)
}

// Clear drops the buffer and every stored row.
func (c *Cell[K, R]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperrors.New(apperrors.ErrDisconnected, c.name, "clear", nil)
	}
	c.bufMu.Lock()
	c.buffer = skiplist.New(skiplist.String)
	c.buffered = 0
	c.bufMu.Unlock()
	if err := c.db.DropAll(); err != nil {
		return apperrors.New(apperrors.ErrStoreIO, c.name, "clear", err)
	}
	c.logger.Info("cell cleared")
	return nil
}

// Close flushes the buffer and releases the engine. Later calls are no-ops
// and every other operation reports ErrDisconnected.
func (c *Cell[K, R]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	flushErr := c.flush()
	if flushErr != nil {
		c.logger.Error("final flush failed", "error", flushErr)
	}
	if err := c.db.Close(); err != nil {
		return apperrors.New(apperrors.ErrStoreIO, c.name, "close", err)
	}
	c.logger.Info("cell closed", "path", c.db.Path())
	return flushErr
}
