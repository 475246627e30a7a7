// Package kvdb puts the embedded key/value engines that back the postings and
// citation stores behind one interface. Both engines are LSM/B+tree stores
// with their own file management; the stores only see byte keys and values.
package kvdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	BADGER = "badger"
	BOLT   = "bolt"
)

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// Engine is the key/value contract the segment stores are written against.
type Engine interface {
	Path() string
	// Get returns the value for k, or ErrKeyNotFound.
	Get(k []byte) ([]byte, error)
	Set(k, v []byte) error
	// BatchSet requires keys and values of the same length.
	BatchSet(keys, values [][]byte) error
	// Delete treats a missing key as success.
	Delete(k []byte) error
	BatchDelete(keys [][]byte) error
	Has(k []byte) bool
	// IterKey visits every key in order and returns how many were visited.
	IterKey(fn func(k []byte) error) (int64, error)
	// IterPrefix visits every key starting with prefix, in order, with its
	// value. Both slices are copies owned by fn.
	IterPrefix(prefix []byte, fn func(k, v []byte) error) error
	DropAll() error
	Close() error
}

// Options tunes an engine on open.
type Options struct {
	// ValueLogFileSize caps a single badger value-log file. Ignored by bolt.
	ValueLogFileSize int64
	// Bucket names the bolt bucket. Ignored by badger.
	Bucket string
}

// Open creates the parent directory if needed and opens an engine of the
// given kind at path.
func Open(kind string, path string, opts Options) (Engine, error) {
	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	switch {
	case os.IsNotExist(err):
		slog.Info("creating store directory", "path", parent)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", parent, err)
		}
	case err != nil:
		return nil, fmt.Errorf("inspecting store directory %s: %w", parent, err)
	case !info.IsDir():
		return nil, fmt.Errorf("store directory %s is a regular file", parent)
	}

	switch kind {
	case BADGER:
		return openBadger(path, opts)
	case BOLT:
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unknown kv engine %q", kind)
	}
}
