package kvdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const (
	minValueLogFileSize = 1 << 20
	maxValueLogFileSize = 1<<30 - 1
)

type Badger struct {
	db   *badger.DB
	path string
}

func openBadger(path string, opts Options) (*Badger, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating badger directory %s: %w", path, err)
	}
	options := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING)
	if size := opts.ValueLogFileSize; size > 0 {
		options = options.WithValueLogFileSize(clamp(size, minValueLogFileSize, maxValueLogFileSize))
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	return &Badger{db: db, path: path}, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (b *Badger) Path() string {
	return b.path
}

func (b *Badger) Get(k []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		// item values are only valid inside the transaction
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return val, err
}

func (b *Badger) Set(k, v []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (b *Badger) BatchSet(keys, values [][]byte) error {
	if len(keys) != len(values) {
		return errors.New("key value not the same length")
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i, key := range keys {
		if err := wb.Set(key, values[i]); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}
	return wb.Flush()
}

func (b *Badger) Delete(k []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

func (b *Badger) BatchDelete(keys [][]byte) error {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				return err
			}
			// commit what fits and continue in a fresh transaction
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = b.db.NewTransaction(true)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
	}
	return txn.Commit()
}

func (b *Badger) Has(k []byte) bool {
	var exists bool
	_ = b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		exists = err == nil
		return nil
	})
	return exists
}

func (b *Badger) IterKey(fn func(k []byte) error) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := fn(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (b *Badger) IterPrefix(prefix []byte, fn func(k, v []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) DropAll() error {
	return b.db.DropAll()
}

// Close runs a value-log GC pass before releasing the files.
func (b *Badger) Close() error {
	if b.db == nil {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			slog.Warn("badger value log gc failed", "path", b.path, "error", err)
		}
		break
	}
	return b.db.Close()
}
