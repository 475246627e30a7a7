package kvdb

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "refs"

type Bolt struct {
	db     *bolt.DB
	path   string
	bucket []byte
}

func openBolt(path string, opts Options) (*Bolt, error) {
	bucket := opts.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt at %s: %w", path, err)
	}
	b := &Bolt{db: db, path: path, bucket: []byte(bucket)}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bolt bucket %s: %w", bucket, err)
	}
	return b, nil
}

func (b *Bolt) Path() string {
	return b.path
}

func (b *Bolt) Get(k []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get(k)
		if v == nil {
			return ErrKeyNotFound
		}
		// v is only valid for the life of the transaction
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

func (b *Bolt) Set(k, v []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put(k, v)
	})
}

func (b *Bolt) BatchSet(keys, values [][]byte) error {
	if len(keys) != len(values) {
		return errors.New("key value not the same length")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for i, key := range keys {
			if err := bk.Put(key, values[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Delete(k []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete(k)
	})
}

func (b *Bolt) BatchDelete(keys [][]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for _, key := range keys {
			if err := bk.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Has(k []byte) bool {
	var exists bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(b.bucket).Get(k) != nil
		return nil
	})
	return exists
}

func (b *Bolt) IterKey(fn func(k []byte) error) (int64, error) {
	var count int64
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, _ []byte) error {
			if err := fn(append([]byte(nil), k...)); err != nil {
				return err
			}
			count++
			return nil
		})
	})
	return count, err
}

func (b *Bolt) IterPrefix(prefix []byte, fn func(k, v []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(b.bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(append([]byte(nil), k...), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) DropAll() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
}

func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
