package fulltext

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/redis"
)

const cachePrefix = "urlmd:"

// Cache is the subset of the redis client the read-through cache needs. Get
// returns redis.ErrMiss for a missing key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) (int64, error)
}

var _ Cache = (*redis.Client)(nil)

// CachedStore serves Get from a cache in front of another store. Cache
// failures are logged and fall through to the backing store.
type CachedStore struct {
	Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger

	// writes counts completed Put, Remove and Clear calls. A read-through
	// fill that overlapped one of them may hold a stale record and is
	// dropped again.
	writes atomic.Uint64
}

func NewCachedStore(backing Store, cache Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:  backing,
		cache:  cache,
		ttl:    ttl,
		logger: logger.WithComponent("fulltext-cache"),
	}
}

func cacheKey(id digest.URLHash) string {
	return cachePrefix + id.String()
}

func (s *CachedStore) Get(ctx context.Context, id digest.URLHash) (*Record, error) {
	key := cacheKey(id)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var r Record
		if err := json.Unmarshal(cached, &r); err == nil {
			return &r, nil
		}
		s.logger.Warn("dropping undecodable cache entry", "key", key)
		_ = s.cache.Del(ctx, key)
	} else if !errors.Is(err, redis.ErrMiss) {
		s.logger.Warn("cache read failed", "key", key, "error", err)
	}

	before := s.writes.Load()
	r, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(r); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn("cache write failed", "key", key, "error", err)
		} else if s.writes.Load() != before {
			s.logger.Debug("dropping fill raced by a write", "key", key)
			_ = s.cache.Del(ctx, key)
		}
	}
	return r, nil
}

func (s *CachedStore) Put(ctx context.Context, r *Record) error {
	if err := s.Store.Put(ctx, r); err != nil {
		return err
	}
	s.writes.Add(1)
	s.invalidate(ctx, r.ID)
	return nil
}

func (s *CachedStore) Remove(ctx context.Context, id digest.URLHash) error {
	if err := s.Store.Remove(ctx, id); err != nil {
		return err
	}
	s.writes.Add(1)
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.Store.Clear(ctx); err != nil {
		return err
	}
	s.writes.Add(1)
	if n, err := s.cache.DelPrefix(ctx, cachePrefix); err != nil {
		s.logger.Warn("cache flush failed", "error", err)
	} else {
		s.logger.Info("cache flushed", "keys", n)
	}
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, id digest.URLHash) {
	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("cache invalidation failed", "id", id, "error", err)
	}
}
