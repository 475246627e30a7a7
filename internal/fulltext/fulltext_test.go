package fulltext

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/redis"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func record(t *testing.T, raw, title, text string) *Record {
	t.Helper()
	u := digest.MustParseURL(raw)
	doc := &document.Document{URL: raw, Title: title, Text: text, Format: "text/html"}
	b := Builder{Now: func() time.Time { return fixedNow }}
	return b.Build(u, document.CrawlProfile{Name: "test"}, nil, doc, nil, nil, "en")
}

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "text.urlmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	r := record(t, "http://example.org/page", "Example Page", "alpha beta gamma")
	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "http://example.org/page", got.URL)
	assert.Equal(t, "Example Page", got.Title)
	assert.True(t, fixedNow.Equal(got.LastModified))

	ok, err := s.Exists(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Put replaces
	r.Title = "Renamed"
	require.NoError(t, s.Put(ctx, r))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.Remove(ctx, r.ID))
	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	ok, err = s.Exists(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Remove(ctx, r.ID))
}

func TestSQLiteStoreQueryCount(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Put(ctx, record(t, "http://a.org/1", "Go", "concurrency patterns")))
	require.NoError(t, s.Put(ctx, record(t, "http://a.org/2", "Rust", "ownership patterns")))

	n, err := s.QueryCount(ctx, "patterns")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.QueryCount(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.QueryCount(ctx, `say "hi" OR`)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStoreHostIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, u := range []string{"http://a.org/1", "http://a.org/2", "http://b.org/1"} {
		require.NoError(t, s.Put(ctx, record(t, u, "", "")))
	}

	var urls []string
	err := s.HostIDs(ctx, digest.HostHash("a.org"), func(id digest.URLHash) error {
		// the callback may use the store while the scan is running
		r, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		urls = append(urls, r.URL)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://a.org/1", "http://a.org/2"}, urls)
}

func TestSQLiteStoreClearAndClose(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Put(ctx, record(t, "http://a.org/", "", "")))
	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Close())
	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, apperrors.ErrDisconnected)
}

func TestBuilderFillsRecord(t *testing.T) {
	u := digest.MustParseURL("http://example.org/de/seite")
	ref := digest.MustParseURL("http://other.org/")
	doc := &document.Document{
		Title:         "  Seite ",
		Text:          strings.Repeat("ä", 10),
		Format:        "text/html; charset=utf-8",
		InboundLinks:  []document.Anchor{{URL: "http://example.org/x"}},
		OutboundLinks: []document.Anchor{{URL: "http://b.org/"}, {URL: "http://c.org/"}},
	}
	stats := &condenser.Result{WordCount: 12, SentenceCount: 2}
	header := &document.ResponseHeader{Status: 200, LastModified: fixedNow.Add(time.Hour)}

	b := Builder{MaxTextLength: 5, Now: func() time.Time { return fixedNow }}
	r := b.Build(u, document.CrawlProfile{Name: "p", Collection: "user"}, header, doc, stats, ref, "de")

	assert.Equal(t, u.Hash(), r.ID)
	assert.Equal(t, "Seite", r.Title)
	assert.Equal(t, "h", r.DocType)
	assert.Equal(t, "ää", r.Text, "truncation keeps runes whole")
	assert.Equal(t, 1, r.LinksSame)
	assert.Equal(t, 2, r.LinksOther)
	assert.Equal(t, 12, r.WordCount)
	assert.Equal(t, ref.Hash().String(), r.Referrer)
	assert.Equal(t, "user", r.Collection)
	assert.Equal(t, fixedNow, r.LastModified, "future modification dates are clipped")
	assert.Equal(t, u.HostID(), r.HostID)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if !ok {
		return nil, redis.ErrMiss
	}
	return v, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memoryCache) DelPrefix(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func TestCachedStoreReadThroughAndInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	s := NewCachedStore(openStore(t), cache, time.Minute)

	r := record(t, "http://example.org/", "First", "")
	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)
	assert.Contains(t, cache.data, cacheKey(r.ID))

	r.Title = "Second"
	require.NoError(t, s.Put(ctx, r))
	assert.NotContains(t, cache.data, cacheKey(r.ID))
	got, err = s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title)

	require.NoError(t, s.Remove(ctx, r.ID))
	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.Put(ctx, r))
	_, err = s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, cache.data)
}

// gatedStore pauses the first Get between reading the record and returning it.
type gatedStore struct {
	Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, id digest.URLHash) (*Record, error) {
	r, err := g.Store.Get(ctx, id)
	g.once.Do(func() {
		close(g.reached)
		<-g.release
	})
	return r, err
}

func TestCachedStoreFillRacingRemove(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	backing := &gatedStore{Store: openStore(t), reached: make(chan struct{}), release: make(chan struct{})}
	s := NewCachedStore(backing, cache, time.Minute)

	r := record(t, "http://example.org/raced", "Raced", "")
	require.NoError(t, s.Put(ctx, r))

	done := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, r.ID)
		done <- err
	}()
	<-backing.reached
	require.NoError(t, s.Remove(ctx, r.ID))
	close(backing.release)
	require.NoError(t, <-done)

	cache.mu.Lock()
	assert.NotContains(t, cache.data, cacheKey(r.ID))
	cache.mu.Unlock()
	_, err := s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
