package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/kvdb"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/loader"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// failingPutStore rejects every Put and delegates everything else.
type failingPutStore struct {
	fulltext.Store
}

func (failingPutStore) Put(context.Context, *fulltext.Record) error {
	return apperrors.New(apperrors.ErrStoreIO, fulltext.StoreName, "put", errors.New("disk full"))
}

// stubLoader serves documents from a map keyed by normal URL.
type stubLoader struct {
	mu    sync.Mutex
	docs  map[string]*document.Document
	calls int
	last  loader.Request
}

func (l *stubLoader) Load(_ context.Context, req loader.Request) (*loader.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = req
	doc, ok := l.docs[req.URL.Normal()]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "loader", "load", nil)
	}
	return &loader.Response{Document: doc}, nil
}

// blockingLoader never answers before its context ends.
type blockingLoader struct{}

func (blockingLoader) Load(ctx context.Context, _ loader.Request) (*loader.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type liveCall struct {
	term     digest.TermHash
	live     bool
	source   string
	priority int
	budget   time.Duration
}

// recordingRanking accepts everything and records what it was given.
type recordingRanking struct {
	include, exclude digest.HashSet
	calls            []liveCall
	finalized        int
}

func (r *recordingRanking) IncludeHashes() digest.HashSet { return r.include }
func (r *recordingRanking) ExcludeHashes() digest.HashSet { return r.exclude }
func (r *recordingRanking) Finalize()                     { r.finalized++ }

func (r *recordingRanking) AddLive(c *index.PostingContainer, live bool, source string, priority int, budget time.Duration) error {
	r.calls = append(r.calls, liveCall{c.Key(), live, source, priority, budget})
	return nil
}

func newTestSegment(t *testing.T, store fulltext.Store) *Segment {
	t.Helper()
	if store == nil {
		sqlite, err := fulltext.OpenSQLite("")
		require.NoError(t, err)
		store = sqlite
	}
	seg := New(store, Options{
		DataDir:        t.TempDir(),
		PostingsEngine: kvdb.BOLT,
		Now:            func() time.Time { return testNow },
	})
	require.NoError(t, seg.ConnectRWI(1000, 0))
	require.NoError(t, seg.ConnectCitation(1000, 0))
	t.Cleanup(func() { seg.Close() })
	return seg
}

func testDocument(url, title, text string, outlinks ...string) *document.Document {
	doc := &document.Document{URL: url, Title: title, Text: text, Format: "text/html", Charset: "utf-8"}
	for _, l := range outlinks {
		doc.OutboundLinks = append(doc.OutboundLinks, document.Anchor{URL: l})
	}
	return doc
}

func store(t *testing.T, seg *Segment, doc *document.Document, header *document.ResponseHeader) *fulltext.Record {
	t.Helper()
	record, err := seg.StoreDocument(context.Background(), StoreRequest{
		URL:        digest.MustParseURL(doc.URL),
		Header:     header,
		Document:   doc,
		StoreToRWI: true,
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	return record
}

func TestStoreDocumentScenario(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://u.example/page")
	v := digest.MustParseURL("http://v.example/")
	modified := testNow.Add(-48 * time.Hour)

	record := store(t, seg, testDocument(u.Normal(), "Test", "test", v.Normal()),
		&document.ResponseHeader{Status: 200, LastModified: modified})

	assert.Equal(t, u.Hash(), record.ID)
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("test")))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.CatchallHash))

	citations, err := seg.CitationIndex().Get(v.Hash())
	require.NoError(t, err)
	assert.Equal(t, []index.Citation{{Citing: u.Hash(), Modified: modified.UnixMilli()}}, citations.References())

	got, err := seg.Fulltext().Get(context.Background(), u.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Test", got.Title)
	assert.True(t, seg.Exists(context.Background(), u.Hash()))
	assert.Equal(t, int64(1), seg.URLCount(context.Background()))
}

func TestStoreDocumentContinuesWhenFulltextFails(t *testing.T) {
	backing, err := fulltext.OpenSQLite("")
	require.NoError(t, err)
	seg := newTestSegment(t, failingPutStore{Store: backing})
	u := digest.MustParseURL("http://u.example/page")
	v := digest.MustParseURL("http://v.example/")

	record := store(t, seg, testDocument(u.Normal(), "Test", "test", v.Normal()), nil)

	assert.Equal(t, u.Hash(), record.ID)
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("test")))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.CatchallHash))
	citations, err := seg.CitationIndex().Get(v.Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, citations.Len())
	assert.False(t, seg.Exists(context.Background(), u.Hash()))
}

func TestStoreDocumentCountsEveryWordOnce(t *testing.T) {
	seg := newTestSegment(t, nil)
	doc := testDocument("http://a.example/", "Indexing", "Indexing stores postings. Postings carry statistics.")
	stats := seg.Condenser().Condense(doc)
	require.NotEmpty(t, stats.Words)

	store(t, seg, doc, nil)
	for word := range stats.Words {
		assert.Equal(t, 1, seg.PostingsCountOf(digest.Word(word)), word)
	}
	assert.Equal(t, 1, seg.PostingsCountOf(digest.CatchallHash))

	// storing again appends a second posting per word
	store(t, seg, doc, nil)
	for word := range stats.Words {
		assert.Equal(t, 2, seg.PostingsCountOf(digest.Word(word)), word)
	}
	assert.Equal(t, 2, seg.PostingsCountOf(digest.CatchallHash))
}

func TestStoreDocumentPostingFields(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://a.example/docs/intro")
	doc := testDocument(u.Normal(), "", "search engines index words", "http://b.example/")
	doc.InboundLinks = []document.Anchor{{URL: "/docs/next"}, {URL: "/docs/next"}}
	store(t, seg, doc, nil)

	c, err := seg.TermIndex().Get(digest.Word("search"))
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	p := c.References()[0]
	assert.Equal(t, u.Hash(), p.URLHash)
	assert.Equal(t, uint32(len(u.Normal())), p.TitleLength, "empty title falls back to the url length")
	assert.Equal(t, uint32(4), p.WordCount)
	assert.Equal(t, uint32(2), p.LinksSame)
	assert.Equal(t, uint32(1), p.LinksOther)
	assert.Equal(t, testNow.UnixMilli(), p.LastModified)
	assert.Equal(t, document.DocTypeHTML, p.DocType)
	assert.Equal(t, uint32(1), p.Word.HitCount)

	// duplicate anchors produce one citation per target
	next, err := seg.CitationIndex().Get(digest.MustParseURL("http://a.example/docs/next").Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, next.Len())
}

func TestStoreDocumentWithoutRWI(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://u.example/")
	v := digest.MustParseURL("http://v.example/")
	_, err := seg.StoreDocument(context.Background(), StoreRequest{
		URL:      u,
		Document: testDocument(u.Normal(), "Test", "test", v.Normal()),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, seg.PostingsCountOf(digest.Word("test")))
	assert.Equal(t, 0, seg.PostingsCountOf(digest.CatchallHash))
	assert.True(t, seg.Exists(context.Background(), u.Hash()))
	citations, err := seg.CitationIndex().Get(v.Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, citations.Len())
}

func TestStoreDocumentSearchOnlyWritesNoCatchall(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://u.example/")
	ranking := &recordingRanking{
		include: digest.NewHashSet(digest.Word("search")),
		exclude: digest.NewHashSet(),
	}
	_, err := seg.StoreDocument(context.Background(), StoreRequest{
		URL:      u,
		Document: testDocument(u.Normal(), "Search", "search only"),
		Ranking:  ranking,
	})
	require.NoError(t, err)

	require.Len(t, ranking.calls, 1)
	assert.Equal(t, 0, seg.PostingsCountOf(digest.Word("search")))
	assert.Equal(t, 0, seg.PostingsCountOf(digest.CatchallHash))
}

func TestStoreDocumentSkipsDisconnectedStores(t *testing.T) {
	seg := newTestSegment(t, nil)
	seg.DisconnectRWI()
	seg.DisconnectCitation()
	assert.False(t, seg.ConnectedRWI())
	assert.False(t, seg.ConnectedCitation())

	u := digest.MustParseURL("http://u.example/")
	record := store(t, seg, testDocument(u.Normal(), "Test", "test", "http://v.example/"), nil)
	assert.Equal(t, u.Hash(), record.ID)
	assert.True(t, seg.Exists(context.Background(), u.Hash()))
	assert.Equal(t, 0, seg.PostingsCount())

	err := seg.StorePosting(digest.Word("x"), index.Posting{})
	assert.ErrorIs(t, err, apperrors.ErrDisconnected)

	// reconnecting reopens the same files
	require.NoError(t, seg.ConnectRWI(1000, 0))
	assert.Equal(t, 0, seg.PostingsCountOf(digest.Word("test")))
}

func TestStoreDocumentRejectsMissingInput(t *testing.T) {
	seg := newTestSegment(t, nil)
	_, err := seg.StoreDocument(context.Background(), StoreRequest{Document: &document.Document{}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = seg.StoreDocument(context.Background(), StoreRequest{URL: digest.MustParseURL("http://a.example/")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStoreDocumentInjectsLivePostings(t *testing.T) {
	seg := newTestSegment(t, nil)
	ranking := &recordingRanking{
		include: digest.NewHashSet(digest.Word("search"), digest.Word("spam")),
		exclude: digest.NewHashSet(digest.Word("spam")),
	}
	u := digest.MustParseURL("http://a.example/")
	_, err := seg.StoreDocument(context.Background(), StoreRequest{
		URL:        u,
		Document:   testDocument(u.Normal(), "", "search engines and spam filters"),
		Ranking:    ranking,
		Source:     "crawler",
		StoreToRWI: true,
	})
	require.NoError(t, err)

	require.Len(t, ranking.calls, 1)
	call := ranking.calls[0]
	assert.Equal(t, digest.Word("search"), call.term)
	assert.True(t, call.live)
	assert.Equal(t, "crawler", call.source)
	assert.Equal(t, LivePriority, call.priority)
	assert.Equal(t, LiveBudget, call.budget)
	assert.Equal(t, 1, ranking.finalized)
}

func TestRemoveAllURLReferences(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://a.example/page")
	other := digest.MustParseURL("http://b.example/page")
	doc := testDocument(u.Normal(), "Removal", "removal drops postings")
	store(t, seg, doc, nil)
	store(t, seg, testDocument(other.Normal(), "Other", "postings stay"), nil)
	require.NoError(t, seg.TermIndex().Flush())

	words := len(seg.Condenser().Condense(doc).Words)
	l := &stubLoader{docs: map[string]*document.Document{u.Normal(): doc}}

	removed := seg.RemoveAllURLReferences(context.Background(), u.Hash(), l, loader.IfExist)
	assert.Equal(t, words, removed)
	assert.Equal(t, 0, seg.PostingsCountOf(digest.Word("removal")))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("postings")))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.CatchallHash))
	assert.False(t, seg.Exists(context.Background(), u.Hash()))
	assert.True(t, seg.Exists(context.Background(), other.Hash()))
	assert.True(t, l.last.ForceReload)
}

func TestRemoveAllURLReferencesMissingRecord(t *testing.T) {
	seg := newTestSegment(t, nil)
	kept := digest.MustParseURL("http://b.example/page")
	store(t, seg, testDocument(kept.Normal(), "Kept", "untouched postings"), nil)
	before := seg.PostingsCountOf(digest.Word("untouched"))
	require.Equal(t, 1, before)
	buffered := seg.PostingsBufferSize()

	l := &stubLoader{}
	removed := seg.RemoveAllURLReferences(context.Background(), digest.MustParseURL("http://a.example/").Hash(), l, loader.IfExist)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 0, l.calls, "nothing is loaded for an unknown url")

	assert.Equal(t, before, seg.PostingsCountOf(digest.Word("untouched")))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.CatchallHash))
	assert.Equal(t, buffered, seg.PostingsBufferSize())
	assert.True(t, seg.Exists(context.Background(), kept.Hash()))
	n, err := seg.Fulltext().Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRemoveAllURLReferencesOutlivesCallerDeadline(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://a.example/slow")
	store(t, seg, testDocument(u.Normal(), "Slow", "slow origin"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	removed := seg.RemoveAllURLReferences(ctx, u.Hash(), blockingLoader{}, loader.IfExist)
	assert.Equal(t, 0, removed)
	assert.False(t, seg.Exists(context.Background(), u.Hash()), "record is removed after the deadline passed")
}

func TestRemoveAllURLReferencesInterruptedBeforeStart(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://a.example/page")
	store(t, seg, testDocument(u.Normal(), "Page", "still here"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &stubLoader{}
	assert.Equal(t, 0, seg.RemoveAllURLReferences(ctx, u.Hash(), l, loader.IfExist))
	assert.Equal(t, 0, l.calls)
	assert.True(t, seg.Exists(context.Background(), u.Hash()))
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("still")))
}

func TestRemoveAllURLReferencesDegraded(t *testing.T) {
	seg := newTestSegment(t, nil)
	u := digest.MustParseURL("http://a.example/page")
	store(t, seg, testDocument(u.Normal(), "Gone", "vanished document"), nil)

	removed := seg.RemoveAllURLReferences(context.Background(), u.Hash(), &stubLoader{}, loader.IfExist)
	assert.Equal(t, 0, removed)
	assert.False(t, seg.Exists(context.Background(), u.Hash()), "record is removed even when the document cannot be loaded")
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("vanished")), "postings stay behind")
}

func TestRemoveAllURLReferencesSet(t *testing.T) {
	seg := newTestSegment(t, nil)
	l := &stubLoader{docs: map[string]*document.Document{}}
	var ids []digest.URLHash
	for _, raw := range []string{"http://a.example/", "http://b.example/", "http://c.example/"} {
		doc := testDocument(raw, "", "alpha beta")
		store(t, seg, doc, nil)
		ids = append(ids, digest.MustParseURL(raw).Hash())
		l.docs[raw] = doc
	}
	// the second document can no longer be loaded
	delete(l.docs, "http://b.example/")

	removed := seg.RemoveAllURLReferencesSet(context.Background(), append(ids, ids[0]), l, loader.IfExist)
	assert.Equal(t, 4, removed)
	for _, id := range ids {
		assert.False(t, seg.Exists(context.Background(), id))
	}
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("alpha")))
}

func TestURLSelector(t *testing.T) {
	seg := newTestSegment(t, nil)
	for _, raw := range []string{
		"http://a.example/docs/one",
		"http://a.example/docs/two",
		"http://a.example/blog/post",
		"http://b.example/docs/one",
	} {
		store(t, seg, testDocument(raw, "", "content"), nil)
	}

	it, err := seg.URLSelector(context.Background(), "http://a.example/docs/")
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, it.URL().Normal())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.ElementsMatch(t, []string{"http://a.example/docs/one", "http://a.example/docs/two"}, got)
	assert.False(t, it.Next(), "the sequence is not restartable")

	it, err = seg.URLSelector(context.Background(), "http://a.example")
	require.NoError(t, err)
	n := 0
	for it.Next() {
		n++
	}
	assert.Equal(t, 3, n)
	require.NoError(t, it.Close())

	_, err = seg.URLSelector(context.Background(), "not a url")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestURLSelectorStopsOnClose(t *testing.T) {
	seg := newTestSegment(t, nil)
	for _, raw := range []string{"http://a.example/1", "http://a.example/2", "http://a.example/3"} {
		store(t, seg, testDocument(raw, "", "content"), nil)
	}
	it, err := seg.URLSelector(context.Background(), "http://a.example/")
	require.NoError(t, err)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	require.NoError(t, it.Close())
}

func TestURLSelectorStopsOnCancel(t *testing.T) {
	seg := newTestSegment(t, nil)
	store(t, seg, testDocument("http://a.example/1", "", "content"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := seg.URLSelector(ctx, "http://a.example/")
	require.NoError(t, err)
	for it.Next() {
	}
	assert.NoError(t, it.Err())
	require.NoError(t, it.Close())
}

func TestQueryCount(t *testing.T) {
	seg := newTestSegment(t, nil)
	store(t, seg, testDocument("http://a.example/", "", "segment storage"), nil)

	assert.Equal(t, 2, seg.QueryCount(context.Background(), "segment"), "one posting plus one fulltext match")
	for _, w := range []string{"site:segment", "two words", "a/b", ""} {
		assert.Equal(t, 0, seg.QueryCount(context.Background(), w), w)
	}
}

func TestClear(t *testing.T) {
	seg := newTestSegment(t, nil)
	v := digest.MustParseURL("http://v.example/")
	store(t, seg, testDocument("http://a.example/", "", "segment storage", v.Normal()), nil)

	seg.Clear(context.Background())
	assert.Equal(t, 0, seg.PostingsCountOf(digest.Word("segment")))
	assert.Equal(t, int64(0), seg.URLCount(context.Background()))
	assert.Equal(t, 0, seg.CitationIndex().Count(v.Hash()))
}

func TestFlushLoopDrainsBuffers(t *testing.T) {
	seg := newTestSegment(t, nil)
	store(t, seg, testDocument("http://a.example/", "", "buffered words"), nil)
	require.Positive(t, seg.PostingsBufferSize())

	ctx, cancel := context.WithCancel(context.Background())
	seg.StartFlushLoop(ctx, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return seg.PostingsBufferSize() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, 1, seg.PostingsCountOf(digest.Word("buffered")))
}

func TestConcurrentStoreDocument(t *testing.T) {
	seg := newTestSegment(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := "http://a.example/" + string(rune('a'+i))
			_, err := seg.StoreDocument(context.Background(), StoreRequest{
				URL:        digest.MustParseURL(raw),
				Document:   testDocument(raw, "", "shared words"),
				StoreToRWI: true,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, seg.PostingsCountOf(digest.Word("shared")))
	assert.Equal(t, 20, seg.PostingsCountOf(digest.CatchallHash))
}

func TestVoteLanguage(t *testing.T) {
	tests := []struct {
		name                    string
		statistic, metadata, tl string
		url                     string
		want                    string
	}{
		{"no statistic uses metadata", "", "fr", "de", "http://a.de/", "fr"},
		{"no statistic no metadata uses tld", "", "", "de", "http://a.de/", "de"},
		{"statistic confirmed by path code", "en", "", "de", "http://a.de/en/page", "en"},
		{"statistic confirmed by language name", "en", "", "de", "http://a.de/English/page", "en"},
		{"statistic unconfirmed falls back to tld", "en", "", "de", "http://a.de/page", "de"},
		{"statistic matching tld", "de", "", "de", "http://a.de/page", "de"},
		{"statistic agrees with metadata", "en", "en", "de", "http://a.de/", "en"},
		{"statistic agrees with tld", "de", "en", "de", "http://a.de/", "de"},
		{"metadata agrees with tld", "fr", "de", "de", "http://a.de/", "de"},
		{"three-way disagreement uses metadata", "en", "fr", "de", "http://a.de/", "fr"},
		{"tags are reduced to their base", "en", "EN-us", "de", "http://a.de/", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VoteLanguage(tt.statistic, tt.metadata, tt.tl, tt.url))
		})
	}
}
