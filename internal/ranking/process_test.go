package ranking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
)

func posting(url string, hits, words uint32) index.Posting {
	return index.Posting{
		URLHash:   digest.MustParseURL(url).Hash(),
		WordCount: words,
		Word:      index.WordStats{HitCount: hits},
	}
}

func container(word string, ps ...index.Posting) *index.PostingContainer {
	c := index.NewContainer[digest.TermHash, index.Posting](digest.Word(word), len(ps))
	for _, p := range ps {
		c.Add(p)
	}
	return c
}

func TestParseQuery(t *testing.T) {
	c := condenser.New(condenser.Options{})
	q := ParseQuery("Search OR engine NOT spam -ads the search", c)
	assert.Equal(t, []string{"search", "engine"}, q.Terms)
	assert.Equal(t, []string{"spam", "ads"}, q.ExcludeTerms)
	assert.Equal(t, QueryOR, q.Type)

	p := NewProcess(q)
	assert.True(t, p.IncludeHashes().Has(digest.Word("engine")))
	assert.True(t, p.ExcludeHashes().Has(digest.Word("spam")))
	assert.False(t, p.IncludeHashes().Has(digest.Word("the")))
}

func TestAddLiveRejectsUnrequestedTerms(t *testing.T) {
	p := NewProcess(ParseQuery("alpha -beta", condenser.New(condenser.Options{})))

	assert.ErrorIs(t, p.AddLive(container("gamma"), true, "test", -1, time.Second), ErrNotRequested)
	assert.ErrorIs(t, p.AddLive(container("beta"), true, "test", -1, time.Second), ErrNotRequested)
	require.NoError(t, p.AddLive(container("alpha"), true, "test", -1, time.Second))

	p.Close()
	assert.ErrorIs(t, p.AddLive(container("alpha"), true, "test", -1, time.Second), ErrClosed)
}

func TestResultsRanksByTermFrequency(t *testing.T) {
	p := NewProcess(ParseQuery("alpha beta", condenser.New(condenser.Options{})))
	p.SetTotalDocs(10)
	require.NoError(t, p.AddLive(container("alpha",
		posting("http://a.example/", 5, 100),
		posting("http://b.example/", 1, 100),
		posting("http://c.example/", 9, 100),
	), false, "segment", 0, 0))
	require.NoError(t, p.AddLive(container("beta",
		posting("http://a.example/", 2, 100),
		posting("http://b.example/", 2, 100),
	), false, "segment", 0, 0))
	p.Finalize()

	got := p.Results(context.Background(), 10)
	require.Len(t, got, 2, "AND drops documents missing a term")
	assert.Equal(t, digest.MustParseURL("http://a.example/").Hash(), got[0].ID)
	assert.Greater(t, got[0].Score, got[1].Score)

	p.query.Type = QueryOR
	got = p.Results(context.Background(), 1)
	require.Len(t, got, 1)
}

func TestResultsWaitsForLiveBatch(t *testing.T) {
	p := NewProcess(ParseQuery("alpha", condenser.New(condenser.Options{})))
	require.NoError(t, p.AddLive(container("alpha", posting("http://a.example/", 1, 10)), true, "live", -1, 5*time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	var got []ScoredDoc
	go func() {
		defer wg.Done()
		got = p.Results(context.Background(), 10)
	}()
	time.Sleep(20 * time.Millisecond)
	p.Finalize()
	wg.Wait()

	require.Len(t, got, 1)
	assert.True(t, got[0].Live)
	assert.Equal(t, map[string]int{"live": 1}, p.Sources())
}

func TestLiveInjectionFromIndexing(t *testing.T) {
	store, err := fulltext.OpenSQLite("")
	require.NoError(t, err)
	seg := indexer.New(store, indexer.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { seg.Close() })
	require.NoError(t, seg.ConnectRWI(1000, 0))

	stored := &document.Document{URL: "http://stored.example/", Title: "stored", Text: "distributed search engines"}
	_, err = seg.StoreDocument(context.Background(), indexer.StoreRequest{
		URL: digest.MustParseURL(stored.URL), Document: stored, StoreToRWI: true,
	})
	require.NoError(t, err)

	p := NewProcess(ParseQuery("search -spam", seg.Condenser()))
	p.SetTotalDocs(10)
	require.NoError(t, p.AddStored(seg))

	live := &document.Document{URL: "http://live.example/", Title: "live", Text: "search search search"}
	_, err = seg.StoreDocument(context.Background(), indexer.StoreRequest{
		URL: digest.MustParseURL(live.URL), Document: live, Ranking: p, Source: "crawler", StoreToRWI: true,
	})
	require.NoError(t, err)

	got := p.Results(context.Background(), 10)
	require.Len(t, got, 2)
	assert.Equal(t, digest.MustParseURL(live.URL).Hash(), got[0].ID)
	assert.True(t, got[0].Live)
	assert.False(t, got[1].Live)
	assert.Equal(t, map[string]int{"segment": 1, "crawler": 1}, p.Sources())
}
