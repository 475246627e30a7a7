package index

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/kvdb"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

func openEngine(t *testing.T, kind string) kvdb.Engine {
	t.Helper()
	db, err := kvdb.Open(kind, filepath.Join(t.TempDir(), "cell", kind), kvdb.Options{})
	require.NoError(t, err)
	return db
}

func posting(url string) Posting {
	return Posting{URLHash: digest.MustParseURL(url).Hash(), WordCount: 3}
}

func TestCellAppendCountAcrossFlush(t *testing.T) {
	for _, kind := range []string{kvdb.BADGER, kvdb.BOLT} {
		t.Run(kind, func(t *testing.T) {
			cell := NewPostingCell(openEngine(t, kind), "text.index", CellOptions{BufferBudget: 2})
			defer cell.Close()

			term := digest.Word("segment")
			for _, u := range []string{"http://a.org/1", "http://a.org/2", "http://b.org/3"} {
				require.NoError(t, cell.Append(term, posting(u)))
			}
			assert.Equal(t, 3, cell.Count(term))
			assert.Equal(t, 1, cell.BufferSize())

			require.NoError(t, cell.Flush())
			assert.Equal(t, 0, cell.BufferSize())
			assert.Equal(t, 3, cell.Count(term))

			got, err := cell.Get(term)
			require.NoError(t, err)
			refs := got.References()
			require.Len(t, refs, 3)
			assert.Equal(t, digest.MustParseURL("http://a.org/1").Hash(), refs[0].URLHash)
			assert.Equal(t, digest.MustParseURL("http://b.org/3").Hash(), refs[2].URLHash)
		})
	}
}

func TestCellRemoveByOwner(t *testing.T) {
	cell := NewPostingCell(openEngine(t, kvdb.BADGER), "text.index", CellOptions{BufferBudget: 4})
	defer cell.Close()

	owner := posting("http://a.org/doc")
	other := posting("http://b.org/doc")
	words := digest.Words([]string{"alpha", "beta", "gamma"})
	for _, w := range words {
		require.NoError(t, cell.Append(w, owner))
		require.NoError(t, cell.Append(w, other))
	}
	// part of the rows are on disk, part still buffered
	require.Greater(t, cell.BufferSize(), 0)

	n, err := cell.Remove(owner.URLHash, words)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, w := range words {
		assert.Equal(t, 1, cell.Count(w))
	}

	n, err = cell.Remove(owner.URLHash, words)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCellConcurrentAppends(t *testing.T) {
	cell := NewCitationCell(openEngine(t, kvdb.BOLT), "citation.index", CellOptions{BufferBudget: 16})
	defer cell.Close()

	target := digest.MustParseURL("http://target.org/").Hash()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, cell.Append(target, Citation{Modified: int64(j)}))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, cell.Count(target))
}

func TestCellClearAndClose(t *testing.T) {
	cell := NewPostingCell(openEngine(t, kvdb.BOLT), "text.index", CellOptions{BufferBudget: 1})
	term := digest.Word("clear")
	require.NoError(t, cell.Append(term, posting("http://a.org/")))
	require.NoError(t, cell.Append(term, posting("http://b.org/")))
	assert.Equal(t, 1, cell.SizesMax())

	require.NoError(t, cell.Clear())
	assert.Zero(t, cell.Count(term))
	assert.Zero(t, cell.SizesMax())

	require.NoError(t, cell.Close())
	require.NoError(t, cell.Close())
	err := cell.Append(term, posting("http://c.org/"))
	assert.ErrorIs(t, err, apperrors.ErrDisconnected)
	assert.Zero(t, cell.Count(term))
}

type failingEngine struct {
	kvdb.Engine
	mu   sync.Mutex
	fail bool
	// failPrefix rejects any batch holding a key with this prefix.
	failPrefix []byte
}

func (f *failingEngine) BatchSet(keys, values [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	for _, k := range keys {
		if f.failPrefix != nil && bytes.HasPrefix(k, f.failPrefix) {
			return errors.New("value too large")
		}
	}
	return f.Engine.BatchSet(keys, values)
}

func TestCellCapacityExceeded(t *testing.T) {
	db := &failingEngine{Engine: openEngine(t, kvdb.BOLT), fail: true}
	cell := NewPostingCell(db, "text.index", CellOptions{BufferBudget: 1})
	defer cell.Close()

	term := digest.Word("full")
	require.NoError(t, cell.Append(term, posting("http://a.org/")))

	err := cell.Append(term, posting("http://b.org/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.Equal(t, "capacity_exceeded", apperrors.Kind(err))
	// the buffered row survives the failed flush
	assert.Equal(t, 1, cell.Count(term))

	db.mu.Lock()
	db.fail = false
	db.mu.Unlock()
	require.NoError(t, cell.Append(term, posting("http://b.org/")))
	assert.Equal(t, 2, cell.Count(term))
}

func TestCellFailingKeyDoesNotBlockOthers(t *testing.T) {
	bad := digest.Word("bad")
	db := &failingEngine{Engine: openEngine(t, kvdb.BOLT), failPrefix: keyBytes(bad)}
	cell := NewPostingCell(db, "text.index", CellOptions{BufferBudget: 4})
	defer cell.Close()

	good := digest.Word("good")
	require.NoError(t, cell.Append(bad, posting("http://a.org/")))
	for i := 0; i < 3; i++ {
		require.NoError(t, cell.Append(good, posting(fmt.Sprintf("http://b.org/%d", i))))
	}

	err := cell.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreIO)
	// only the rejected key stays buffered
	assert.Equal(t, 1, cell.BufferSize())
	assert.Equal(t, 3, cell.Count(good))
	assert.Equal(t, 1, cell.Count(bad))

	require.NoError(t, cell.Append(digest.Word("unrelated"), posting("http://c.org/")))
	assert.Equal(t, 1, cell.Count(digest.Word("unrelated")))
}

func TestCellLongListsStayWritable(t *testing.T) {
	db, err := kvdb.Open(kvdb.BADGER, filepath.Join(t.TempDir(), "cell", "badger"), kvdb.Options{ValueLogFileSize: 1 << 20})
	require.NoError(t, err)
	cell := NewPostingCell(db, "text.index", CellOptions{BufferBudget: 1000})
	defer cell.Close()

	const docs = 20000
	for i := 0; i < docs; i++ {
		p := Posting{URLHash: digest.MustParseURL(fmt.Sprintf("http://a.org/%d", i)).Hash()}
		require.NoError(t, cell.Append(digest.CatchallHash, p), "document %d", i)
	}
	require.NoError(t, cell.Append(digest.Word("unrelated"), posting("http://b.org/")))
	require.NoError(t, cell.Flush())

	assert.Equal(t, docs, cell.Count(digest.CatchallHash))
	assert.Equal(t, 1, cell.Count(digest.Word("unrelated")))
	assert.Equal(t, 2, cell.SizesMax())

	first := digest.MustParseURL("http://a.org/0").Hash()
	n, err := cell.Remove(first, []digest.TermHash{digest.CatchallHash})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, docs-1, cell.Count(digest.CatchallHash))
}

func TestCellChunksLargeFlushAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell", "bolt")
	db, err := kvdb.Open(kvdb.BOLT, path, kvdb.Options{})
	require.NoError(t, err)
	cell := NewCitationCell(db, "citation.index", CellOptions{BufferBudget: 3*maxChunkRows + 10})

	target := digest.MustParseURL("http://target.org/").Hash()
	rows := 2*maxChunkRows + 5
	for i := 0; i < rows; i++ {
		require.NoError(t, cell.Append(target, Citation{Modified: int64(i)}))
	}
	require.NoError(t, cell.Close())

	db, err = kvdb.Open(kvdb.BOLT, path, kvdb.Options{})
	require.NoError(t, err)
	cell = NewCitationCell(db, "citation.index", CellOptions{})
	defer cell.Close()

	got, err := cell.Get(target)
	require.NoError(t, err)
	require.Equal(t, rows, got.Len())
	// chunks come back in append order
	assert.EqualValues(t, 0, got.References()[0].Modified)
	assert.EqualValues(t, rows-1, got.References()[rows-1].Modified)

	require.NoError(t, cell.Append(target, Citation{Modified: -1}))
	require.NoError(t, cell.Flush())
	got, err = cell.Get(target)
	require.NoError(t, err)
	assert.EqualValues(t, -1, got.References()[rows].Modified)
}

func TestPostingCodecKeepsEveryField(t *testing.T) {
	p := Posting{
		URLHash:       digest.MustParseURL("http://example.org/a/b").Hash(),
		URLLength:     22,
		URLComps:      4,
		TitleLength:   9,
		WordCount:     120,
		SentenceCount: 7,
		LastModified:  1700000000000,
		Indexed:       1700000001234,
		DocType:       'h',
		LinksSame:     3,
		LinksOther:    5,
		Word:          WordStats{HitCount: 2, PosInText: 14, PosInPhrase: 3, PhraseCount: 1, Flags: FlagInTitle | FlagInAnchor},
	}
	p.SetLanguage("de")

	row := make([]byte, PostingRowSize)
	PostingCodec{}.Encode(row, p)
	assert.Equal(t, p, PostingCodec{}.Decode(row))
	assert.Equal(t, "de", p.LanguageCode())
	assert.True(t, p.Word.Flags.Has(FlagInTitle))
	assert.False(t, p.Word.Flags.Has(FlagInURL))
}

func TestWithWordCopiesTemplate(t *testing.T) {
	template := Posting{WordCount: 10}
	a := template.WithWord(WordStats{HitCount: 1})
	b := template.WithWord(WordStats{HitCount: 2})
	assert.EqualValues(t, 1, a.Word.HitCount)
	assert.EqualValues(t, 2, b.Word.HitCount)
	assert.Zero(t, template.Word.HitCount)
}
