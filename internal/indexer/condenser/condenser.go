// Package condenser derives the text statistics of a parsed document: the
// word set with per-word hit counts, positions and flags, the word and
// sentence counts, and a statistically guessed language.
//
// The same Condenser must be used for indexing and for deletion so the term
// set recomputed from a re-loaded document matches the one that was stored.
package condenser

import (
	"sort"

	"github.com/RadhiFadlillah/whatlanggo"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
)

type Options struct {
	// MinWordLength drops shorter words. Defaults to 2.
	MinWordLength int
	// Stem enables the Snowball English stemmer. Off by default so that
	// indexed words match what users type.
	Stem bool
	// LanguageMinWords is the word count below which no statistical language
	// is guessed. Defaults to 10.
	LanguageMinWords int
}

type Condenser struct {
	opts Options
}

func New(opts Options) *Condenser {
	if opts.MinWordLength <= 0 {
		opts.MinWordLength = 2
	}
	if opts.LanguageMinWords <= 0 {
		opts.LanguageMinWords = 10
	}
	return &Condenser{opts: opts}
}

// Result is the statistics of one document.
type Result struct {
	Words         map[string]index.WordStats
	WordCount     int
	SentenceCount int
	// Language is the two-letter code of the detected language, or "" when
	// detection was not reliable.
	Language string
}

// SortedWords returns the word set in lexical order.
func (r *Result) SortedWords() []string {
	out := make([]string, 0, len(r.Words))
	for w := range r.Words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Words tokenizes text the way document text is tokenized, so query words
// hash to the same terms as indexed ones.
func (c *Condenser) Words(text string) []string {
	return words(text, c.opts.MinWordLength, c.opts.Stem)
}

// Condense computes the statistics of doc. Body text drives counts and
// positions; metadata fields add flags and contribute words of their own.
func (c *Condenser) Condense(doc *document.Document) *Result {
	r := &Result{Words: make(map[string]index.WordStats)}
	if doc == nil {
		return r
	}

	pos := 0
	for _, sentence := range sentences(doc.Text) {
		tokens := words(sentence, c.opts.MinWordLength, c.opts.Stem)
		if len(tokens) == 0 {
			continue
		}
		r.SentenceCount++
		for i, w := range tokens {
			pos++
			ws, seen := r.Words[w]
			if !seen {
				ws.PosInText = uint32(pos)
				ws.PosInPhrase = uint32(i + 1)
				ws.PhraseCount = uint32(r.SentenceCount)
				if r.SentenceCount == 1 {
					ws.Flags |= index.FlagFirstSentence
				}
			}
			ws.HitCount++
			r.Words[w] = ws
		}
	}
	r.WordCount = pos

	c.mark(r, doc.Title, index.FlagInTitle, true)
	c.mark(r, doc.Description, index.FlagInDescription, true)
	c.mark(r, doc.Author, index.FlagInAuthor, true)
	for _, kw := range doc.Keywords {
		c.mark(r, kw, index.FlagInKeywords, true)
	}
	if u, err := digest.ParseURL(doc.URL); err == nil {
		c.mark(r, u.Normal(), index.FlagInURL, false)
	}
	for _, a := range doc.Anchors() {
		c.mark(r, a.Text, index.FlagInAnchor, false)
	}

	r.Language = c.detect(doc.Text, r.WordCount)
	return r
}

// mark sets flag on every word of text. With add set, words missing from the
// body are added with a single hit.
func (c *Condenser) mark(r *Result, text string, flag index.Flags, add bool) {
	for _, w := range words(text, c.opts.MinWordLength, c.opts.Stem) {
		ws, seen := r.Words[w]
		if !seen {
			if !add {
				continue
			}
			ws.HitCount = 1
		}
		ws.Flags |= flag
		r.Words[w] = ws
	}
}

func (c *Condenser) detect(text string, wordCount int) string {
	if wordCount < c.opts.LanguageMinWords {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
