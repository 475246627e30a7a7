package index

import "github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"

// ReferenceContainer is the ordered list of references stored under one key.
type ReferenceContainer[K digest.Key, R any] struct {
	key  K
	refs []R
}

func NewContainer[K digest.Key, R any](key K, capacity int) *ReferenceContainer[K, R] {
	return &ReferenceContainer[K, R]{
		key:  key,
		refs: make([]R, 0, capacity),
	}
}

// Add appends a copy of r.
func (c *ReferenceContainer[K, R]) Add(r R) {
	c.refs = append(c.refs, r)
}

func (c *ReferenceContainer[K, R]) Key() K {
	return c.key
}

func (c *ReferenceContainer[K, R]) Len() int {
	return len(c.refs)
}

// References returns a copy of the stored references in insertion order.
func (c *ReferenceContainer[K, R]) References() []R {
	out := make([]R, len(c.refs))
	copy(out, c.refs)
	return out
}

// filter drops every reference for which keep returns false and reports how
// many were dropped.
func (c *ReferenceContainer[K, R]) filter(keep func(R) bool) int {
	kept := c.refs[:0]
	for _, r := range c.refs {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	removed := len(c.refs) - len(kept)
	clear(c.refs[len(kept):])
	c.refs = kept
	return removed
}

// PostingContainer holds the postings of one term.
type PostingContainer = ReferenceContainer[digest.TermHash, Posting]

// CitationContainer holds the citations of one cited URL.
type CitationContainer = ReferenceContainer[digest.URLHash, Citation]
