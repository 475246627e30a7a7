// Package ranking holds a search in progress: the terms it asked for, the
// postings gathered for them from the segment and from documents indexed
// while it runs, and their BM25 ranking.
package ranking

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "or"
	}
	return "and"
}

type Query struct {
	Terms        []string
	ExcludeTerms []string
	Type         QueryType
	Raw          string
}

// ParseQuery reads whitespace-separated words with the AND, OR and NOT
// operators. A word may also be excluded with a leading '-'. Words are
// tokenized with c so they match indexed words.
func ParseQuery(raw string, c *condenser.Condenser) *Query {
	q := &Query{Type: QueryAND, Raw: raw}
	excludeNext := false
	for _, field := range strings.Fields(raw) {
		switch strings.ToUpper(field) {
		case "AND":
			q.Type = QueryAND
			continue
		case "OR":
			q.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if strings.HasPrefix(field, "-") && len(field) > 1 {
			exclude = true
			field = field[1:]
		}
		for _, w := range c.Words(field) {
			if exclude {
				q.ExcludeTerms = appendUnique(q.ExcludeTerms, w)
			} else {
				q.Terms = appendUnique(q.Terms, w)
			}
		}
	}
	return q
}

func appendUnique(list []string, w string) []string {
	for _, have := range list {
		if have == w {
			return list
		}
	}
	return append(list, w)
}
