package ranking

import (
	"bytes"
	"container/heap"
	"math"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	ID    digest.URLHash `json:"id"`
	Score float64        `json:"score"`
	// Live is set when any posting of the document was injected while the
	// search ran.
	Live bool `json:"live,omitempty"`
}

func idf(totalDocs, docFreq int) float64 {
	return math.Log((float64(totalDocs)-float64(docFreq))/(float64(docFreq)+0.5) + 1)
}

func tfNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	return (termFreq * (k1 + 1)) / (termFreq + k1*(1-b+b*docLength/avgDocLength))
}

// topK keeps the limit best documents. Ties are broken by id so the order is
// stable.
func topK(docs []ScoredDoc, limit int) []ScoredDoc {
	h := &scoredHeap{}
	for _, d := range docs {
		heap.Push(h, d)
		if limit > 0 && h.Len() > limit {
			heap.Pop(h)
		}
	}
	out := make([]ScoredDoc, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ScoredDoc)
	}
	return out
}

// scoredHeap is a min-heap, worst document on top.
type scoredHeap []ScoredDoc

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return bytes.Compare(h[i].ID[:], h[j].ID[:]) > 0
}

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x any) { *h = append(*h, x.(ScoredDoc)) }

func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
