package consumer

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
)

// IndexEvent asks for one URL to be loaded and stored.
type IndexEvent struct {
	EventID  string                `json:"event_id"`
	URL      string                `json:"url"`
	Referrer string                `json:"referrer,omitempty"`
	Source   string                `json:"source,omitempty"`
	Profile  document.CrawlProfile `json:"profile"`
	// CacheStrategy is one of nocache, iffresh, ifexist, cacheonly.
	CacheStrategy string `json:"cache_strategy,omitempty"`
	// SkipRWI stores the record and citations without postings.
	SkipRWI bool `json:"skip_rwi,omitempty"`
}

// DeleteEvent asks for URLs to be taken out of the segment, given either
// by hash or by URL.
type DeleteEvent struct {
	EventID       string   `json:"event_id"`
	URLHashes     []string `json:"url_hashes,omitempty"`
	URLs          []string `json:"urls,omitempty"`
	CacheStrategy string   `json:"cache_strategy,omitempty"`
}

// IndexedEvent is published after a document was stored.
type IndexedEvent struct {
	EventID   string    `json:"event_id"`
	RequestID string    `json:"request_id,omitempty"`
	URLHash   string    `json:"url_hash"`
	URL       string    `json:"url"`
	Language  string    `json:"language"`
	Words     int       `json:"words"`
	Source    string    `json:"source,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}
