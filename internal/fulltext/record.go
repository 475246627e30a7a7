// Package fulltext holds the canonical per-URL record and the stores that
// persist it. The record is the one place a deletion must always clear.
package fulltext

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/condenser"
)

// StoreName is the identifier of the canonical metadata store.
const StoreName = "text.urlmd"

// Record is the canonical entry for one URL.
type Record struct {
	ID            digest.URLHash `json:"id"`
	URL           string         `json:"url"`
	Host          string         `json:"host"`
	HostID        string         `json:"host_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Author        string         `json:"author,omitempty"`
	Keywords      []string       `json:"keywords,omitempty"`
	Language      string         `json:"language"`
	Format        string         `json:"format"`
	DocType       string         `json:"doctype"`
	Charset       string         `json:"charset,omitempty"`
	Text          string         `json:"text"`
	Referrer      string         `json:"referrer,omitempty"`
	Collection    string         `json:"collection,omitempty"`
	Profile       string         `json:"profile,omitempty"`
	WordCount     int            `json:"word_count"`
	SentenceCount int            `json:"sentence_count"`
	LinksSame     int            `json:"links_same"`
	LinksOther    int            `json:"links_other"`
	HTTPStatus    int            `json:"http_status,omitempty"`
	Size          int            `json:"size"`
	LastModified  time.Time      `json:"last_modified"`
	LoadDate      time.Time      `json:"load_date"`
}

// Store persists canonical records keyed by URL hash.
type Store interface {
	Put(ctx context.Context, r *Record) error
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, id digest.URLHash) (*Record, error)
	// Remove treats a missing record as success.
	Remove(ctx context.Context, id digest.URLHash) error
	Exists(ctx context.Context, id digest.URLHash) (bool, error)
	Count(ctx context.Context) (int64, error)
	// QueryCount returns the number of records whose text contains word.
	QueryCount(ctx context.Context, word string) (int, error)
	// HostIDs calls fn for every record id on the host, in id order. An error
	// from fn stops the scan and is returned.
	HostIDs(ctx context.Context, hostID string, fn func(digest.URLHash) error) error
	Clear(ctx context.Context) error
	Close() error
}

// Builder turns a parsed document into its canonical record.
type Builder struct {
	// MaxTextLength truncates the stored text; zero keeps it whole.
	MaxTextLength int
	Now           func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build assembles the record for url. header, stats and referrer may be nil.
func (b Builder) Build(
	url *digest.URL,
	profile document.CrawlProfile,
	header *document.ResponseHeader,
	doc *document.Document,
	stats *condenser.Result,
	referrer *digest.URL,
	language string,
) *Record {
	now := b.now()
	r := &Record{
		ID:           url.Hash(),
		URL:          url.Normal(),
		Host:         url.Host(),
		HostID:       url.HostID(),
		Title:        strings.TrimSpace(doc.Title),
		Description:  doc.Description,
		Author:       doc.Author,
		Keywords:     doc.Keywords,
		Language:     language,
		Format:       doc.Format,
		DocType:      string(document.DocType(doc.Format)),
		Charset:      doc.Charset,
		Text:         truncate(doc.Text, b.MaxTextLength),
		Collection:   profile.Collection,
		Profile:      profile.Name,
		LinksSame:    len(doc.InboundLinks),
		LinksOther:   len(doc.OutboundLinks),
		Size:         doc.TextLength(),
		LastModified: document.ModifiedAt(header, now),
		LoadDate:     now,
	}
	if header != nil {
		r.HTTPStatus = header.Status
	}
	if stats != nil {
		r.WordCount = stats.WordCount
		r.SentenceCount = stats.SentenceCount
	}
	if referrer != nil {
		r.Referrer = referrer.Hash().String()
	}
	return r
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// searchText is the text indexed for QueryCount.
func (r *Record) searchText() string {
	return r.Title + "\n" + r.Text
}
