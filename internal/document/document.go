// Package document holds the parsed-document model consumed by the indexing
// core: the document itself, the response header it was served with and the
// crawl profile it was loaded under.
package document

import (
	"strings"
	"time"
)

// Anchor is one hyperlink found in a document.
type Anchor struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// Document is the parser output for one resource.
type Document struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Language is the language declared in the document metadata; empty when
	// the document does not declare one.
	Language string `json:"language,omitempty"`
	Format   string `json:"format"`
	Charset  string `json:"charset,omitempty"`
	Text     string `json:"text"`
	// InboundLinks point to the document's own host, OutboundLinks elsewhere.
	InboundLinks  []Anchor `json:"inbound_links,omitempty"`
	OutboundLinks []Anchor `json:"outbound_links,omitempty"`
}

// Anchors returns the inbound links followed by the outbound links.
func (d *Document) Anchors() []Anchor {
	all := make([]Anchor, 0, len(d.InboundLinks)+len(d.OutboundLinks))
	all = append(all, d.InboundLinks...)
	return append(all, d.OutboundLinks...)
}

func (d *Document) TextLength() int {
	return len(d.Text)
}

// ResponseHeader carries the response fields the indexer reads.
type ResponseHeader struct {
	Status       int       `json:"status"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CrawlProfile is passed through to the canonical record untouched.
type CrawlProfile struct {
	Name       string `json:"name"`
	Handle     string `json:"handle,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// Document type tags stored in every posting.
const (
	DocTypeUnknown byte = 'u'
	DocTypeText    byte = 't'
	DocTypeHTML    byte = 'h'
	DocTypePDF     byte = 'p'
	DocTypeDoc     byte = 'd'
	DocTypeImage   byte = 'i'
	DocTypeMovie   byte = 'm'
	DocTypeAudio   byte = 'a'
	DocTypeShare   byte = 's'
	DocTypeBinary  byte = 'b'
)

// DocType derives the posting document-type tag from a MIME format.
func DocType(format string) byte {
	mime := strings.ToLower(strings.TrimSpace(format))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "":
		return DocTypeUnknown
	case mime == "text/html" || mime == "application/xhtml+xml":
		return DocTypeHTML
	case mime == "application/pdf" || mime == "application/postscript":
		return DocTypePDF
	case mime == "application/msword" || strings.Contains(mime, "officedocument") || strings.Contains(mime, "opendocument"):
		return DocTypeDoc
	case strings.HasPrefix(mime, "text/"):
		return DocTypeText
	case strings.HasPrefix(mime, "image/"):
		return DocTypeImage
	case strings.HasPrefix(mime, "video/"):
		return DocTypeMovie
	case strings.HasPrefix(mime, "audio/"):
		return DocTypeAudio
	case mime == "application/x-bittorrent":
		return DocTypeShare
	case mime == "application/octet-stream":
		return DocTypeBinary
	default:
		return DocTypeUnknown
	}
}

// ModifiedAt returns the effective modification time of a response: its
// Last-Modified value, never later than now. A missing header or value
// yields now.
func ModifiedAt(h *ResponseHeader, now time.Time) time.Time {
	if h == nil || h.LastModified.IsZero() || h.LastModified.After(now) {
		return now
	}
	return h.LastModified
}
