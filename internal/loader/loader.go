// Package loader fetches and parses documents for the segment pipelines.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
)

// CacheStrategy says whether a load may be answered from the loader cache.
type CacheStrategy int

const (
	// NoCache always fetches from the network.
	NoCache CacheStrategy = iota
	// IfFresh uses a cached copy younger than the loader's freshness window.
	IfFresh
	// IfExist uses any cached copy.
	IfExist
	// CacheOnly never touches the network.
	CacheOnly
)

func (s CacheStrategy) String() string {
	switch s {
	case NoCache:
		return "nocache"
	case IfFresh:
		return "iffresh"
	case IfExist:
		return "ifexist"
	case CacheOnly:
		return "cacheonly"
	default:
		return "unknown"
	}
}

// ParseCacheStrategy reads the String form of a strategy.
func ParseCacheStrategy(s string) (CacheStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nocache":
		return NoCache, nil
	case "iffresh", "":
		return IfFresh, nil
	case "ifexist":
		return IfExist, nil
	case "cacheonly":
		return CacheOnly, nil
	}
	return 0, fmt.Errorf("unknown cache strategy %q", s)
}

type Request struct {
	URL      *digest.URL
	Strategy CacheStrategy
	// ForceReload refetches a URL whose cached copy is still fresh. It turns
	// IfFresh into NoCache; IfExist and CacheOnly still take any cached copy.
	ForceReload bool
	// MaxSize bounds the response body; zero means unbounded.
	MaxSize int64
}

// Response is a parsed document with the header it was served with.
type Response struct {
	Header   *document.ResponseHeader
	Document *document.Document
	Cached   bool
}

// Loader loads and parses the document behind a URL.
type Loader interface {
	Load(ctx context.Context, req Request) (*Response, error)
}
