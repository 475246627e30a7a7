// Package digest computes the fixed-length hashes that key every segment
// store: term hashes for normalized words and URL hashes for normalized
// URLs. A URL hash embeds the hash of its host so host-scoped queries can be
// answered from the hash alone.
package digest

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	farmhash "github.com/leemcloughlin/gofarmhash"
)

// Length is the byte length of every term and URL hash.
const Length = 12

const hostPart = 6

// CatchallWord is matched by every indexed document so that zero-keyword
// queries can enumerate the whole segment.
const CatchallWord = "yacyall"

// CatchallHash is the term hash of CatchallWord.
var CatchallHash = Word(CatchallWord)

var encoding = base64.RawURLEncoding

// Key is satisfied by both hash kinds so stores can be generic over them.
type Key interface {
	~[Length]byte
}

type TermHash [Length]byte

type URLHash [Length]byte

func (h TermHash) String() string { return encoding.EncodeToString(h[:]) }

func (h URLHash) String() string { return encoding.EncodeToString(h[:]) }

// HostID returns the encoded host portion of the URL hash.
func (h URLHash) HostID() string { return encoding.EncodeToString(h[Length-hostPart:]) }

func (h URLHash) IsZero() bool { return h == URLHash{} }

func (h URLHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *URLHash) UnmarshalText(text []byte) error {
	parsed, err := ParseURLHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseURLHash decodes the text form produced by URLHash.String.
func ParseURLHash(s string) (URLHash, error) {
	var h URLHash
	b, err := encoding.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decoding url hash %q: %w", s, err)
	}
	if len(b) != Length {
		return h, fmt.Errorf("url hash %q has %d bytes, want %d", s, len(b), Length)
	}
	copy(h[:], b)
	return h, nil
}

// Word returns the term hash of a word. Words are compared case-insensitively.
func Word(word string) TermHash {
	w := strings.ToLower(strings.TrimSpace(word))
	var h TermHash
	binary.BigEndian.PutUint64(h[0:8], xxhash.Sum64String(w))
	binary.BigEndian.PutUint32(h[8:12], farmhash.Hash32([]byte(w)))
	return h
}

// Words hashes a word set. The order of the result follows the input.
func Words(words []string) []TermHash {
	hashes := make([]TermHash, 0, len(words))
	for _, w := range words {
		hashes = append(hashes, Word(w))
	}
	return hashes
}

// HostHash returns the encoded host identifier shared by every URL hash on
// that host.
func HostHash(host string) string {
	b := hostBytes(host)
	return encoding.EncodeToString(b[:])
}

func hostBytes(host string) [hostPart]byte {
	var b [hostPart]byte
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], xxhash.Sum64String(h))
	copy(b[:], full[:hostPart])
	return b
}

func urlHash(normal, host string) URLHash {
	var h URLHash
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], xxhash.Sum64String(normal))
	copy(h[:Length-hostPart], full[:Length-hostPart])
	hb := hostBytes(host)
	copy(h[Length-hostPart:], hb[:])
	return h
}

// HashSet is a set of term hashes, used for query include/exclude sets.
type HashSet map[TermHash]struct{}

func NewHashSet(hashes ...TermHash) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

func (s HashSet) Has(h TermHash) bool {
	_, ok := s[h]
	return ok
}
