package index

import "github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"

// Flags is the per-word bitfield stored with every posting.
type Flags uint32

const (
	FlagInTitle Flags = 1 << iota
	FlagInDescription
	FlagInAuthor
	FlagInKeywords
	FlagInURL
	FlagInAnchor
	FlagFirstSentence
)

// AllFlags is the flag set of the catchall posting of a document without words.
const AllFlags = ^Flags(0)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// WordStats holds the fields of a posting that belong to one word.
type WordStats struct {
	HitCount    uint32
	PosInText   uint32
	PosInPhrase uint32
	PhraseCount uint32
	Flags       Flags
}

// CatchallStats is used for the catchall posting when a document has no words.
var CatchallStats = WordStats{Flags: AllFlags}

// Posting is one document's entry in a term's reference container.
// Values are copied into the store; a Posting is never shared after Append.
type Posting struct {
	URLHash       digest.URLHash
	URLLength     uint32
	URLComps      uint32
	TitleLength   uint32
	WordCount     uint32
	SentenceCount uint32
	LastModified  int64 // unix millis
	Indexed       int64 // unix millis
	Language      [2]byte
	DocType       byte
	LinksSame     uint32
	LinksOther    uint32
	Word          WordStats
}

// WithWord returns a copy of the template p carrying the given word stats.
func (p Posting) WithWord(ws WordStats) Posting {
	p.Word = ws
	return p
}

func (p Posting) Owner() digest.URLHash {
	return p.URLHash
}

// LanguageCode returns the two-letter language of the posting, or "" if unset.
func (p Posting) LanguageCode() string {
	if p.Language == [2]byte{} {
		return ""
	}
	return string(p.Language[:])
}

// SetLanguage stores the first two bytes of a language code.
func (p *Posting) SetLanguage(code string) {
	p.Language = [2]byte{}
	copy(p.Language[:], code)
}

// Citation is one backlink stored under the cited URL.
type Citation struct {
	Citing   digest.URLHash
	Modified int64 // unix millis
}

func (c Citation) Owner() digest.URLHash {
	return c.Citing
}
