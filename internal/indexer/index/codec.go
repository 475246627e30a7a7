package index

import (
	"encoding/binary"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
)

const (
	PostingRowSize  = 80
	CitationRowSize = 20
)

// Codec converts references to fixed-width rows. Every row starts with the
// owning URL hash so removal can work on raw rows.
type Codec[R any] interface {
	RowSize() int
	Encode(dst []byte, r R)
	Decode(src []byte) R
}

func rowOwner(row []byte) digest.URLHash {
	var h digest.URLHash
	copy(h[:], row[:digest.Length])
	return h
}

// PostingCodec lays a posting out as:
//
//	[0:12]  url hash
//	[12:60] twelve uint32 fields
//	[60:76] last modified, indexed
//	[76:78] language
//	[78]    doc type
//	[79]    reserved
type PostingCodec struct{}

func (PostingCodec) RowSize() int { return PostingRowSize }

func (PostingCodec) Encode(dst []byte, p Posting) {
	le := binary.LittleEndian
	copy(dst[0:12], p.URLHash[:])
	for i, v := range [...]uint32{
		p.URLLength, p.URLComps, p.TitleLength, p.WordCount, p.SentenceCount,
		p.LinksSame, p.LinksOther,
		p.Word.HitCount, p.Word.PosInText, p.Word.PosInPhrase, p.Word.PhraseCount,
		uint32(p.Word.Flags),
	} {
		le.PutUint32(dst[12+4*i:], v)
	}
	le.PutUint64(dst[60:], uint64(p.LastModified))
	le.PutUint64(dst[68:], uint64(p.Indexed))
	dst[76], dst[77] = p.Language[0], p.Language[1]
	dst[78] = p.DocType
	dst[79] = 0
}

func (PostingCodec) Decode(src []byte) Posting {
	le := binary.LittleEndian
	u := func(i int) uint32 { return le.Uint32(src[12+4*i:]) }
	return Posting{
		URLHash:       rowOwner(src),
		URLLength:     u(0),
		URLComps:      u(1),
		TitleLength:   u(2),
		WordCount:     u(3),
		SentenceCount: u(4),
		LinksSame:     u(5),
		LinksOther:    u(6),
		Word: WordStats{
			HitCount:    u(7),
			PosInText:   u(8),
			PosInPhrase: u(9),
			PhraseCount: u(10),
			Flags:       Flags(u(11)),
		},
		LastModified: int64(le.Uint64(src[60:])),
		Indexed:      int64(le.Uint64(src[68:])),
		Language:     [2]byte{src[76], src[77]},
		DocType:      src[78],
	}
}

// CitationCodec lays a citation out as 12 bytes of citing hash followed by
// the modification time.
type CitationCodec struct{}

func (CitationCodec) RowSize() int { return CitationRowSize }

func (CitationCodec) Encode(dst []byte, c Citation) {
	copy(dst[0:12], c.Citing[:])
	binary.LittleEndian.PutUint64(dst[12:], uint64(c.Modified))
}

func (CitationCodec) Decode(src []byte) Citation {
	return Citation{
		Citing:   rowOwner(src),
		Modified: int64(binary.LittleEndian.Uint64(src[12:])),
	}
}

func encodeRows[R any](codec Codec[R], refs []R) []byte {
	size := codec.RowSize()
	buf := make([]byte, size*len(refs))
	for i, r := range refs {
		codec.Encode(buf[i*size:(i+1)*size], r)
	}
	return buf
}

func decodeRows[R any](codec Codec[R], data []byte) []R {
	size := codec.RowSize()
	out := make([]R, 0, len(data)/size)
	for off := 0; off+size <= len(data); off += size {
		out = append(out, codec.Decode(data[off:off+size]))
	}
	return out
}
