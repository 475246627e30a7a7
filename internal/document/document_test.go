package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocType(t *testing.T) {
	tests := []struct {
		format string
		want   byte
	}{
		{"text/html; charset=utf-8", DocTypeHTML},
		{"text/plain", DocTypeText},
		{"application/pdf", DocTypePDF},
		{"image/png", DocTypeImage},
		{"", DocTypeUnknown},
		{"application/x-unknown", DocTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, string(tt.want), string(DocType(tt.format)))
		})
	}
}

func TestAnchorsOrder(t *testing.T) {
	d := &Document{
		InboundLinks:  []Anchor{{URL: "http://a.org/1"}},
		OutboundLinks: []Anchor{{URL: "http://b.org/"}, {URL: "http://c.org/"}},
	}
	anchors := d.Anchors()
	assert.Len(t, anchors, 3)
	assert.Equal(t, "http://a.org/1", anchors[0].URL)
	assert.Equal(t, "http://c.org/", anchors[2].URL)
}

func TestModifiedAtNeverInFuture(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)

	assert.Equal(t, past, ModifiedAt(&ResponseHeader{LastModified: past}, now))
	assert.Equal(t, now, ModifiedAt(&ResponseHeader{LastModified: now.Add(time.Hour)}, now))
	assert.Equal(t, now, ModifiedAt(&ResponseHeader{}, now))
	assert.Equal(t, now, ModifiedAt(nil, now))
}
