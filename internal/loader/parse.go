package loader

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

// Parse turns a response body into a document. HTML is parsed with goquery;
// other text formats are taken verbatim. Anything else is a parse failure.
func Parse(u *digest.URL, contentType string, body []byte) (*document.Document, error) {
	format, params, err := mime.ParseMediaType(contentType)
	if err != nil || format == "" {
		format = "text/html"
		params = nil
	}
	doc := &document.Document{
		URL:     u.Normal(),
		Format:  format,
		Charset: strings.ToLower(params["charset"]),
	}
	switch {
	case format == "text/html" || format == "application/xhtml+xml":
		if err := parseHTML(u, body, doc); err != nil {
			return nil, apperrors.New(apperrors.ErrParseFailure, "loader", "parse", err)
		}
	case strings.HasPrefix(format, "text/"):
		doc.Text = string(body)
	default:
		return nil, apperrors.New(apperrors.ErrParseFailure, "loader", "parse",
			fmt.Errorf("unsupported format %s", format))
	}
	return doc, nil
}

func parseHTML(u *digest.URL, body []byte, doc *document.Document) error {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing html: %w", err)
	}

	doc.Title = collapse(root.Find("title").First().Text())
	doc.Description = meta(root, "description")
	doc.Author = meta(root, "author")
	if kw := meta(root, "keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				doc.Keywords = append(doc.Keywords, k)
			}
		}
	}
	if lang, ok := root.Find("html").First().Attr("lang"); ok {
		doc.Language = strings.TrimSpace(lang)
	} else {
		doc.Language = metaAttr(root, "http-equiv", "content-language")
	}
	if doc.Charset == "" {
		if cs, ok := root.Find("meta[charset]").First().Attr("charset"); ok {
			doc.Charset = strings.ToLower(strings.TrimSpace(cs))
		}
	}

	seen := make(map[string]struct{})
	root.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || isNonHTTPLink(href) {
			return
		}
		target, err := u.Resolve(href)
		if err != nil {
			return
		}
		if _, dup := seen[target.Normal()]; dup {
			return
		}
		seen[target.Normal()] = struct{}{}
		rel, _ := sel.Attr("rel")
		a := document.Anchor{URL: target.Normal(), Text: collapse(sel.Text()), Rel: rel}
		if target.Host() == u.Host() {
			doc.InboundLinks = append(doc.InboundLinks, a)
		} else {
			doc.OutboundLinks = append(doc.OutboundLinks, a)
		}
	})

	content := root.Find("body")
	content.Find("script, style, noscript, template").Remove()
	var text strings.Builder
	content.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, dt, dd").Each(func(_ int, sel *goquery.Selection) {
		if sel.Find("p, li").Length() > 0 {
			return
		}
		if t := collapse(sel.Text()); t != "" {
			text.WriteString(t)
			text.WriteByte('\n')
		}
	})
	if text.Len() == 0 {
		text.WriteString(collapse(content.Text()))
	}
	doc.Text = strings.TrimSpace(text.String())
	return nil
}

func meta(root *goquery.Document, name string) string {
	return metaAttr(root, "name", name)
}

// metaAttr returns the content of the first meta element whose attr
// matches value case-insensitively.
func metaAttr(root *goquery.Document, attr, value string) string {
	var content string
	root.Find("meta[" + attr + "]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, _ := sel.Attr(attr); strings.EqualFold(strings.TrimSpace(v), value) {
			content, _ = sel.Attr("content")
			return false
		}
		return true
	})
	return strings.TrimSpace(content)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isNonHTTPLink(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
