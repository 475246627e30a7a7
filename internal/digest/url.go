package digest

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/language"
)

// URL is a parsed URL together with its normal form and hash.
type URL struct {
	u      *url.URL
	normal string
	hash   URLHash
}

// ParseURL parses and normalizes raw. Only absolute http(s), ftp and file
// URLs with a host are accepted.
func ParseURL(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https", "ftp", "file":
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" && u.Scheme != "file" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && port == defaultPort(u.Scheme) {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	normal := u.String()
	return &URL{
		u:      u,
		normal: normal,
		hash:   urlHash(normal, u.Hostname()),
	}, nil
}

// MustParseURL is ParseURL for constants and tests.
func MustParseURL(raw string) *URL {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Resolve parses ref relative to u.
func (u *URL) Resolve(ref string) (*URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	return ParseURL(u.u.ResolveReference(r).String())
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	case "ftp":
		return "21"
	}
	return ""
}

func (u *URL) Hash() URLHash { return u.hash }

// Normal returns the normal form used for hashing and stub matching.
func (u *URL) Normal() string { return u.normal }

func (u *URL) String() string { return u.normal }

func (u *URL) Host() string { return u.u.Hostname() }

func (u *URL) HostID() string { return u.hash.HostID() }

// Comps counts the alphanumeric components of the URL after its scheme and
// any leading "www.".
func (u *URL) Comps() int {
	s := strings.TrimPrefix(u.normal, u.u.Scheme+"://")
	s = strings.TrimPrefix(s, "www.")
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// Language infers a language code from the host's top-level domain.
func (u *URL) Language() string {
	return TLDLanguage(u.Host())
}

// TLDLanguage maps a host's country-code TLD to the most likely language of
// that region. Generic TLDs, IP literals and unknown regions yield "en".
func TLDLanguage(host string) string {
	const fallback = "en"
	if host == "" || net.ParseIP(host) != nil {
		return fallback
	}
	suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(host))
	tld := suffix[strings.LastIndex(suffix, ".")+1:]
	if len(tld) != 2 {
		return fallback
	}
	region, err := language.ParseRegion(tld)
	if err != nil {
		return fallback
	}
	tag, err := language.Compose(region)
	if err != nil {
		return fallback
	}
	base, conf := tag.Base()
	if conf == language.No {
		return fallback
	}
	return base.String()
}
