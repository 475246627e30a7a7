package indexer

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// VoteLanguage picks the language of a document from the statistical guess,
// the language declared in its metadata and the language implied by its
// top-level domain. Empty means unknown for the first two; tld is always
// set. normalURL is used to confirm a statistical guess the domain
// disagrees with.
func VoteLanguage(statistic, metadata, tld, normalURL string) string {
	statistic = normalizeLanguage(statistic)
	metadata = normalizeLanguage(metadata)
	tld = normalizeLanguage(tld)

	switch {
	case statistic == "":
		if metadata != "" {
			return metadata
		}
		return tld
	case metadata == "":
		if statistic != tld && !urlNamesLanguage(normalURL, statistic) {
			return tld
		}
		return statistic
	case statistic == metadata || statistic == tld:
		return statistic
	default:
		// metadata wins both when it agrees with the domain and when all
		// three disagree
		return metadata
	}
}

// urlNamesLanguage reports whether the URL has a path segment equal to the
// language code or to the English name of the language.
func urlNamesLanguage(normalURL, code string) bool {
	u := strings.ToLower(normalURL)
	if strings.Contains(u, "/"+code+"/") {
		return true
	}
	name := languageName(code)
	return name != "" && strings.Contains(u, "/"+name+"/")
}

func languageName(code string) string {
	base, err := language.ParseBase(code)
	if err != nil {
		return ""
	}
	return strings.ToLower(display.English.Languages().Name(base))
}

// normalizeLanguage reduces a language tag such as "en-US" or "DE" to its
// lower-case base code. Unparseable input counts as unknown.
func normalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
