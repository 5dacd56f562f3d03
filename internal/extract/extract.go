// Package extract pulls URL-like strings out of document bytes with a fixed
// set of regular expressions. It deliberately does not parse HTML
// structurally; the pattern set covers anchors, frames and images (quoted
// and unquoted attribute forms), bare URIs appearing anywhere in the text,
// and FTP directory listing lines when the document came from an FTP server.
package extract

import (
	"regexp"
	"strings"
)

// quoteChars are the attribute quoting styles seen in the wild, including
// the backtick. Each produces its own pattern because the value's terminator
// depends on the opening quote.
var quoteChars = []string{`"`, `'`, "`"}

// attrPatterns builds the match set for one tag/attribute pair: one pattern
// per quote style plus one for unquoted attribute values.
func attrPatterns(tag, attr string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(quoteChars)+1)
	for _, q := range quoteChars {
		patterns = append(patterns, regexp.MustCompile(
			`(?is)<\s*`+tag+`[^>]+`+attr+`[ ]*=?[ ]*`+q+`(?P<url>[^`+q+`]*?)`+q))
	}
	patterns = append(patterns, regexp.MustCompile(
		`(?is)<\s*`+tag+`[^>]+`+attr+`=[ ]*(?P<url>[^'">]+?)[ ]*>`))
	return patterns
}

// markupPatterns covers anchors, frames/iframes and images, in that order.
var markupPatterns = func() []*regexp.Regexp {
	var all []*regexp.Regexp
	all = append(all, attrPatterns("a", "href")...)
	all = append(all, attrPatterns("i?frame", "src")...)
	all = append(all, attrPatterns("img", "src")...)
	return all
}()

// uriPattern harvests bare URIs from arbitrary text, markup or not.
var uriPattern = regexp.MustCompile(
	`(?i)(?P<url>[a-z][a-z0-9+.-]{1,120}://(([a-z0-9$_.+!*,;/?:@&~(){}\[\]=-])|%[a-f0-9]{2}){1,333}([a-z0-9][a-z0-9 $_.+!*,;/?:@&~(){}\[\]=%-]{0,1000})?)`)

// ftpListingPattern matches one line of a unix-style FTP LIST response:
// permission bits, seven whitespace-separated fields, then the name.
var ftpListingPattern = regexp.MustCompile(`^.[^ ]{9}(?:\s+[^ ]+){7}\s+(?P<url>.*)$`)

// FindAll returns every URL-like string found in data, in pattern-set order:
// markup attributes first, then bare URIs, then (for FTP origins) listing
// entries. Duplicates are preserved; downstream graph insertion is
// idempotent and relies on seeing every occurrence.
func FindAll(data []byte, origin string) []string {
	var out []string
	s := string(data)

	for _, p := range markupPatterns {
		idx := p.SubexpIndex("url")
		for _, m := range p.FindAllStringSubmatch(s, -1) {
			out = append(out, m[idx])
		}
	}

	idx := uriPattern.SubexpIndex("url")
	for _, m := range uriPattern.FindAllStringSubmatch(s, -1) {
		out = append(out, m[idx])
	}

	if isFTPOrigin(origin) {
		out = append(out, ftpListingEntries(s)...)
	}
	return out
}

// hasAny reports whether FindAll would return at least one URL, without
// collecting them all.
func hasAny(data []byte, origin string) bool {
	s := string(data)
	for _, p := range markupPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	if uriPattern.MatchString(s) {
		return true
	}
	if isFTPOrigin(origin) && len(ftpListingEntries(s)) > 0 {
		return true
	}
	return false
}

func isFTPOrigin(origin string) bool {
	return strings.HasPrefix(origin, "ftp://")
}

// ftpListingEntries extracts file and directory names from an FTP LIST
// response, one candidate per listing line.
func ftpListingEntries(s string) []string {
	var out []string
	idx := ftpListingPattern.SubexpIndex("url")
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if m := ftpListingPattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[idx])
		}
	}
	return out
}
