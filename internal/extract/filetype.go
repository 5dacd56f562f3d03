package extract

import "regexp"

// How many bytes of a transfer must have arrived before each incremental
// type check is worth running. The HTML check needs only the document head;
// the URL check needs enough body to plausibly contain a link.
const (
	HeaderSizeHTML = 1024
	HeaderSizeURLs = 100 * 1024
)

// htmlPattern recognizes SGML/HTML document openings, after the pattern
// used by file(1) for sgml detection.
var htmlPattern = regexp.MustCompile(`(?is)^.*<\s*(!DOCTYPE html|html|head|title|body)`)

// IsHTML reports whether data looks like an HTML document.
func IsHTML(data []byte) bool {
	return len(data) > 0 && htmlPattern.Match(data)
}

// HasURLs reports whether data contains at least one extractable URL.
// A spiderable document that fails both IsHTML and HasURLs is a wrong-type
// fetch: there is nothing in it to follow.
func HasURLs(data []byte, origin string) bool {
	return len(data) > 0 && hasAny(data, origin)
}
