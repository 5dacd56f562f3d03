// Package urlutil normalizes and rewrites URLs discovered while spidering.
// Candidates extracted from documents arrive in every imaginable shape:
// relative paths, scheme-less strings, URLs with embedded line breaks, or
// links back to the origin host that need the origin's credentials carried
// over. This package turns them into absolute, fetchable URLs and derives
// local filenames from them.
package urlutil

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Schemes lists the protocols the fetch engine speaks.
var Schemes = []string{"ftp", "http", "https"}

// schemePattern matches a known scheme as a suffix, so that slightly
// mangled schemes found in the wild (for example "xhttp") still resolve to
// a protocol we can fetch.
var schemePattern = regexp.MustCompile(`(ftp|https?)$`)

var (
	breakReplacer = strings.NewReplacer("\n", "", "\t", "")
	spaceReplacer = strings.NewReplacer(" ", "%20")
)

// rewriteScheme canonicalizes a scheme to one of Schemes when it matches as
// a suffix, otherwise returns it unchanged.
func rewriteScheme(scheme string) string {
	if m := schemePattern.FindString(scheme); m != "" {
		return m
	}
	return scheme
}

// RewriteURLs resolves raw URL candidates against an origin URL. For each
// candidate it strips line breaks, canonicalizes the scheme, propagates the
// origin's credentials when the hostname matches, resolves relative
// references, quotes spaces and drops fragments. Candidates that reduce to
// nothing (such as "#section") are dropped. Unparseable candidates are
// skipped; a single mangled href must not abort link extraction.
func RewriteURLs(origin string, raws []string) []string {
	base, err := url.Parse(origin)
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		raw = breakReplacer.Replace(raw)
		raw = spaceReplacer.Replace(raw)
		if raw == "" {
			continue
		}

		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		u.Fragment = ""
		u.Scheme = rewriteScheme(u.Scheme)

		// Carry the origin's credentials onto absolute links back to
		// the same host. Password-protected FTP areas link to
		// themselves without credentials.
		if base.User != nil && u.Host != "" && u.Hostname() == base.Hostname() {
			u.User = base.User
		}

		var resolved *url.URL
		if u.Scheme == "" && u.Host == "" {
			// A path or query on the origin site.
			if u.Path == "" && u.RawQuery == "" {
				continue // null fragment, nothing left
			}
			resolved = base.ResolveReference(u)
			resolved.Fragment = ""
		} else {
			resolved = u
		}

		if s := resolved.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Hostname returns the hostname component of a URL, or "" if unparseable.
func Hostname(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Scheme returns the scheme component of a URL, or "" if unparseable.
func Scheme(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// Referer derives a Referer header value from a URL: the URL with the last
// path segment, query and fragment removed. Some hosts block requests whose
// referer is off-site.
func Referer(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	u.Path = path.Dir(u.Path)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// TruncateURL shortens a URL to width runes by replacing the middle with an
// ellipsis, keeping the head and tail visible. Used by the progress display.
func TruncateURL(width int, s string) string {
	if len(s) <= width {
		return s
	}
	const filler = "..."
	w := width - len(filler)
	half := w / 2
	rest := w % 2
	return s[:half+rest] + filler + s[len(s)-half:]
}

var (
	nonWordPattern    = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscorePattern = regexp.MustCompile(`_{2,}`)
	trailingPattern   = regexp.MustCompile(`_$`)
)

// URLToFilename derives a local filename from a URL. With origNames the
// basename on the host is used as-is, which reads naturally but collides
// easily; otherwise the whole URL is flattened into a collision-resistant
// name keeping the extension. Callers still need SafeFilename for targets
// that already exist.
func URLToFilename(rawurl string, origNames bool) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nonWordPattern.ReplaceAllString(rawurl, "_")
	}

	base := path.Base(u.Path)
	if origNames && base != "" && base != "." && base != "/" {
		return base
	}

	ext := path.Ext(u.Path)
	stem := strings.TrimSuffix(u.Path, ext)

	netloc := u.Host
	if u.User != nil {
		netloc = u.User.String() + "@" + u.Host
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{u.Scheme, netloc, stem, u.RawQuery} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.Join(parts, "_")
	name = nonWordPattern.ReplaceAllString(name, "_")
	name = underscorePattern.ReplaceAllString(name, "_")
	name = trailingPattern.ReplaceAllString(name, "")
	return name + ext
}

// HostnameToFilename flattens a hostname into a filename-safe string, used
// to key session artifacts by crawl root.
func HostnameToFilename(host string) string {
	return nonWordPattern.ReplaceAllString(host, "_")
}
