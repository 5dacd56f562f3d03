// Package webgraph maintains the persistent record of a crawl: which URLs
// were seen, who links to whom, and which URLs turned out to be aliases of
// the same resource after redirect resolution.
//
// Two interchangeable backends implement the Graph interface: an in-memory
// index that is checkpointed wholesale to a session file, and a SQLite
// store where every operation maps onto insert-or-ignore statements. The
// crawl scheduler depends only on the interface.
package webgraph

import "errors"

// ErrUnknownURL is returned by operations that require an existing node.
var ErrUnknownURL = errors.New("url not in the web")

// Graph is the node/edge index of a crawl. All cross-references use
// canonical URL strings as keys; node identity is never compared by object
// reference. Every URL appearing in an adjacency set is itself a node
// (referential closure is maintained eagerly on insert), and edge insertion
// is idempotent.
type Graph interface {
	// AddURL ensures url and all children exist as nodes and records an
	// outgoing edge url->child plus the reverse incoming edge for each
	// child. The first URL ever added becomes the root. Self-links are
	// ignored.
	AddURL(url string, children []string) error

	// AddRef records that alias addresses the same resource as url.
	// The alias becomes addressable for Contains and adjacency queries.
	AddRef(url, alias string) error

	// Contains reports whether url (canonical or alias) is known.
	Contains(url string) (bool, error)

	// Root returns the canonical URL of the crawl seed, or "" if the
	// graph is empty.
	Root() (string, error)

	// Incoming returns the canonical URLs with an edge into url.
	Incoming(url string) ([]string, error)

	// Outgoing returns the canonical URLs url links to.
	Outgoing(url string) ([]string, error)

	// Aliases returns all URLs known to address url's resource, the
	// canonical URL first.
	Aliases(url string) ([]string, error)

	// URLs returns every addressable URL, aliases included, sorted.
	URLs() ([]string, error)

	// Len returns the number of distinct nodes.
	Len() (int, error)

	// Close releases backend resources.
	Close() error
}
