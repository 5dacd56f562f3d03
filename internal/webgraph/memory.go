package webgraph

import (
	"encoding/json"
	"io"
	"sort"
)

// node is one resource in the in-memory index. Adjacency sets hold
// canonical URL keys, never node pointers, so merged aliases cannot leave
// dangling references.
type node struct {
	url      string
	incoming map[string]struct{}
	outgoing map[string]struct{}
	aliases  []string
}

func newNode(url string) *node {
	return &node{
		url:      url,
		incoming: make(map[string]struct{}),
		outgoing: make(map[string]struct{}),
		aliases:  []string{url},
	}
}

// Memory is the in-memory Graph backend. Alias URLs map to the same node
// as their canonical URL, so membership and adjacency queries see through
// redirects. The whole graph serializes to a flat nodes-plus-edge-pairs
// JSON document for session checkpoints.
type Memory struct {
	root  string
	index map[string]*node
}

// NewMemory creates an empty in-memory graph. If rootURL is non-empty it is
// inserted as the root node.
func NewMemory(rootURL string) *Memory {
	m := &Memory{index: make(map[string]*node)}
	if rootURL != "" {
		_ = m.AddURL(rootURL, nil)
	}
	return m
}

// ensure returns the node for url, creating it if absent.
func (m *Memory) ensure(url string) *node {
	if n, ok := m.index[url]; ok {
		return n
	}
	n := newNode(url)
	m.index[url] = n
	return n
}

// AddURL implements Graph.
func (m *Memory) AddURL(url string, children []string) error {
	n := m.ensure(url)
	if m.root == "" {
		m.root = n.url
	}
	for _, c := range children {
		if c == url {
			continue
		}
		child := m.ensure(c)
		child.incoming[n.url] = struct{}{}
		n.outgoing[child.url] = struct{}{}
	}
	return nil
}

// AddRef implements Graph.
func (m *Memory) AddRef(url, alias string) error {
	n, ok := m.index[url]
	if !ok {
		return ErrUnknownURL
	}
	m.index[alias] = n
	for _, a := range n.aliases {
		if a == alias {
			return nil
		}
	}
	n.aliases = append(n.aliases, alias)
	return nil
}

// Contains implements Graph.
func (m *Memory) Contains(url string) (bool, error) {
	_, ok := m.index[url]
	return ok, nil
}

// Root implements Graph.
func (m *Memory) Root() (string, error) {
	return m.root, nil
}

// Incoming implements Graph.
func (m *Memory) Incoming(url string) ([]string, error) {
	n, ok := m.index[url]
	if !ok {
		return nil, ErrUnknownURL
	}
	return sortedKeys(n.incoming), nil
}

// Outgoing implements Graph.
func (m *Memory) Outgoing(url string) ([]string, error) {
	n, ok := m.index[url]
	if !ok {
		return nil, ErrUnknownURL
	}
	return sortedKeys(n.outgoing), nil
}

// Aliases implements Graph.
func (m *Memory) Aliases(url string) ([]string, error) {
	n, ok := m.index[url]
	if !ok {
		return nil, ErrUnknownURL
	}
	out := make([]string, len(n.aliases))
	copy(out, n.aliases)
	return out, nil
}

// URLs implements Graph.
func (m *Memory) URLs() ([]string, error) {
	out := make([]string, 0, len(m.index))
	for u := range m.index {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// Len implements Graph. Aliased URLs count once.
func (m *Memory) Len() (int, error) {
	seen := make(map[*node]struct{}, len(m.index))
	for _, n := range m.index {
		seen[n] = struct{}{}
	}
	return len(seen), nil
}

// Close implements Graph.
func (m *Memory) Close() error {
	return nil
}

// snapshot is the serialized graph form: every node exactly once, edges as
// canonical URL pairs. Adjacency is rebuilt in one pass on load, which
// reproduces the shared-node topology without pickling object references.
type snapshot struct {
	Root  string      `json:"root"`
	Nodes []snapNode  `json:"nodes"`
	Edges [][2]string `json:"edges"`
}

type snapNode struct {
	URL     string   `json:"url"`
	Aliases []string `json:"aliases,omitempty"`
}

func (m *Memory) snapshot() snapshot {
	snap := snapshot{Root: m.root}

	urls := make([]string, 0, len(m.index))
	for u := range m.index {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		n := m.index[u]
		if n.aliases[0] != u {
			continue // alias key; the canonical entry covers it
		}
		sn := snapNode{URL: u}
		if len(n.aliases) > 1 {
			sn.Aliases = n.aliases[1:]
		}
		snap.Nodes = append(snap.Nodes, sn)
		for _, dst := range sortedKeys(n.outgoing) {
			snap.Edges = append(snap.Edges, [2]string{u, dst})
		}
	}
	return snap
}

// Encode writes the graph as JSON to w.
func (m *Memory) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(m.snapshot())
}

// DecodeMemory reads a graph previously written by Encode.
func DecodeMemory(r io.Reader) (*Memory, error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, err
	}

	m := NewMemory("")
	m.root = snap.Root
	for _, sn := range snap.Nodes {
		n := m.ensure(sn.URL)
		for _, a := range sn.Aliases {
			n.aliases = append(n.aliases, a)
			m.index[a] = n
		}
	}
	for _, e := range snap.Edges {
		src := m.ensure(e[0])
		dst := m.ensure(e[1])
		src.outgoing[dst.url] = struct{}{}
		dst.incoming[src.url] = struct{}{}
	}
	return m, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
