package webgraph

import "sort"

// Ranked pairs a URL with its inbound reference count.
type Ranked struct {
	URL      string
	Incoming int
}

// canonicalURLs returns the distinct canonical URL of every node. URLs()
// also lists aliases, which share their node's edge sets, so queries that
// walk the whole graph must dedupe through Aliases.
func canonicalURLs(g Graph) ([]string, error) {
	urls, err := g.URLs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		aliases, err := g.Aliases(u)
		if err != nil {
			return nil, err
		}
		canon := u
		if len(aliases) > 0 {
			canon = aliases[0]
		}
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	sort.Strings(out)
	return out, nil
}

// Trace walks incoming edges from url back to the graph root and returns
// the path ordered root first. Returns nil when url is unreachable from
// the root. Cycles are tolerated.
func Trace(g Graph, url string) ([]string, error) {
	ok, err := g.Contains(url)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownURL
	}

	root, err := g.Root()
	if err != nil {
		return nil, err
	}

	// Resolve both endpoints to canonical form so a trace to an alias of
	// the root still terminates.
	canon := func(u string) (string, error) {
		aliases, err := g.Aliases(u)
		if err != nil {
			return "", err
		}
		if len(aliases) > 0 {
			return aliases[0], nil
		}
		return u, nil
	}
	start, err := canon(url)
	if err != nil {
		return nil, err
	}
	rootCanon := ""
	if root != "" {
		if rootCanon, err = canon(root); err != nil {
			return nil, err
		}
	}

	if start == rootCanon {
		return []string{start}, nil
	}

	// Breadth-first over incoming edges gives a shortest path; parent
	// links reconstruct it once the root is reached.
	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		refs, err := g.Incoming(cur)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if _, seen := parent[ref]; seen {
				continue
			}
			parent[ref] = cur
			if ref == rootCanon {
				path := []string{ref}
				for at := cur; at != ""; at = parent[at] {
					path = append(path, at)
				}
				return path, nil
			}
			queue = append(queue, ref)
		}
	}
	return nil, nil
}

// DeepestURL returns the URL farthest from the root by shortest-path hop
// count, along with its depth. Ties break toward the lexically smaller URL.
func DeepestURL(g Graph) (string, int, error) {
	root, err := g.Root()
	if err != nil {
		return "", 0, err
	}
	if root == "" {
		return "", 0, nil
	}

	dist := map[string]int{root: 0}
	queue := []string{root}
	deepest, depth := root, 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next, err := g.Outgoing(cur)
		if err != nil {
			return "", 0, err
		}
		for _, n := range next {
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			if dist[n] > depth || (dist[n] == depth && n < deepest) {
				deepest, depth = n, dist[n]
			}
			queue = append(queue, n)
		}
	}
	return deepest, depth, nil
}

// MostPopular returns up to n URLs ranked by inbound reference count,
// descending, with ties broken by URL.
func MostPopular(g Graph, n int) ([]Ranked, error) {
	urls, err := canonicalURLs(g)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(urls))
	for _, u := range urls {
		refs, err := g.Incoming(u)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{URL: u, Incoming: len(refs)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Incoming != ranked[j].Incoming {
			return ranked[i].Incoming > ranked[j].Incoming
		}
		return ranked[i].URL < ranked[j].URL
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// MultiAliased returns the URLs that have picked up at least one redirect
// alias, each with its full alias list, canonical URL first.
func MultiAliased(g Graph) (map[string][]string, error) {
	urls, err := canonicalURLs(g)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for _, u := range urls {
		aliases, err := g.Aliases(u)
		if err != nil {
			return nil, err
		}
		if len(aliases) > 1 {
			out[u] = aliases
		}
	}
	return out, nil
}
