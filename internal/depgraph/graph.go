// Package depgraph implements C2, the per-scope source dependency graph:
// forward and reverse URI-to-URI import edges, and the BFS transitive
// queries the incremental compiler (internal/compile) uses to decide its
// recompilation set. Grounded on the teacher's package-import graph walk
// in langserver/internal/cache/cache.go (GlobalCache.recusiveAdd /
// GlobalCache.Walk), generalized from Go import-package edges to
// source-file-level edges and from a single global instance to one
// instance per project scope (single-writer-per-scope, per spec.md §4.2).
package depgraph

import (
	"sync"

	lsp "github.com/sourcegraph/go-lsp"
)

// Graph is a directed graph of source-file URIs. It is written only under
// the owning scope's write lock (single-writer-per-scope), so its own
// mutex exists solely to make reads (from LSP handlers that snapshot
// without the scope lock) safe.
type Graph struct {
	mu      sync.RWMutex
	forward map[lsp.DocumentURI]map[lsp.DocumentURI]struct{}
	reverse map[lsp.DocumentURI]map[lsp.DocumentURI]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		forward: make(map[lsp.DocumentURI]map[lsp.DocumentURI]struct{}),
		reverse: make(map[lsp.DocumentURI]map[lsp.DocumentURI]struct{}),
	}
}

// UpdateDependencies replaces both adjacency sides for u atomically: u's
// old forward edges are removed (along with the matching reverse edges on
// the old targets) before the new edge set in deps is installed.
func (g *Graph) UpdateDependencies(u lsp.DocumentURI, deps []lsp.DocumentURI) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for old := range g.forward[u] {
		if rev := g.reverse[old]; rev != nil {
			delete(rev, u)
			if len(rev) == 0 {
				delete(g.reverse, old)
			}
		}
	}

	if len(deps) == 0 {
		delete(g.forward, u)
		return
	}

	set := make(map[lsp.DocumentURI]struct{}, len(deps))
	for _, d := range deps {
		set[d] = struct{}{}
		if g.reverse[d] == nil {
			g.reverse[d] = make(map[lsp.DocumentURI]struct{})
		}
		g.reverse[d][u] = struct{}{}
	}
	g.forward[u] = set
}

// Remove deletes u from the graph: its forward edges are dropped (with
// the matching reverse entries), and u is removed from every adjacency
// set that pointed to it.
func (g *Graph) Remove(u lsp.DocumentURI) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(u)
}

func (g *Graph) removeLocked(u lsp.DocumentURI) {
	for dep := range g.forward[u] {
		if rev := g.reverse[dep]; rev != nil {
			delete(rev, u)
			if len(rev) == 0 {
				delete(g.reverse, dep)
			}
		}
	}
	delete(g.forward, u)

	for dependent := range g.reverse[u] {
		if fwd := g.forward[dependent]; fwd != nil {
			delete(fwd, u)
			if len(fwd) == 0 {
				delete(g.forward, dependent)
			}
		}
	}
	delete(g.reverse, u)
}

// Forward returns the set of URIs u directly imports.
func (g *Graph) Forward(u lsp.DocumentURI) []lsp.DocumentURI {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return keys(g.forward[u])
}

// Reverse returns the set of URIs that directly import u.
func (g *Graph) Reverse(u lsp.DocumentURI) []lsp.DocumentURI {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return keys(g.reverse[u])
}

// TransitiveDependents performs BFS over reverse edges starting from the
// seed set S, bounded by depth (use a negative depth, or
// depgraph.Unbounded, for unbounded traversal). The result never includes
// the seeds themselves.
func (g *Graph) TransitiveDependents(seeds []lsp.DocumentURI, depth int) []lsp.DocumentURI {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bfs(seeds, g.reverse, depth)
}

// TransitiveDependencies performs BFS over forward edges, bounded by
// depth. This is the query the incremental compiler uses with depth=2 to
// build its recompilation set.
func (g *Graph) TransitiveDependencies(seeds []lsp.DocumentURI, depth int) []lsp.DocumentURI {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bfs(seeds, g.forward, depth)
}

// Unbounded requests an unbounded BFS traversal.
const Unbounded = -1

func (g *Graph) bfs(seeds []lsp.DocumentURI, adj map[lsp.DocumentURI]map[lsp.DocumentURI]struct{}, depth int) []lsp.DocumentURI {
	visited := make(map[lsp.DocumentURI]struct{}, len(seeds))
	for _, s := range seeds {
		visited[s] = struct{}{}
	}

	frontier := append([]lsp.DocumentURI(nil), seeds...)
	var result []lsp.DocumentURI

	for level := 0; len(frontier) > 0 && (depth < 0 || level < depth); level++ {
		var next []lsp.DocumentURI
		for _, u := range frontier {
			for n := range adj[u] {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				result = append(result, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return result
}

// Clear empties the graph.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forward = make(map[lsp.DocumentURI]map[lsp.DocumentURI]struct{})
	g.reverse = make(map[lsp.DocumentURI]map[lsp.DocumentURI]struct{})
}

// IsEmpty reports whether the graph has no edges at all.
func (g *Graph) IsEmpty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.forward) == 0 && len(g.reverse) == 0
}

func keys(m map[lsp.DocumentURI]struct{}) []lsp.DocumentURI {
	if len(m) == 0 {
		return nil
	}
	out := make([]lsp.DocumentURI, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
