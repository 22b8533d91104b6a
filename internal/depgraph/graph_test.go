package depgraph

import (
	"sort"
	"testing"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sorted(uris []lsp.DocumentURI) []lsp.DocumentURI {
	out := append([]lsp.DocumentURI(nil), uris...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestUpdateDependenciesInvariant(t *testing.T) {
	g := New()
	a, b, c := lsp.DocumentURI("file:///a.groovy"), lsp.DocumentURI("file:///b.groovy"), lsp.DocumentURI("file:///c.groovy")

	g.UpdateDependencies(a, []lsp.DocumentURI{b, c})

	assert.Equal(t, []lsp.DocumentURI{b, c}, sorted(g.Forward(a)))
	assert.Contains(t, g.Reverse(b), a)
	assert.Contains(t, g.Reverse(c), a)

	// Replacing a's deps drops the stale reverse edges.
	g.UpdateDependencies(a, []lsp.DocumentURI{b})
	assert.Equal(t, []lsp.DocumentURI{b}, g.Forward(a))
	assert.NotContains(t, g.Reverse(c), a)
}

func TestTransitiveDependents(t *testing.T) {
	g := New()
	a, b, c, d := lsp.DocumentURI("a"), lsp.DocumentURI("b"), lsp.DocumentURI("c"), lsp.DocumentURI("d")

	// a -> b -> c -> d  (so d's dependents are c, b, a)
	g.UpdateDependencies(a, []lsp.DocumentURI{b})
	g.UpdateDependencies(b, []lsp.DocumentURI{c})
	g.UpdateDependencies(c, []lsp.DocumentURI{d})

	dependents := sorted(g.TransitiveDependents([]lsp.DocumentURI{d}, Unbounded))
	require.Equal(t, []lsp.DocumentURI{a, b, c}, dependents)

	depthOne := g.TransitiveDependents([]lsp.DocumentURI{d}, 1)
	assert.Equal(t, []lsp.DocumentURI{c}, depthOne)
}

func TestTransitiveDependenciesDepthBound(t *testing.T) {
	g := New()
	a, b, c := lsp.DocumentURI("a"), lsp.DocumentURI("b"), lsp.DocumentURI("c")
	g.UpdateDependencies(a, []lsp.DocumentURI{b})
	g.UpdateDependencies(b, []lsp.DocumentURI{c})

	depth1 := g.TransitiveDependencies([]lsp.DocumentURI{a}, 1)
	assert.Equal(t, []lsp.DocumentURI{b}, depth1)

	depth2 := sorted(g.TransitiveDependencies([]lsp.DocumentURI{a}, 2))
	assert.Equal(t, []lsp.DocumentURI{b, c}, depth2)
}

func TestRemove(t *testing.T) {
	g := New()
	a, b := lsp.DocumentURI("a"), lsp.DocumentURI("b")
	g.UpdateDependencies(a, []lsp.DocumentURI{b})
	g.Remove(a)
	assert.Empty(t, g.Forward(a))
	assert.Empty(t, g.Reverse(b))
	assert.True(t, g.IsEmpty())
}
