package contents

import (
	"os"
	"path/filepath"
	"testing"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDidOpenDidChangeFullReplace(t *testing.T) {
	tr := New()
	uri := lsp.DocumentURI("file:///proj/A.groovy")

	tr.DidOpen(uri, "class A {}")
	assert.Equal(t, []byte("class A {}"), tr.GetContents(uri))
	assert.True(t, tr.IsOpen(uri))
	assert.Contains(t, tr.ChangedURIs(), uri)

	err := tr.DidChange(uri, []lsp.TextDocumentContentChangeEvent{{Text: "class A { def x }"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("class A { def x }"), tr.GetContents(uri))
}

func TestDidChangeIncrementalRange(t *testing.T) {
	tr := New()
	uri := lsp.DocumentURI("file:///proj/B.groovy")
	tr.DidOpen(uri, "abc\ndef")

	err := tr.DidChange(uri, []lsp.TextDocumentContentChangeEvent{{
		Range: &lsp.Range{
			Start: lsp.Position{Line: 0, Character: 1},
			End:   lsp.Position{Line: 0, Character: 2},
		},
		Text: "X",
	}})
	require.NoError(t, err)
	assert.Equal(t, []byte("aXc\ndef"), tr.GetContents(uri))
}

func TestDidChangeBeforeDidOpenIsTreatedAsOpen(t *testing.T) {
	tr := New()
	uri := lsp.DocumentURI("file:///proj/C.groovy")

	err := tr.DidChange(uri, []lsp.TextDocumentContentChangeEvent{{Text: "class C {}"}})
	require.NoError(t, err)
	assert.True(t, tr.IsOpen(uri))
	assert.Equal(t, []byte("class C {}"), tr.GetContents(uri))
}

func TestDidCloseFallsBackToDiskAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "D.groovy")
	require.NoError(t, os.WriteFile(path, []byte("class D {}"), 0o644))
	uri := lsp.DocumentURI("file://" + path)

	tr := New()
	tr.DidOpen(uri, "class D { /* edited */ }")
	tr.DidClose(uri)

	assert.False(t, tr.IsOpen(uri))
	assert.Equal(t, []byte("class D {}"), tr.GetContents(uri))

	require.NoError(t, os.WriteFile(path, []byte("class D { /* changed on disk */ }"), 0o644))
	assert.Equal(t, []byte("class D {}"), tr.GetContents(uri), "closed reads are cached until invalidated")

	tr.InvalidateClosedCache(nil)
	assert.Equal(t, []byte("class D { /* changed on disk */ }"), tr.GetContents(uri))
}

func TestResetChangedAndHasChangedUnder(t *testing.T) {
	tr := New()
	root := t.TempDir()
	uri := lsp.DocumentURI("file://" + filepath.Join(root, "E.groovy"))
	tr.DidOpen(uri, "class E {}")

	assert.True(t, tr.HasChangedUnder(root))
	tr.ResetChanged([]lsp.DocumentURI{uri})
	assert.Empty(t, tr.ChangedURIs())
	assert.False(t, tr.HasChangedUnder(root))

	tr.ForceChanged(uri)
	assert.True(t, tr.HasChangedUnder(root))
	tr.ResetChanged(nil)
	assert.Empty(t, tr.ChangedURIs())
}

func TestOpenURIsUnder(t *testing.T) {
	tr := New()
	root := t.TempDir()
	inside := lsp.DocumentURI("file://" + filepath.Join(root, "F.groovy"))
	outside := lsp.DocumentURI("file:///elsewhere/G.groovy")
	tr.DidOpen(inside, "class F {}")
	tr.DidOpen(outside, "class G {}")

	got := tr.OpenURIsUnder(root)
	require.Len(t, got, 1)
	assert.Equal(t, inside, got[0])
}

func TestMalformedRangeIgnoredInsteadOfPanicking(t *testing.T) {
	tr := New()
	uri := lsp.DocumentURI("file:///proj/H.groovy")
	tr.DidOpen(uri, "abc")

	err := tr.DidChange(uri, []lsp.TextDocumentContentChangeEvent{{
		Range: &lsp.Range{
			Start: lsp.Position{Line: 0, Character: 10},
			End:   lsp.Position{Line: 0, Character: 20},
		},
		Text: "zzz",
	}})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), tr.GetContents(uri))
}
