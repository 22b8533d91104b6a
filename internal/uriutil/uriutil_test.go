package uriutil

import (
	"testing"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFilenameRoundTrip(t *testing.T) {
	uri := lsp.DocumentURI("file:///home/dev/proj/A.groovy")
	path, err := ToFilename(uri)
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/proj/A.groovy", path)
	assert.Equal(t, uri, FromFilename(path))
}

func TestToFilenameRejectsNonFileScheme(t *testing.T) {
	_, err := ToFilename(lsp.DocumentURI("http://example.com/A.groovy"))
	assert.Error(t, err)
}

func TestFromFilename(t *testing.T) {
	uri := FromFilename("/home/dev/proj/A.groovy")
	assert.Equal(t, lsp.DocumentURI("file:///home/dev/proj/A.groovy"), uri)
}

func TestIsJarURI(t *testing.T) {
	assert.True(t, IsJarURI(lsp.DocumentURI("jar:file:///libs/foo.jar!/com/x/Y.groovy")))
	assert.False(t, IsJarURI(lsp.DocumentURI("file:///home/dev/A.groovy")))
}

func TestJarPath(t *testing.T) {
	path, ok := JarPath(lsp.DocumentURI("jar:file:///libs/foo.jar!/com/x/Y.groovy"))
	require.True(t, ok)
	assert.Equal(t, "/libs/foo.jar", path)

	_, ok = JarPath(lsp.DocumentURI("jar:file:///libs/foo.jar"))
	assert.False(t, ok)
}
