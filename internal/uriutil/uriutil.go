// Package uriutil converts between lsp.DocumentURI and filesystem paths.
// Grounded on the teacher's langserver/internal/util path/URI helpers and
// langserver/internal/source.URI.Filename, generalized to any
// "file://"-scheme URI rather than assuming a GOPATH-relative layout.
package uriutil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	lsp "github.com/sourcegraph/go-lsp"
)

const fileScheme = "file"

// ToFilename converts a file-scheme URI to an absolute filesystem path.
// Non-file schemes (notably "jar:", used for archive-contained sources)
// return an error; callers that need jar-aware routing use IsJarURI and
// JarPath instead.
func ToFilename(uri lsp.DocumentURI) (string, error) {
	u, err := url.Parse(string(uri))
	if err != nil {
		return "", fmt.Errorf("uriutil: parse %q: %w", uri, err)
	}
	if u.Scheme != fileScheme {
		return "", fmt.Errorf("uriutil: %q is not a file URI", uri)
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
		path = filepath.FromSlash(path)
	}
	return path, nil
}

// FromFilename converts an absolute filesystem path to a file-scheme URI.
func FromFilename(path string) lsp.DocumentURI {
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return lsp.DocumentURI("file://" + path)
}

// IsJarURI reports whether uri addresses a source file packaged inside a
// classpath archive (e.g. "jar:file:///libs/foo.jar!/com/x/Y.groovy").
func IsJarURI(uri lsp.DocumentURI) bool {
	return strings.HasPrefix(string(uri), "jar:")
}

// JarPath extracts the archive path from a jar-scheme URI, i.e. the part
// before "!/".
func JarPath(uri lsp.DocumentURI) (string, bool) {
	s := strings.TrimPrefix(string(uri), "jar:")
	idx := strings.Index(s, "!/")
	if idx < 0 {
		return "", false
	}
	inner, err := ToFilename(lsp.DocumentURI(s[:idx]))
	if err != nil {
		return "", false
	}
	return inner, true
}
