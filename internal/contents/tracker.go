// Package contents implements C1, the File Contents Tracker: the
// authoritative view of open-document text, the dirty-URI set, and a
// bounded read-through cache for closed files. It is grounded on the
// teacher's overlay-vs-disk split in
// langserver/internal/cache/file.go (File.setContent/read) and
// langserver/internal/source/cache.go, generalized from a single Go
// *ast.File per entry to plain text; staleness is tracked by the dirty-URI
// set rather than per-document.
package contents

import (
	"os"
	"sort"
	"strings"
	"sync"

	lsp "github.com/sourcegraph/go-lsp"

	"github.com/saibing/groovyls/internal/uriutil"
)

// Tracker is safe for concurrent use. did_change is total: edits for a
// single URI are applied in arrival order because callers serialize
// didChange notifications per URI before calling DidChange (the transport
// dispatches notifications in order; see internal/handler).
type Tracker struct {
	mu sync.RWMutex

	open    map[lsp.DocumentURI]*document
	changed map[lsp.DocumentURI]struct{}
	lastURI lsp.DocumentURI

	closedCache map[lsp.DocumentURI][]byte
}

// maxClosedCacheEntries bounds the closed-file cache; once full, caching a
// new disk read drops one arbitrary existing entry.
const maxClosedCacheEntries = 256

type document struct {
	text string
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		open:        make(map[lsp.DocumentURI]*document),
		changed:     make(map[lsp.DocumentURI]struct{}),
		closedCache: make(map[lsp.DocumentURI][]byte),
	}
}

// DidOpen records the editor-supplied full text for uri and marks it dirty.
func (t *Tracker) DidOpen(uri lsp.DocumentURI, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[uri] = &document{text: text}
	delete(t.closedCache, uri)
	t.changed[uri] = struct{}{}
	t.lastURI = uri
}

// DidChange applies incremental or full-document edits, in order, to an
// already-open document. A change with a nil Range is a full replace.
func (t *Tracker) DidChange(uri lsp.DocumentURI, changes []lsp.TextDocumentContentChangeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.open[uri]
	if !ok {
		// Editors occasionally send didChange before didOpen is
		// observed (e.g. a workspace rename); treat it as an open.
		doc = &document{}
		t.open[uri] = doc
	}

	for _, ch := range changes {
		if ch.Range == nil {
			doc.text = ch.Text
			continue
		}
		doc.text = applyRange(doc.text, *ch.Range, ch.Text)
	}

	t.changed[uri] = struct{}{}
	t.lastURI = uri
	return nil
}

// DidClose drops the open-document overlay for uri. The URI remains dirty
// until ResetChanged removes it, and the next GetContents falls back to
// disk (and caches the result until InvalidateClosedCache or a future
// DidOpen).
func (t *Tracker) DidClose(uri lsp.DocumentURI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, uri)
}

// ForceChanged marks uri dirty without any edit, e.g. when a compiler
// output or generated source invalidates it indirectly.
func (t *Tracker) ForceChanged(uri lsp.DocumentURI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed[uri] = struct{}{}
}

// ResetChanged removes subset from the dirty set. Passing nil clears the
// whole set.
func (t *Tracker) ResetChanged(subset []lsp.DocumentURI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if subset == nil {
		t.changed = make(map[lsp.DocumentURI]struct{})
		return
	}
	for _, uri := range subset {
		delete(t.changed, uri)
	}
}

// ChangedURIs returns a stable-ordered snapshot of the dirty set.
func (t *Tracker) ChangedURIs() []lsp.DocumentURI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]lsp.DocumentURI, 0, len(t.changed))
	for uri := range t.changed {
		out = append(out, uri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasChangedUnder reports whether any dirty URI lives under root.
// internal/compile does not call it: EnsureScopeCompiled decides from the
// scope's lifecycle flags alone.
func (t *Tracker) HasChangedUnder(root string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for uri := range t.changed {
		if uriUnder(uri, root) {
			return true
		}
	}
	return false
}

// LastOpenedURI returns the most recently opened-or-edited URI, or "" if
// none.
func (t *Tracker) LastOpenedURI() lsp.DocumentURI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastURI
}

// GetContents returns the live text for an open document, or reads
// through to disk for a closed one, caching the disk read until
// InvalidateClosedCache or a matching DidOpen. Unreadable URIs return
// nil: no error propagates, per spec.md §4.1.
func (t *Tracker) GetContents(uri lsp.DocumentURI) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if doc, ok := t.open[uri]; ok {
		return []byte(doc.text)
	}
	if cached, ok := t.closedCache[uri]; ok {
		return cached
	}

	path, err := uriutil.ToFilename(uri)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if len(t.closedCache) >= maxClosedCacheEntries {
		for k := range t.closedCache {
			delete(t.closedCache, k)
			break
		}
	}
	t.closedCache[uri] = data
	return data
}

// InvalidateClosedCache drops cached disk reads for the given URIs (or
// all of them, if uris is nil), forcing the next GetContents to re-read
// from disk.
func (t *Tracker) InvalidateClosedCache(uris []lsp.DocumentURI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if uris == nil {
		t.closedCache = make(map[lsp.DocumentURI][]byte)
		return
	}
	for _, uri := range uris {
		delete(t.closedCache, uri)
	}
}

// IsOpen reports whether uri currently has live editor-owned text.
func (t *Tracker) IsOpen(uri lsp.DocumentURI) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[uri]
	return ok
}

// OpenURIsUnder returns the open URIs rooted under root, used by the
// scope eviction sweep to decide whether a scope has open files.
func (t *Tracker) OpenURIsUnder(root string) []lsp.DocumentURI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []lsp.DocumentURI
	for uri := range t.open {
		if uriUnder(uri, root) {
			out = append(out, uri)
		}
	}
	return out
}

func uriUnder(uri lsp.DocumentURI, root string) bool {
	path, err := uriutil.ToFilename(uri)
	if err != nil {
		return false
	}
	return strings.HasPrefix(path, root)
}

// applyRange splices newText into text at the UTF-16-agnostic line/column
// offsets in r. Positions are 0-based, consistent with lsp.Position.
func applyRange(text string, r lsp.Range, newText string) string {
	start := offsetOf(text, r.Start)
	end := offsetOf(text, r.End)
	if start < 0 || end < 0 || start > len(text) || end > len(text) || start > end {
		// Malformed range from a misbehaving client; ignore rather
		// than panic or corrupt the buffer.
		return text
	}
	var b strings.Builder
	b.WriteString(text[:start])
	b.WriteString(newText)
	b.WriteString(text[end:])
	return b.String()
}

func offsetOf(text string, pos lsp.Position) int {
	line := 0
	col := 0
	for i, r := range text {
		if line == pos.Line && col == pos.Character {
			return i
		}
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	if line == pos.Line && col == pos.Character {
		return len(text)
	}
	if pos.Line > line {
		return len(text)
	}
	return -1
}
