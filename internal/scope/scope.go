// Package scope implements C3 (Project Scope) and C4 (Scope Manager) from
// spec.md. A Scope is the per-project-root state record described in
// spec.md §3; the Manager is the registry, URI routing table, and
// eviction sweeper from §4.3. Grounded on the teacher's per-project state
// record in langserver/internal/cache/project.go (Project) and the
// per-subproject record in langserver/internal/cache/module.go (module),
// generalized from a single GOPATH/module-mode project per process to a
// registry of independently-resolved project scopes.
package scope

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lsp "github.com/sourcegraph/go-lsp"

	"github.com/saibing/groovyls/internal/compiler"
	"github.com/saibing/groovyls/internal/depgraph"
	"github.com/saibing/groovyls/internal/sharedcache"
	"github.com/saibing/groovyls/internal/uriutil"
)

// ResolutionState is the per-scope classpath resolution state machine
// from spec.md §4.3.
type ResolutionState int

const (
	ResolutionNone ResolutionState = iota
	ResolutionRequested
	ResolutionResolving
	ResolutionResolved
	ResolutionFailed
)

// DefaultRoot identifies the synthetic scope that owns files before any
// project root has been registered (spec.md §8 S1: "...or the default
// scope if S is empty").
const DefaultRoot = ""

type astBox struct{ idx compiler.ASTIndex }

// Scope is the per-project-root state record (spec.md §3). All mutation
// of its fields must hold the write side of Lock; the ast index is the
// one field that may be read without the lock, via ASTIndex(), because it
// is published by atomic store and never mutated in place (spec.md §5,
// §9 "single-writer-per-scope + atomic pointer").
type Scope struct {
	lock sync.RWMutex

	ProjectRoot      string
	excludedSubRoots []string

	classpath         []string
	classpathResolved bool
	languageVersion   *string

	compilationUnit compiler.CompilationUnit
	astIndexPtr     atomic.Value // *astBox
	classloader     compiler.Classloader
	classGraphScan  *sharedcache.Handle

	dependencyGraph *depgraph.Graph
	classSignatures map[lsp.DocumentURI][]compiler.ClassSignature

	previousDiagnosticsByURI map[lsp.DocumentURI][]lsp.Diagnostic
	previousContextURI       lsp.DocumentURI

	compiled          bool
	fullyCompiled     bool
	compilationFailed bool
	evicted           bool

	resolutionState ResolutionState

	lastAccessedAt time.Time
}

// New creates a scope with an empty, unresolved classpath.
func New(projectRoot string) *Scope {
	s := &Scope{
		ProjectRoot:              projectRoot,
		dependencyGraph:          depgraph.New(),
		previousDiagnosticsByURI: make(map[lsp.DocumentURI][]lsp.Diagnostic),
		lastAccessedAt:           time.Now(),
	}
	return s
}

// Lock acquires the scope's write lock. Every mutation of scope state
// (other than the AST index, which is atomic) must hold this.
func (s *Scope) Lock()   { s.lock.Lock() }
func (s *Scope) Unlock() { s.lock.Unlock() }

// RLock/RUnlock acquire the read side, for handlers that want a
// consistent multi-field read without risking a concurrent writer.
func (s *Scope) RLock()   { s.lock.RLock() }
func (s *Scope) RUnlock() { s.lock.RUnlock() }

// Touch updates last_accessed_at; called on every access per spec.md §3.
func (s *Scope) Touch() {
	s.lock.Lock()
	s.lastAccessedAt = time.Now()
	s.lock.Unlock()
}

// LastAccessedAt returns the monotonic last-access timestamp.
func (s *Scope) LastAccessedAt() time.Time {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastAccessedAt
}

// Classpath returns a copy of the scope's current classpath entries. It
// takes the read lock itself, so callers must not already hold the lock.
func (s *Scope) Classpath() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.classpath...)
}

// ClasspathResolved reports invariant 2's gate: a scope with
// classpath_resolved == false must not be compiled.
func (s *Scope) ClasspathResolved() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.classpathResolved
}

// ClasspathResolvedLocked is ClasspathResolved for a caller that already
// holds the write lock (e.g. internal/compile's ensure_scope_compiled,
// whose precondition is that the caller holds the lock for the whole
// call). Go's sync.RWMutex is not reentrant, so calling the self-locking
// accessor from inside such a call would deadlock.
func (s *Scope) ClasspathResolvedLocked() bool { return s.classpathResolved }

// SetClasspath installs a newly-resolved classpath. Caller must hold the
// write lock.
func (s *Scope) SetClasspath(cp []string, resolved bool) {
	s.classpath = append([]string(nil), cp...)
	s.classpathResolved = resolved
}

// ExcludedSubRoots returns the descendant project roots this scope
// should not claim files under (they belong to a nested sibling scope).
func (s *Scope) ExcludedSubRoots() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.excludedSubRoots...)
}

// SetExcludedSubRoots installs the exclusion list computed at
// registration time. Caller must hold the write lock.
func (s *Scope) SetExcludedSubRoots(roots []string) {
	s.excludedSubRoots = append([]string(nil), roots...)
}

// ExcludedSubRootsLocked is ExcludedSubRoots for a caller already holding
// the write lock. See ClasspathResolvedLocked.
func (s *Scope) ExcludedSubRootsLocked() []string {
	return append([]string(nil), s.excludedSubRoots...)
}

// LanguageVersion returns the importer-detected language version, if any.
func (s *Scope) LanguageVersion() *string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.languageVersion
}

// SetLanguageVersion records the importer-detected version. Caller must
// hold the write lock.
func (s *Scope) SetLanguageVersion(v *string) { s.languageVersion = v }

// CompilationUnit returns the scope's owned compilation unit, or nil.
func (s *Scope) CompilationUnit() compiler.CompilationUnit {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.compilationUnit
}

// SetCompilationUnit replaces the compilation unit, closing the previous
// one. Caller must hold the write lock.
func (s *Scope) SetCompilationUnit(u compiler.CompilationUnit) {
	if s.compilationUnit != nil {
		_ = s.compilationUnit.Close()
	}
	s.compilationUnit = u
}

// CompilationUnitLocked is CompilationUnit for a caller already holding
// the write lock. See ClasspathResolvedLocked.
func (s *Scope) CompilationUnitLocked() compiler.CompilationUnit { return s.compilationUnit }

// ASTIndex loads the current AST index without requiring the scope lock
// (spec.md §5: "requests that snapshot the AST pointer without the lock
// may observe a stale but internally consistent AST").
func (s *Scope) ASTIndex() compiler.ASTIndex {
	v, _ := s.astIndexPtr.Load().(*astBox)
	if v == nil {
		return nil
	}
	return v.idx
}

// SetASTIndex atomically publishes a new AST index. Caller must hold the
// write lock (the store itself is atomic, but index replacement must be
// serialized with the rest of a compile's side effects).
func (s *Scope) SetASTIndex(idx compiler.ASTIndex) {
	s.astIndexPtr.Store(&astBox{idx: idx})
}

// Classloader returns the scope's owned classloader, or nil.
func (s *Scope) Classloader() compiler.Classloader {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.classloader
}

// SetClassloader replaces the classloader, disposing the previous one and
// reporting whether the classloader instance actually changed (callers
// use this to decide whether to invalidate the class-graph scan, per
// invariant 5). Caller must hold the write lock.
func (s *Scope) SetClassloader(cl compiler.Classloader) (changed bool) {
	changed = s.classloader != cl
	if s.classloader != nil && changed {
		_ = s.classloader.Close()
	}
	s.classloader = cl
	return changed
}

// ClassloaderLocked is Classloader for a caller already holding the write
// lock. See ClasspathResolvedLocked.
func (s *Scope) ClassloaderLocked() compiler.Classloader { return s.classloader }

// ClassGraphScan returns the reference-counted shared scan handle, or nil
// if not yet populated.
func (s *Scope) ClassGraphScan() *sharedcache.Handle {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.classGraphScan
}

// SetClassGraphScan installs a new shared scan handle, releasing the
// previous one. Caller must hold the write lock.
func (s *Scope) SetClassGraphScan(h *sharedcache.Handle) {
	if s.classGraphScan != nil {
		s.classGraphScan.Release()
	}
	s.classGraphScan = h
}

// InvalidateClassGraphScan releases and clears the shared scan handle
// without installing a replacement (used when a classloader changes or a
// build file is edited, but no new scan has been computed yet).
func (s *Scope) InvalidateClassGraphScan() {
	if s.classGraphScan != nil {
		s.classGraphScan.Release()
		s.classGraphScan = nil
	}
}

// DependencyGraph returns the scope's C2 instance.
func (s *Scope) DependencyGraph() *depgraph.Graph { return s.dependencyGraph }

// ClassSignatures returns the class signatures captured at the most
// recent compile, keyed by URI; used by the incremental compiler to
// detect a public-API change that forces a fallback to a full compile.
func (s *Scope) ClassSignatures() map[lsp.DocumentURI][]compiler.ClassSignature {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[lsp.DocumentURI][]compiler.ClassSignature, len(s.classSignatures))
	for k, v := range s.classSignatures {
		out[k] = v
	}
	return out
}

// MergeClassSignatures overlays fresh per-URI signatures onto the
// previously recorded set. Caller must hold the write lock.
func (s *Scope) MergeClassSignatures(fresh map[lsp.DocumentURI][]compiler.ClassSignature) {
	if s.classSignatures == nil {
		s.classSignatures = make(map[lsp.DocumentURI][]compiler.ClassSignature)
	}
	for k, v := range fresh {
		s.classSignatures[k] = v
	}
}

// ClassSignaturesLocked is ClassSignatures for a caller already holding
// the write lock. See ClasspathResolvedLocked.
func (s *Scope) ClassSignaturesLocked() map[lsp.DocumentURI][]compiler.ClassSignature {
	out := make(map[lsp.DocumentURI][]compiler.ClassSignature, len(s.classSignatures))
	for k, v := range s.classSignatures {
		out[k] = v
	}
	return out
}

// Compiled/FullyCompiled/CompilationFailed/Evicted expose the lifecycle
// flags from spec.md §3. All require the caller to hold at least the
// read lock for a consistent snapshot across multiple flags; single-flag
// reads take their own lock.
func (s *Scope) Compiled() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.compiled
}

func (s *Scope) SetCompiled(v bool) { s.compiled = v }

// CompiledLocked is Compiled for a caller already holding the write lock.
func (s *Scope) CompiledLocked() bool { return s.compiled }

func (s *Scope) FullyCompiled() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.fullyCompiled
}

func (s *Scope) SetFullyCompiled(v bool) { s.fullyCompiled = v }

// FullyCompiledLocked is FullyCompiled for a caller already holding the
// write lock.
func (s *Scope) FullyCompiledLocked() bool { return s.fullyCompiled }

func (s *Scope) CompilationFailed() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.compilationFailed
}

func (s *Scope) SetCompilationFailed(v bool) { s.compilationFailed = v }

// CompilationFailedLocked is CompilationFailed for a caller already
// holding the write lock.
func (s *Scope) CompilationFailedLocked() bool { return s.compilationFailed }

func (s *Scope) Evicted() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.evicted
}

func (s *Scope) SetEvicted(v bool) { s.evicted = v }

// ResolutionState returns the current classpath resolution state.
func (s *Scope) ResolutionState() ResolutionState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.resolutionState
}

// SetResolutionState transitions the resolution state machine. Caller
// must hold the write lock.
func (s *Scope) SetResolutionState(state ResolutionState) { s.resolutionState = state }

// PreviousDiagnostics returns the last-published diagnostics by URI, used
// to clear stale entries on the next publish.
func (s *Scope) PreviousDiagnostics() map[lsp.DocumentURI][]lsp.Diagnostic {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[lsp.DocumentURI][]lsp.Diagnostic, len(s.previousDiagnosticsByURI))
	for k, v := range s.previousDiagnosticsByURI {
		out[k] = v
	}
	return out
}

// SetPreviousDiagnostics replaces the last-published-diagnostics map.
// Caller must hold the write lock.
func (s *Scope) SetPreviousDiagnostics(m map[lsp.DocumentURI][]lsp.Diagnostic) {
	s.previousDiagnosticsByURI = m
}

// PreviousDiagnosticsLocked is PreviousDiagnostics for a caller already
// holding the write lock. See ClasspathResolvedLocked.
func (s *Scope) PreviousDiagnosticsLocked() map[lsp.DocumentURI][]lsp.Diagnostic {
	out := make(map[lsp.DocumentURI][]lsp.Diagnostic, len(s.previousDiagnosticsByURI))
	for k, v := range s.previousDiagnosticsByURI {
		out[k] = v
	}
	return out
}

// PreviousContextURI / SetPreviousContextURI track the last LSP request
// focus, used by providers that want "the file the user was just looking
// at" context.
func (s *Scope) PreviousContextURI() lsp.DocumentURI {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.previousContextURI
}

func (s *Scope) SetPreviousContextURI(uri lsp.DocumentURI) { s.previousContextURI = uri }

// Dispose releases every heavy, owned resource (used by eviction and by
// final shutdown). Caller must hold the write lock.
func (s *Scope) Dispose() {
	if s.compilationUnit != nil {
		_ = s.compilationUnit.Close()
		s.compilationUnit = nil
	}
	if s.classloader != nil {
		_ = s.classloader.Close()
		s.classloader = nil
	}
	if s.classGraphScan != nil {
		s.classGraphScan.Release()
		s.classGraphScan = nil
	}
	s.astIndexPtr.Store((*astBox)(nil))
}

// Owns reports whether path falls under this scope's root and not under
// any excluded (nested sibling) sub-root — the longest-prefix-match
// ownership test from spec.md §4.3.
func (s *Scope) Owns(path string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.ProjectRoot == DefaultRoot {
		return true
	}
	if !hasPathPrefix(path, s.ProjectRoot) {
		return false
	}
	for _, ex := range s.excludedSubRoots {
		if hasPathPrefix(path, ex) {
			return false
		}
	}
	return true
}

func hasPathPrefix(path, root string) bool {
	if path == root {
		return true
	}
	if len(root) == 0 {
		return true
	}
	if len(path) <= len(root) {
		return false
	}
	if path[:len(root)] != root {
		return false
	}
	sep := path[len(root)]
	return sep == '/' || root[len(root)-1] == '/'
}

// sortedByRootDescending sorts scopes by descending path length, giving
// invariant 1 ("scopes are totally ordered by descending path length").
func sortedByRootDescending(scopes []*Scope) []*Scope {
	out := append([]*Scope(nil), scopes...)
	sort.Slice(out, func(i, j int) bool { return len(out[i].ProjectRoot) > len(out[j].ProjectRoot) })
	return out
}

func filenameOrEmpty(uri lsp.DocumentURI) string {
	path, err := uriutil.ToFilename(uri)
	if err != nil {
		return ""
	}
	return path
}
