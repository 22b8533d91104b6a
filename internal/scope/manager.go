package scope

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lsp "github.com/sourcegraph/go-lsp"
	log15 "gopkg.in/inconshreveable/log15.v2"

	"github.com/saibing/groovyls/internal/logging"
	"github.com/saibing/groovyls/internal/sharedcache"
	"github.com/saibing/groovyls/internal/uriutil"
)

// OpenFilesUnder reports whether any editor-open file lives under root;
// the eviction sweeper uses it to avoid evicting scopes a user is
// actively looking at. Implemented by internal/contents.Tracker.
type OpenFilesUnder func(root string) bool

// HeapStats reports used/max heap, for the memory-pressure eviction
// trigger. used and max share units (e.g. bytes); only their ratio
// matters.
type HeapStats func() (used, max uint64)

// StaleClassFileCleaner removes compiled output whose source no longer
// exists under root — an external filesystem operation the compiler
// back-end knows how to do safely (spec.md §4.3: "a correctness step —
// stale class files would be resolved by the classloader in preference
// to source").
type StaleClassFileCleaner func(root string)

// Manager is C4, the Scope Registry: URI routing, registration,
// classpath application, and eviction. Grounded on the teacher's
// project-discovery and fsnotify-driven invalidation in
// langserver/internal/cache/project.go, generalized from one process-wide
// Project to a registry of scopes plus a longest-prefix route cache.
type Manager struct {
	mutationLock sync.Mutex // serializes cross-scope mutations (spec.md §5)

	mu          sync.RWMutex // guards scopes/routeCache below
	scopes      map[string]*Scope
	routeCache  map[lsp.DocumentURI]*Scope
	defaultOnce sync.Once
	defaultScp  *Scope

	sharedScans    *sharedcache.Cache
	classpathIndex *sharedcache.Cache

	evictionStop chan struct{}

	log log15.Logger
}

// NewManager creates an empty scope registry.
func NewManager() *Manager {
	return &Manager{
		scopes:         make(map[string]*Scope),
		routeCache:     make(map[lsp.DocumentURI]*Scope),
		sharedScans:    sharedcache.New(),
		classpathIndex: sharedcache.New(),
		log:            logging.Root,
	}
}

// SharedScans returns the reference-counted class-graph-scan cache (C3's
// class_graph_scan field is a handle into this).
func (m *Manager) SharedScans() *sharedcache.Cache { return m.sharedScans }

// ClasspathIndexCache returns the reference-counted shared classpath
// index cache.
func (m *Manager) ClasspathIndexCache() *sharedcache.Cache { return m.classpathIndex }

// Default returns the synthetic scope that owns files before any project
// root is registered (spec.md §8 S1).
func (m *Manager) Default() *Scope {
	m.defaultOnce.Do(func() {
		m.defaultScp = New(DefaultRoot)
	})
	return m.defaultScp
}

// All returns a snapshot of every registered scope, longest-root-first
// (invariant 1).
func (m *Manager) All() []*Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		out = append(out, s)
	}
	return sortedByRootDescending(out)
}

// Get returns the registered scope for root, if any.
func (m *Manager) Get(root string) (*Scope, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[root]
	return s, ok
}

// FindScope implements the routing determinism property (spec.md §8
// property 1): longest-project-root-prefix match for file URIs, jar
// classpath membership (tie-broken by most-recently-accessed) for
// jar-scheme URIs, the default scope if none is registered, or nil.
func (m *Manager) FindScope(uri lsp.DocumentURI) *Scope {
	if uriutil.IsJarURI(uri) {
		return m.findScopeForJar(uri)
	}

	m.mu.RLock()
	if cached, ok := m.routeCache[uri]; ok {
		m.mu.RUnlock()
		return cached
	}
	scopes := make([]*Scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		scopes = append(scopes, s)
	}
	m.mu.RUnlock()

	if len(scopes) == 0 {
		return m.Default()
	}

	path, err := uriutil.ToFilename(uri)
	if err != nil {
		return nil
	}

	scopes = sortedByRootDescending(scopes)
	for _, s := range scopes {
		if s.Owns(path) {
			m.mu.Lock()
			m.routeCache[uri] = s
			m.mu.Unlock()
			return s
		}
	}
	return nil
}

func (m *Manager) findScopeForJar(uri lsp.DocumentURI) *Scope {
	jarPath, ok := uriutil.JarPath(uri)
	if !ok {
		return nil
	}

	var best *Scope
	for _, s := range m.All() {
		for _, cp := range s.Classpath() {
			if cp == jarPath {
				if best == nil || s.LastAccessedAt().After(best.LastAccessedAt()) {
					best = s
				}
			}
		}
	}
	return best
}

// clearRouteCache drops the URI->scope cache; called on any scope-list
// mutation, per spec.md §4.3.
func (m *Manager) clearRouteCache() {
	m.mu.Lock()
	m.routeCache = make(map[lsp.DocumentURI]*Scope)
	m.mu.Unlock()
}

// RegisterDiscovered creates scopes for roots with empty, unresolved
// classpaths, computes each scope's exclusion list (any other root that
// is a descendant of its own root), publishes the scope list atomically,
// clears the route cache, and clears the default scope's diagnostics
// (those files now belong to a real scope).
func (m *Manager) RegisterDiscovered(roots []string) []*Scope {
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	created := make([]*Scope, 0, len(roots))
	m.mu.Lock()
	for _, root := range roots {
		if _, ok := m.scopes[root]; ok {
			continue
		}
		s := New(root)
		m.scopes[root] = s
		created = append(created, s)
	}
	m.computeExclusionsLocked()
	m.mu.Unlock()

	m.clearRouteCache()
	m.Default().SetPreviousDiagnostics(make(map[lsp.DocumentURI][]lsp.Diagnostic))
	return created
}

// AddProjects behaves like RegisterDiscovered but also installs a known
// classpath and marks the scope resolved, for callers (tests, or an
// editor extension) that already know the classpath up front.
func (m *Manager) AddProjects(rootsToClasspath map[string][]string) []*Scope {
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	created := make([]*Scope, 0, len(rootsToClasspath))
	m.mu.Lock()
	for root, cp := range rootsToClasspath {
		s, ok := m.scopes[root]
		if !ok {
			s = New(root)
			m.scopes[root] = s
		}
		s.Lock()
		s.SetClasspath(cp, true)
		s.Unlock()
		created = append(created, s)
	}
	m.computeExclusionsLocked()
	m.mu.Unlock()

	m.clearRouteCache()
	return created
}

func (m *Manager) computeExclusionsLocked() {
	roots := make([]string, 0, len(m.scopes))
	for r := range m.scopes {
		roots = append(roots, r)
	}
	for root, s := range m.scopes {
		var excluded []string
		for _, other := range roots {
			if other == root {
				continue
			}
			if strings.HasPrefix(other, root+string(filepath.Separator)) || strings.HasPrefix(other, root+"/") {
				excluded = append(excluded, other)
			}
		}
		s.Lock()
		s.SetExcludedSubRoots(excluded)
		s.Unlock()
	}
}

// UpdateProjectClasspath applies a newly-resolved classpath under the
// scope's write lock: installs the classpath, clears the class-graph
// scan if the classloader changes, invalidates compiled/fully_compiled if
// the scope was previously compiled, resets any prior OOM flag, and
// cleans stale .class files whose source is gone.
func (m *Manager) UpdateProjectClasspath(s *Scope, classpath []string, version *string, markResolved bool, newClassloader func(cp []string) (changed bool), cleanStale StaleClassFileCleaner) {
	s.Lock()
	defer s.Unlock()

	s.SetClasspath(classpath, markResolved)
	if version != nil {
		s.SetLanguageVersion(version)
	}

	if newClassloader != nil && newClassloader(classpath) {
		s.InvalidateClassGraphScan()
	}

	if s.compiled {
		s.SetCompiled(false)
		s.SetFullyCompiled(false)
	}
	s.SetCompilationFailed(false)

	if cleanStale != nil {
		cleanStale(s.ProjectRoot)
	}
}

// MarkResolutionStarted is an atomic test-and-set: it returns true only
// for the first caller to claim root's resolution, implementing the
// dedup-of-resolution property (spec.md §8 property 2).
func (m *Manager) MarkResolutionStarted(s *Scope) bool {
	s.Lock()
	defer s.Unlock()
	if s.resolutionState == ResolutionRequested || s.resolutionState == ResolutionResolving {
		return false
	}
	s.SetResolutionState(ResolutionResolving)
	return true
}

// EnsureCreated returns the scope for root, creating an empty unresolved
// one if it doesn't exist yet. Sibling backfill does not call it: a
// batched importer response is applied only to scopes already registered.
func (m *Manager) EnsureCreated(root string) *Scope {
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	m.mu.Lock()
	s, ok := m.scopes[root]
	if !ok {
		s = New(root)
		m.scopes[root] = s
		m.computeExclusionsLocked()
	}
	m.mu.Unlock()
	if !ok {
		m.clearRouteCache()
	}
	return s
}

// StartEvictionSweeper runs the periodic eviction sweep described in
// spec.md §4.3 at the given interval until ctx is done. A scope is
// TTL-evicted when it has no open files under its root and
// last_accessed_at is older than ttl. Regardless of TTL, when used/max
// heap reaches pressureThreshold, the least-recently-accessed non-open
// scope is also evicted.
func (m *Manager) StartEvictionSweeper(ctx context.Context, interval, ttl time.Duration, pressureThreshold float64, heap HeapStats, openUnder OpenFilesUnder) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepOnce(ttl, pressureThreshold, heap, openUnder)
			}
		}
	}()
}

func (m *Manager) sweepOnce(ttl time.Duration, pressureThreshold float64, heap HeapStats, openUnder OpenFilesUnder) {
	now := time.Now()
	scopes := m.All()

	for _, s := range scopes {
		if s.Evicted() || openUnder(s.ProjectRoot) {
			continue
		}
		if now.Sub(s.LastAccessedAt()) >= ttl {
			m.evict(s)
		}
	}

	if heap == nil {
		return
	}
	used, max := heap()
	if max == 0 || float64(used)/float64(max) < pressureThreshold {
		return
	}

	var oldest *Scope
	for _, s := range scopes {
		if s.Evicted() || openUnder(s.ProjectRoot) {
			continue
		}
		if oldest == nil || s.LastAccessedAt().Before(oldest.LastAccessedAt()) {
			oldest = s
		}
	}
	if oldest != nil {
		m.log.Warn("evicting under memory pressure", "project", oldest.ProjectRoot)
		m.evict(oldest)
	}
}

func (m *Manager) evict(s *Scope) {
	s.Lock()
	defer s.Unlock()
	s.Dispose()
	s.SetEvicted(true)
	s.SetCompiled(false)
	s.SetFullyCompiled(false)
	m.log.Debug("evicted idle scope", "project", s.ProjectRoot)
}

// Reaccess clears the evicted flag so the next ensure_scope_compiled runs
// a full compile, transparently re-creating the scope's heavy state
// (spec.md §8 property 7: "eviction transparency").
func (m *Manager) Reaccess(s *Scope) {
	s.Touch()
	if s.Evicted() {
		s.Lock()
		s.SetEvicted(false)
		s.Unlock()
	}
}
