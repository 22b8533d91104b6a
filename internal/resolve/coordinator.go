// Coordinator implements C6's request_resolution and sibling-backfill
// flow (spec.md §4.5). Grounded on the teacher's lazy package-cache
// population in langserver/internal/caches/package_cache.go, generalized
// to a pluggable Importer and a debounced batch path for sibling
// projects under the same build-tool root.
package resolve

import (
	"context"
	"sync"
	"time"

	lsp "github.com/sourcegraph/go-lsp"
	log15 "gopkg.in/inconshreveable/log15.v2"

	"github.com/saibing/groovyls/internal/compiler"
	"github.com/saibing/groovyls/internal/exec"
	"github.com/saibing/groovyls/internal/logging"
	"github.com/saibing/groovyls/internal/protocol"
	"github.com/saibing/groovyls/internal/scope"
)

// siblingBackfillDelay is the coalescing window from spec.md §4.5: the
// newest resolution for a build-tool root restarts the timer for every
// sibling still waiting its turn.
const siblingBackfillDelay = 2000 * time.Millisecond

// StatusReporter emits the custom statusUpdate notification (spec.md §6)
// while a resolution is in flight.
type StatusReporter interface {
	StatusUpdate(state, message string)
}

// Registry is the subset of *scope.Manager the coordinator needs: looking
// up scopes and applying a resolved classpath to one.
type Registry interface {
	MarkResolutionStarted(s *scope.Scope) bool
	UpdateProjectClasspath(s *scope.Scope, classpath []string, version *string, markResolved bool, newClassloader func([]string) bool, cleanStale scope.StaleClassFileCleaner)
	All() []*scope.Scope
}

// OpenFiles reports whether a project root has any editor-open file, the
// trigger for step 9's "compile if it has open files".
type OpenFiles interface {
	OpenURIsUnder(root string) []lsp.DocumentURI
}

// Compiler is the subset of internal/compile.Service the coordinator
// needs to trigger a full compile once a classpath lands and to rebuild a
// scope's classloader from that classpath (spec.md invariant 5).
type Compiler interface {
	EnsureScopeCompiled(ctx context.Context, s *scope.Scope, triggerURI lsp.DocumentURI, staged bool) bool
	NewClassloader(ctx context.Context, classpath []string) (compiler.Classloader, error)
}

// Coordinator is C6. One per server instance.
type Coordinator struct {
	registry  Registry
	importers map[string]Importer
	pools     *exec.Pools
	cache     *Cache
	cacheOn   bool
	status    StatusReporter
	open      OpenFiles
	compiler  Compiler
	cleanup   scope.StaleClassFileCleaner

	backfillMu sync.Mutex
	backfill   map[string]*backfillTask // build_tool_root -> pending
}

type backfillTask struct {
	cancel context.CancelFunc
}

// New creates a coordinator. importers is keyed by Importer.Name(). cleanup
// removes stale .class output once a classpath lands (spec.md §4.3); may be
// nil.
func New(registry Registry, importers map[string]Importer, pools *exec.Pools, cache *Cache, cacheEnabled bool, status StatusReporter, open OpenFiles, compiler Compiler, cleanup scope.StaleClassFileCleaner) *Coordinator {
	return &Coordinator{
		registry:  registry,
		importers: importers,
		pools:     pools,
		cache:     cache,
		cacheOn:   cacheEnabled,
		status:    status,
		open:      open,
		compiler:  compiler,
		cleanup:   cleanup,
		backfill:  map[string]*backfillTask{},
	}
}

// classloaderFactory returns the newClassloader callback UpdateProjectClasspath
// uses to rebuild s's classloader from a freshly resolved classpath, so the
// compiler backend actually sees the resolved classpath it compiles against
// (spec.md §1, invariant 5). nil if this coordinator has no compiler wired.
func (c *Coordinator) classloaderFactory(ctx context.Context, s *scope.Scope) func([]string) bool {
	if c.compiler == nil {
		return nil
	}
	return func(cp []string) bool {
		cl, err := c.compiler.NewClassloader(ctx, cp)
		if err != nil {
			logging.ForProject(s.ProjectRoot).Warn("classloader build failed", "err", err)
			return false
		}
		return s.SetClassloader(cl)
	}
}

// RequestResolution is spec.md §4.5's request_resolution. No-op if the
// scope is already resolved or a resolution is already in flight
// (property 2: dedup of resolution).
func (c *Coordinator) RequestResolution(ctx context.Context, s *scope.Scope, importerName string, triggerURI lsp.DocumentURI) {
	s.Lock()
	alreadyResolved := s.ClasspathResolvedLocked()
	s.Unlock()
	if alreadyResolved {
		return
	}
	if !c.registry.MarkResolutionStarted(s) {
		return
	}

	importer, ok := c.importers[importerName]
	if !ok {
		logging.ForProject(s.ProjectRoot).Error("no importer registered", "importer", importerName)
		s.Lock()
		s.SetResolutionState(scope.ResolutionFailed)
		s.Unlock()
		return
	}

	c.pools.Import.Submit(ctx, s.ProjectRoot, func(ctx context.Context) {
		c.resolveOne(ctx, s, importer, triggerURI)
	})
}

func (c *Coordinator) resolveOne(ctx context.Context, s *scope.Scope, importer Importer, triggerURI lsp.DocumentURI) {
	log := logging.ForProject(s.ProjectRoot)
	if c.status != nil {
		c.status.StatusUpdate(protocol.StatusImporting, s.ProjectRoot)
	}
	start := time.Now()

	cp, err := importer.ResolveClasspath(ctx, s.ProjectRoot)
	if err != nil {
		log.Error("importer resolve_classpath failed", "importer", importer.Name(), "err", err, "elapsed", time.Since(start))
		s.Lock()
		s.SetResolutionState(scope.ResolutionFailed)
		s.Unlock()
		return
	}
	log.Info("classpath resolved", "importer", importer.Name(), "entries", len(cp), "elapsed", time.Since(start))

	markResolved := importer.ShouldMarkClasspathResolved(s.ProjectRoot, cp)
	version := importer.DetectProjectLanguageVersion(s.ProjectRoot, cp)

	c.registry.UpdateProjectClasspath(s, cp, version, markResolved, c.classloaderFactory(ctx, s), c.cleanup)
	s.Lock()
	if markResolved {
		s.SetResolutionState(scope.ResolutionResolved)
	} else {
		s.SetResolutionState(scope.ResolutionNone)
	}
	s.Unlock()

	if err := importer.Recompile(ctx, s.ProjectRoot); err != nil {
		log.Warn("importer recompile failed", "err", err)
	}

	if c.cacheOn && markResolved && c.cache != nil {
		c.persist(s.ProjectRoot, cp, version, log)
	}

	if markResolved {
		if c.status != nil {
			c.status.StatusUpdate(protocol.StatusReady, s.ProjectRoot)
		}
		c.triggerCompileIfOpen(ctx, s, triggerURI)
		c.ScheduleBackfill(ctx, s.ProjectRoot, importer)
	}

	importer.DownloadSourceJarsAsync(s.ProjectRoot)
}

// triggerCompileIfOpen is step 9: a resolved scope with no open editors
// stays uncompiled until something opens it.
func (c *Coordinator) triggerCompileIfOpen(ctx context.Context, s *scope.Scope, triggerURI lsp.DocumentURI) {
	if c.compiler == nil || c.open == nil {
		return
	}
	if len(c.open.OpenURIsUnder(s.ProjectRoot)) == 0 {
		return
	}
	s.Lock()
	defer s.Unlock()
	c.compiler.EnsureScopeCompiled(ctx, s, triggerURI, triggerURI != "")
}

func (c *Coordinator) persist(root string, cp []string, version *string, log log15.Logger) {
	v := ""
	if version != nil {
		v = *version
	}
	var discovered []string
	for _, s := range c.registry.All() {
		discovered = append(discovered, s.ProjectRoot)
	}
	if err := c.cache.Put(root, CacheEntry{Classpath: cp, LanguageVersion: v, DiscoveredRoots: discovered}); err != nil {
		log.Warn("classpath cache write failed", "err", err)
	}
}

// ScheduleBackfill is spec.md §4.5's sibling backfill: the newest call for
// a given build_tool_root cancels and replaces any pending one
// (property 3: backfill coalescing).
func (c *Coordinator) ScheduleBackfill(ctx context.Context, projectRoot string, importer Importer) {
	if !importer.SupportsSiblingBatching() {
		return
	}
	buildRoot := importer.GetBuildToolRoot(projectRoot)
	if buildRoot == "" {
		return
	}

	c.backfillMu.Lock()
	if existing, ok := c.backfill[buildRoot]; ok {
		existing.cancel()
	}
	bctx, cancel := context.WithCancel(context.Background())
	c.backfill[buildRoot] = &backfillTask{cancel: cancel}
	c.backfillMu.Unlock()

	c.pools.Scheduling.Submit(ctx, projectRoot, func(_ context.Context) {
		timer := time.NewTimer(siblingBackfillDelay)
		defer timer.Stop()
		select {
		case <-bctx.Done():
			return
		case <-timer.C:
		}
		c.runBackfill(ctx, buildRoot, importer)
	})
}

func (c *Coordinator) runBackfill(ctx context.Context, buildRoot string, importer Importer) {
	c.backfillMu.Lock()
	delete(c.backfill, buildRoot)
	c.backfillMu.Unlock()

	log := logging.ForProject(buildRoot)

	var claimed []*scope.Scope
	var roots []string
	for _, s := range c.registry.All() {
		if importer.GetBuildToolRoot(s.ProjectRoot) != buildRoot {
			continue
		}
		s.Lock()
		resolved := s.ClasspathResolvedLocked()
		s.Unlock()
		if resolved {
			continue
		}
		if !c.registry.MarkResolutionStarted(s) {
			continue
		}
		claimed = append(claimed, s)
		roots = append(roots, s.ProjectRoot)
	}
	if len(claimed) == 0 {
		return
	}

	results, err := importer.ResolveClasspathsForRoot(ctx, buildRoot, roots)
	if err != nil {
		log.Error("sibling backfill resolve failed", "err", err)
		for _, s := range claimed {
			s.Lock()
			s.SetResolutionState(scope.ResolutionFailed)
			s.Unlock()
		}
		return
	}

	for _, s := range claimed {
		cp, ok := results[s.ProjectRoot]
		if !ok {
			s.Lock()
			s.SetResolutionState(scope.ResolutionFailed)
			s.Unlock()
			continue
		}
		markResolved := importer.ShouldMarkClasspathResolved(s.ProjectRoot, cp)
		version := importer.DetectProjectLanguageVersion(s.ProjectRoot, cp)
		c.registry.UpdateProjectClasspath(s, cp, version, markResolved, c.classloaderFactory(ctx, s), c.cleanup)
		s.Lock()
		if markResolved {
			s.SetResolutionState(scope.ResolutionResolved)
		} else {
			s.SetResolutionState(scope.ResolutionNone)
		}
		s.Unlock()
		if markResolved {
			c.triggerCompileIfOpen(ctx, s, "")
		}
		if c.cacheOn && markResolved && c.cache != nil {
			c.persist(s.ProjectRoot, cp, version, log)
		}
	}
	log.Info("sibling backfill complete", "siblings", len(claimed))
}

// Shutdown cancels every pending backfill future.
func (c *Coordinator) Shutdown() {
	c.backfillMu.Lock()
	defer c.backfillMu.Unlock()
	for root, t := range c.backfill {
		t.cancel()
		delete(c.backfill, root)
	}
}
