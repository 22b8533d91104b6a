// Package fake provides a minimal stand-in resolve.Importer, used by
// this repo's own tests and as the default "no build tool configured"
// wiring in cmd/groovyls. Real Gradle/Maven invocation is an external
// collaborator out of scope per spec.md §1 ("build-tool binary
// invocations"); this importer returns whatever classpath the caller
// preseeded for a root, the way a test double stands in for the
// compiler in internal/compiler/fake.
package fake

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Importer answers ResolveClasspath from a preseeded map, so tests (and
// a from-source run with no real build-tool wiring) can drive C6's
// resolution paths deterministically.
type Importer struct {
	mu sync.Mutex

	name       string
	log        logr.Logger
	siblings   bool
	buildRoots map[string]string // projectRoot -> buildToolRoot
	classpaths map[string]([]string)
	degraded   map[string]bool
	versions   map[string]string
	FailRoots  map[string]bool
	Recompiled []string
}

// New builds a fake importer named name, logging its resolution and
// recompile calls through log (see resolve.NewImporterLogger).
func New(name string, log logr.Logger) *Importer {
	return &Importer{
		name:       name,
		log:        log,
		buildRoots: map[string]string{},
		classpaths: map[string][]string{},
		degraded:   map[string]bool{},
		versions:   map[string]string{},
		FailRoots:  map[string]bool{},
	}
}

// Seed registers the classpath ResolveClasspath will return for root.
func (im *Importer) Seed(root string, classpath []string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.classpaths[root] = classpath
}

// SeedBuildRoot associates root with the build-tool root used for
// sibling-batching, and enables SupportsSiblingBatching.
func (im *Importer) SeedBuildRoot(root, buildRoot string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.buildRoots[root] = buildRoot
	im.siblings = true
}

// SeedDegraded marks root's classpath as degraded: ShouldMarkClasspathResolved
// returns false for it, so the coordinator leaves it eligible for retry.
func (im *Importer) SeedDegraded(root string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.degraded[root] = true
}

// SeedVersion registers the language version DetectProjectLanguageVersion
// reports for root.
func (im *Importer) SeedVersion(root, version string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.versions[root] = version
}

func (im *Importer) Name() string { return im.name }

func (im *Importer) ResolveClasspath(_ context.Context, projectRoot string) ([]string, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.log.Info("resolving classpath", "root", projectRoot)
	if im.FailRoots[projectRoot] {
		return nil, errResolve{projectRoot}
	}
	return im.classpaths[projectRoot], nil
}

func (im *Importer) ResolveClasspathsForRoot(_ context.Context, _ string, subset []string) (map[string][]string, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := map[string][]string{}
	for _, root := range subset {
		if im.FailRoots[root] {
			return nil, errResolve{root}
		}
		out[root] = im.classpaths[root]
	}
	return out, nil
}

func (im *Importer) SupportsSiblingBatching() bool { return im.siblings }

func (im *Importer) GetBuildToolRoot(projectRoot string) string {
	im.mu.Lock()
	defer im.mu.Unlock()
	if root, ok := im.buildRoots[projectRoot]; ok {
		return root
	}
	return projectRoot
}

func (im *Importer) ShouldMarkClasspathResolved(root string, _ []string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return !im.degraded[root]
}

func (im *Importer) DetectProjectLanguageVersion(root string, _ []string) *string {
	im.mu.Lock()
	defer im.mu.Unlock()
	v, ok := im.versions[root]
	if !ok {
		return nil
	}
	return &v
}

func (im *Importer) Recompile(_ context.Context, root string) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.log.Info("triggering build-tool recompile", "root", root)
	im.Recompiled = append(im.Recompiled, root)
	return nil
}

func (im *Importer) DownloadSourceJarsAsync(string) {}

type errResolve struct{ root string }

func (e errResolve) Error() string { return "fake: resolve failed for " + e.root }
