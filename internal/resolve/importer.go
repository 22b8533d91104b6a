// Package resolve implements C6, the Resolution Coordinator: lazy
// per-project classpath resolution with sibling backfill coalescing
// (spec.md §4.5). Grounded on the teacher's lazy package-cache population
// in langserver/internal/caches/package_cache.go (a project's dependency
// set is fetched once, on demand, and shared) generalized to pluggable
// external build-tool importers behind a capability interface, per
// spec.md §9 ("replace inheritance-based importer polymorphism with a
// capability interface").
package resolve

import "context"

// Importer is the external adapter that invokes a build tool (Gradle,
// Maven, ...) and returns a classpath for a project root. Implementations
// live outside this core (spec.md §1: build-tool binary invocation is out
// of scope); this interface is the only contract this package has with
// them.
type Importer interface {
	Name() string
	ResolveClasspath(ctx context.Context, projectRoot string) ([]string, error)
	ResolveClasspathsForRoot(ctx context.Context, buildToolRoot string, subset []string) (map[string][]string, error)
	SupportsSiblingBatching() bool
	GetBuildToolRoot(projectRoot string) string
	ShouldMarkClasspathResolved(root string, classpath []string) bool
	DetectProjectLanguageVersion(root string, classpath []string) *string
	Recompile(ctx context.Context, root string) error
	DownloadSourceJarsAsync(root string)
}
