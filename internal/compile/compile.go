// Package compile implements C5, the Compilation Service: the full,
// staged, and incremental compile pipelines from spec.md §4.4, AST
// rebuilding, diagnostic publication, and out-of-memory handling. Grounded
// on the teacher's diagnostics publication in langserver/diagnostics.go
// (parse vs. type errors, per-file diagnostic maps) and on its background
// dispatch in langserver/handler.go, generalized from a single
// go/packages.Load call per request into a scope-aware staged/incremental
// pipeline around the internal/compiler black box.
package compile

import (
	"context"
	"errors"
	"fmt"

	lsp "github.com/sourcegraph/go-lsp"

	"github.com/saibing/groovyls/internal/compiler"
	"github.com/saibing/groovyls/internal/contents"
	"github.com/saibing/groovyls/internal/depgraph"
	"github.com/saibing/groovyls/internal/exec"
	"github.com/saibing/groovyls/internal/logging"
	"github.com/saibing/groovyls/internal/scope"
)

// lastKnownGoodFactor is the open-question tunable from spec.md §9: an
// errored URI's fresh node count below priorCount/lastKnownGoodFactor (or
// zero while the prior had any) is treated as a transient syntax break,
// and the prior AST data for that URI is kept instead of the impoverished
// fresh one.
const lastKnownGoodFactor = 2

// Publisher sends LSP notifications the service produces as a side
// effect of compiling: diagnostics, status updates, and prominent
// messages. Implemented by internal/handler, which owns the jsonrpc2
// connection; kept as an interface here so this package never imports
// jsonrpc2 or go-lsp wire framing directly (spec.md §1: transport is out
// of scope for the core).
type Publisher interface {
	PublishDiagnostics(uri lsp.DocumentURI, diags []lsp.Diagnostic)
	ShowMessage(severity lsp.MessageType, message string)
}

// Service is C5. One Service is shared by every scope; scope-specific
// state lives on the scope itself.
type Service struct {
	compiler  compiler.Compiler
	contents  *contents.Tracker
	pools     *exec.Pools
	publisher Publisher
}

func New(c compiler.Compiler, tracker *contents.Tracker, pools *exec.Pools, pub Publisher) *Service {
	return &Service{compiler: c, contents: tracker, pools: pools, publisher: pub}
}

// NewClassloader builds a classloader for classpath through the
// underlying compiler.Compiler. Exposed so internal/resolve and
// internal/handler can rebuild a scope's classloader when a newly
// resolved classpath lands, without either package importing
// internal/compiler directly.
func (svc *Service) NewClassloader(ctx context.Context, classpath []string) (compiler.Classloader, error) {
	return svc.compiler.NewClassloader(ctx, classpath)
}

// EnsureScopeCompiled is spec.md §4.4's ensure_scope_compiled. Caller must
// hold s's write lock. staged with a non-empty triggerURI selects staged
// compilation; otherwise a full compile runs synchronously. Returns
// whether any compilation was launched.
func (svc *Service) EnsureScopeCompiled(ctx context.Context, s *scope.Scope, triggerURI lsp.DocumentURI, staged bool) bool {
	if s.CompiledLocked() || s.CompilationFailedLocked() || !s.ClasspathResolvedLocked() {
		return false
	}

	if staged && triggerURI != "" {
		svc.stagedCompile(ctx, s, triggerURI)
		return true
	}

	svc.fullCompile(ctx, s)
	return true
}

// stagedCompile runs Phase A synchronously (single-file compile of
// triggerURI, unblocking the editor quickly) then submits Phase B (full
// compile) to the background pool.
func (svc *Service) stagedCompile(ctx context.Context, s *scope.Scope, triggerURI lsp.DocumentURI) {
	log := logging.ForScope(s.ProjectRoot, "stagedCompile")

	release, err := svc.pools.AcquirePermit(ctx)
	if err != nil {
		log.Warn("phase A permit wait canceled", "err", err)
		return
	}
	unit, uerr := svc.compiler.NewSingleFileCompilationUnit(ctx, s.ProjectRoot, triggerURI)
	if uerr != nil {
		release()
		log.Warn("phase A unit build failed", "err", uerr)
		return
	}
	result, cerr := svc.compiler.Compile(ctx, unit, s.ClassloaderLocked(), svc.contents.GetContents)
	release()
	_ = unit.Close()

	if cerr != nil {
		log.Warn("phase A compile failed", "err", cerr)
	} else {
		s.SetASTIndex(mergeIndex(s.ASTIndex(), result.Visitor))
		svc.publishResult(s, result)
	}
	s.SetCompiled(true)

	svc.pools.Compile.Submit(ctx, s.ProjectRoot, func(ctx context.Context) {
		s.Lock()
		defer s.Unlock()
		if s.FullyCompiledLocked() {
			return
		}
		svc.fullCompile(ctx, s)
	})
}

// fullCompile is spec.md §4.4's "Full compilation" sequence. Caller must
// hold s's write lock.
func (svc *Service) fullCompile(ctx context.Context, s *scope.Scope) {
	log := logging.ForScope(s.ProjectRoot, "fullCompile")

	unit, err := svc.compiler.NewFullCompilationUnit(ctx, s.ProjectRoot, s.ExcludedSubRootsLocked())
	if err != nil {
		log.Warn("full unit build failed", "err", err)
		s.SetCompiled(true)
		return
	}
	s.SetCompilationUnit(unit)
	svc.contents.ResetChanged(svc.contents.OpenURIsUnder(s.ProjectRoot))

	release, err := svc.pools.AcquirePermit(ctx)
	if err != nil {
		log.Warn("full compile permit wait canceled", "err", err)
		s.SetCompiled(true)
		return
	}
	result, cerr := svc.compiler.Compile(ctx, unit, s.ClassloaderLocked(), svc.contents.GetContents)
	release()

	defer func() { s.SetCompiled(true) }()

	if cerr != nil {
		switch {
		case errors.Is(cerr, compiler.ErrLinkage):
			log.Warn("linkage error during full compile, keeping prior AST", "err", cerr)
			return
		case errors.Is(cerr, compiler.ErrOutOfMemory):
			svc.handleOOM(s, cerr)
			return
		default:
			log.Error("full compile failed", "err", cerr)
			return
		}
	}

	prior := s.ASTIndex()
	newIdx := applyLastKnownGood(result, prior)
	s.SetASTIndex(newIdx)
	rebuildDependencyGraph(s.DependencyGraph(), result.Dependencies)
	s.MergeClassSignatures(result.Signatures)
	svc.publishResult(s, result)
	s.SetFullyCompiled(true)
}

// Incremental is spec.md §4.4's "Incremental compilation". Caller must
// hold s's write lock. ok is false when the caller must fall back to a
// full compile (too many files, an API-signature change, or a compiler
// error).
func (svc *Service) Incremental(ctx context.Context, s *scope.Scope, changed []lsp.DocumentURI, context_ lsp.DocumentURI) (ok bool) {
	if len(changed) > 3 || s.ASTIndex() == nil || !s.CompiledLocked() || s.DependencyGraph().IsEmpty() {
		return false
	}

	seed := append([]lsp.DocumentURI(nil), changed...)
	if context_ != "" {
		seed = append(seed, context_)
	}
	closure := s.DependencyGraph().TransitiveDependencies(seed, 2)
	files := unionURIs(seed, closure)
	if len(files) > 50 {
		return false
	}

	oldSigs := s.ClassSignaturesLocked()

	unit, err := svc.compiler.NewIncrementalCompilationUnit(ctx, s.CompilationUnitLocked(), files)
	if err != nil {
		logging.ForScope(s.ProjectRoot, "incremental").Warn("unit build failed", "err", err)
		return false
	}
	defer unit.Close()

	release, err := svc.pools.AcquirePermit(ctx)
	if err != nil {
		return false
	}
	result, cerr := svc.compiler.Compile(ctx, unit, s.ClassloaderLocked(), svc.contents.GetContents)
	release()
	if cerr != nil {
		logging.ForScope(s.ProjectRoot, "incremental").Warn("compile failed, falling back to full", "err", cerr)
		return false
	}

	newSigs := result.Signatures
	for _, u := range seed {
		if !sigSliceEqual(oldSigs[u], newSigs[u]) {
			return false
		}
	}

	s.SetASTIndex(s.ASTIndex().Merge(result.Visitor))
	rebuildDependencyGraphPartial(s.DependencyGraph(), result.Dependencies)
	s.MergeClassSignatures(newSigs)
	svc.publishResult(s, result)
	return true
}

// SyntaxCheckSingleFile is spec.md §4.4's syntax-only fallback, submitted
// to the background pool by callers while the scope's classpath is
// unresolved.
func (svc *Service) SyntaxCheckSingleFile(ctx context.Context, projectRoot string, uri lsp.DocumentURI) {
	svc.pools.Compile.Submit(ctx, projectRoot, func(ctx context.Context) {
		content := svc.contents.GetContents(uri)
		if content == nil {
			return
		}
		result, err := svc.compiler.ParseOnly(ctx, uri, content)
		if err != nil {
			logging.ForProject(projectRoot).Warn("syntax-only parse failed", "uri", uri, "err", err)
			return
		}
		svc.publisher.PublishDiagnostics(uri, result.Diagnostics)
	})
}

// handleOOM is spec.md §4.4's OOM handler.
func (svc *Service) handleOOM(s *scope.Scope, cause error) {
	log := logging.ForScope(s.ProjectRoot, "oom")
	log.Error("compiler reported out of memory", "err", cause)

	s.SetCompilationFailed(true)
	s.SetCompiled(true)

	buildFile := lsp.DocumentURI("file://" + s.ProjectRoot + "/build.gradle")
	svc.publisher.PublishDiagnostics(buildFile, []lsp.Diagnostic{{
		Range:    lsp.Range{Start: lsp.Position{Line: 0}, End: lsp.Position{Line: 0}},
		Severity: lsp.Error,
		Source:   "compiler",
		Message:  fmt.Sprintf("out of memory compiling %s; increase the server heap and reopen the project", s.ProjectRoot),
	}})
	svc.publisher.ShowMessage(lsp.MTError, fmt.Sprintf("groovyls ran out of memory compiling %s", s.ProjectRoot))
}

func (svc *Service) publishResult(s *scope.Scope, result *compiler.CompileResult) {
	prev := s.PreviousDiagnosticsLocked()
	next := make(map[lsp.DocumentURI][]lsp.Diagnostic, len(result.Diagnostics))
	for uri, diags := range result.Diagnostics {
		next[uri] = diags
		svc.publisher.PublishDiagnostics(uri, diags)
	}
	for uri := range prev {
		if _, ok := next[uri]; !ok {
			svc.publisher.PublishDiagnostics(uri, nil)
		}
	}
	s.SetPreviousDiagnostics(next)
}

func mergeIndex(base, incoming compiler.ASTIndex) compiler.ASTIndex {
	if base == nil {
		return incoming
	}
	return base.Merge(incoming)
}

// applyLastKnownGood implements the last-known-good AST heuristic from
// spec.md §4.4 step 4.
func applyLastKnownGood(result *compiler.CompileResult, prior compiler.ASTIndex) compiler.ASTIndex {
	idx := result.Visitor
	if prior == nil {
		return idx
	}
	for _, uri := range result.ErrorURIs {
		if !prior.HasURI(uri) {
			continue
		}
		priorCount := prior.NodeCount(uri)
		freshCount := 0
		if idx.HasURI(uri) {
			freshCount = idx.NodeCount(uri)
		}
		if priorCount > 0 && (freshCount == 0 || freshCount*lastKnownGoodFactor < priorCount) {
			idx = idx.WithRestoredURI(uri, prior)
		}
	}
	return idx
}

func rebuildDependencyGraph(g *depgraph.Graph, deps map[lsp.DocumentURI][]lsp.DocumentURI) {
	g.Clear()
	for u, d := range deps {
		g.UpdateDependencies(u, d)
	}
}

func rebuildDependencyGraphPartial(g *depgraph.Graph, deps map[lsp.DocumentURI][]lsp.DocumentURI) {
	for u, d := range deps {
		g.UpdateDependencies(u, d)
	}
}

func unionURIs(sets ...[]lsp.DocumentURI) []lsp.DocumentURI {
	seen := map[lsp.DocumentURI]struct{}{}
	var out []lsp.DocumentURI
	for _, set := range sets {
		for _, u := range set {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

func sigSliceEqual(a, b []compiler.ClassSignature) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
