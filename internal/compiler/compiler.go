// Package compiler declares the contract for the target-language compiler
// front-end. Per spec.md §1 the compiler itself is out of scope: this
// core treats it as a black box reached through the interfaces below. A
// real backend wires a concrete Compiler in; internal/compiler/fake
// provides a minimal stand-in exercised by this repo's own tests.
package compiler

import (
	"context"
	"errors"

	lsp "github.com/sourcegraph/go-lsp"
)

// CompilationUnit is the compiler's opaque aggregate input for one
// compile invocation: source set plus classpath. Owned by the project
// scope that created it; Close releases compiler-side resources.
type CompilationUnit interface {
	Close() error
	// Files lists the source URIs this unit was built to compile.
	Files() []lsp.DocumentURI
}

// Classloader is the compiler's runtime resolver for classpath types.
// Owned by the scope and replaced atomically with the compilation unit;
// disposed when replaced (spec.md invariant 5).
type Classloader interface {
	Close() error
}

// ASTIndex maps source URIs to compiled node data for one compile and
// answers position/node queries used by LSP providers. It is replaced
// wholesale on every successful visit, never mutated in place, so readers
// may snapshot the pointer without the scope lock (spec.md §5).
type ASTIndex interface {
	// HasURI reports whether the index has node data for uri.
	HasURI(uri lsp.DocumentURI) bool
	// NodeCount returns the number of AST nodes recorded for uri, used
	// by the last-known-good heuristic in internal/compile.
	NodeCount(uri lsp.DocumentURI) int
	// URIs lists every URI the index has data for.
	URIs() []lsp.DocumentURI
	// Merge returns a copy of the index with the per-URI node data from
	// other overlaid on top of this index's data (used to splice a
	// single-file or incremental visit's results into the previous full
	// index without discarding unrelated URIs).
	Merge(other ASTIndex) ASTIndex
	// WithRestoredURI returns a copy of the index where uri's node data
	// is replaced by the data that uri had in prior (the last-known-good
	// fallback, spec.md §4.4 step 4).
	WithRestoredURI(uri lsp.DocumentURI, prior ASTIndex) ASTIndex
}

// ClassSignature is a value-equal record of a class's externally
// observable surface, used to detect whether an incremental compile
// changed a public API (spec.md §3 "Class Signature").
type ClassSignature struct {
	Name        string
	Supertypes  []string
	Fields      []string // "name:type" pairs, sorted
	Methods     []string // "name(paramTypes):returnType" signatures, sorted
	Visibility  string
}

// Equal reports whether two signatures have the same public surface.
func (s ClassSignature) Equal(o ClassSignature) bool {
	if s.Name != o.Name || s.Visibility != o.Visibility {
		return false
	}
	return stringSliceEqual(s.Supertypes, o.Supertypes) &&
		stringSliceEqual(s.Fields, o.Fields) &&
		stringSliceEqual(s.Methods, o.Methods)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CompileResult is what a Compile call returns.
type CompileResult struct {
	Visitor ASTIndex
	// Diagnostics is keyed by URI; every compiled file gets an entry
	// (possibly empty) so the caller can clear stale diagnostics for
	// files that no longer have errors.
	Diagnostics map[lsp.DocumentURI][]lsp.Diagnostic
	// ErrorURIs lists URIs that had at least one diagnostic of
	// severity Error.
	ErrorURIs []lsp.DocumentURI
	// Dependencies is the forward source-import graph discovered by
	// this compile, keyed by URI.
	Dependencies map[lsp.DocumentURI][]lsp.DocumentURI
	// Signatures is keyed by URI; each URI may define more than one
	// top-level class/type.
	Signatures map[lsp.DocumentURI][]ClassSignature
}

// ParseResult is the result of a parse-only (no classpath, no semantic
// resolution) compile, used for the syntax-only fallback (spec.md §4.4).
type ParseResult struct {
	Diagnostics []lsp.Diagnostic
}

// ErrLinkage classifies a compile failure as a classpath entry that
// failed to load (a "recoverable" error per spec.md §7): the caller logs
// it, marks the scope compiled to block retry, and keeps the prior AST.
var ErrLinkage = errors.New("compiler: linkage error")

// ErrOutOfMemory classifies a compile failure as a fatal-per-scope
// virtual-machine error (spec.md §4.4 OOM handling).
var ErrOutOfMemory = errors.New("compiler: out of memory")

// Compiler is the black-box compiler front-end. All methods may block and
// should respect ctx cancellation where practical; the compilation
// permit semaphore (internal/exec) is acquired by the caller before any
// of these are invoked.
type Compiler interface {
	// NewClassloader builds a classloader that resolves types from
	// classpath. The caller disposes the previous classloader, if any.
	NewClassloader(ctx context.Context, classpath []string) (Classloader, error)

	// NewFullCompilationUnit builds a compilation unit covering every
	// source file the compiler discovers under projectRoot, excluding
	// any path under excludedSubRoots (nested sibling project roots).
	NewFullCompilationUnit(ctx context.Context, projectRoot string, excludedSubRoots []string) (CompilationUnit, error)

	// NewIncrementalCompilationUnit builds a lightweight unit covering
	// only files, reusing parent's classpath/classloader wiring.
	NewIncrementalCompilationUnit(ctx context.Context, parent CompilationUnit, files []lsp.DocumentURI) (CompilationUnit, error)

	// NewSingleFileCompilationUnit builds a unit covering exactly one
	// file, used for the staged Phase A compile and for placeholder
	// injection.
	NewSingleFileCompilationUnit(ctx context.Context, projectRoot string, file lsp.DocumentURI) (CompilationUnit, error)

	// Compile runs unit against classloader, reading source text through
	// getContents (so in-editor overlays are honored over disk). The
	// returned error is nil on success; ErrLinkage/ErrOutOfMemory (or an
	// error wrapping them) classify failure modes the caller must
	// special-case, any other error is a generic compile failure.
	Compile(ctx context.Context, unit CompilationUnit, cl Classloader, getContents func(lsp.DocumentURI) []byte) (*CompileResult, error)

	// ParseOnly performs just the parse phase, no classpath and no
	// semantic resolution, for the syntax-only fallback.
	ParseOnly(ctx context.Context, file lsp.DocumentURI, content []byte) (*ParseResult, error)
}
