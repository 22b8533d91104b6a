// Package fake provides a minimal stand-in for the target-language
// compiler, used by this repo's own tests. It understands just enough of
// a toy source syntax (import lines and a single class declaration per
// file) to exercise the orchestrator's dependency-graph and
// incremental-recompilation logic without a real JVM-family compiler.
package fake

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	lsp "github.com/sourcegraph/go-lsp"

	"github.com/saibing/groovyls/internal/compiler"
)

// Compiler is a trivial, in-memory implementation of compiler.Compiler.
//
// Source syntax understood:
//
//	import file:///abs/path/To.groovy
//	class Name extends Super
//	error: <message>            (forces a diagnostic on this file)
//
// Lines not matching one of these forms are ignored.
type Compiler struct {
	mu sync.Mutex
	// FailLinkage, when a classpath entry is set in it, makes every
	// project Compile call whose classloader includes that entry fail
	// with compiler.ErrLinkage until the entry is cleared.
	FailLinkage map[string]bool
	// FailOOM, while true, makes every Compile call fail with
	// compiler.ErrOutOfMemory.
	FailOOM bool
}

func New() *Compiler {
	return &Compiler{FailLinkage: map[string]bool{}}
}

type classloader struct{ classpath []string }

func (c *classloader) Close() error { return nil }

func (c *Compiler) NewClassloader(_ context.Context, classpath []string) (compiler.Classloader, error) {
	return &classloader{classpath: classpath}, nil
}

type unit struct {
	root     string
	excluded []string
	files    []lsp.DocumentURI
}

func (u *unit) Close() error        { return nil }
func (u *unit) Files() []lsp.DocumentURI { return u.files }

func (c *Compiler) NewFullCompilationUnit(_ context.Context, projectRoot string, excludedSubRoots []string) (compiler.CompilationUnit, error) {
	return &unit{root: projectRoot, excluded: excludedSubRoots}, nil
}

func (c *Compiler) NewIncrementalCompilationUnit(_ context.Context, parent compiler.CompilationUnit, files []lsp.DocumentURI) (compiler.CompilationUnit, error) {
	p, _ := parent.(*unit)
	root := ""
	if p != nil {
		root = p.root
	}
	return &unit{root: root, files: files}, nil
}

func (c *Compiler) NewSingleFileCompilationUnit(_ context.Context, projectRoot string, file lsp.DocumentURI) (compiler.CompilationUnit, error) {
	return &unit{root: projectRoot, files: []lsp.DocumentURI{file}}, nil
}

// index is the fake ASTIndex: a plain map of URI to a fabricated node
// count and declared class name.
type index struct {
	nodeCount map[lsp.DocumentURI]int
	classes   map[lsp.DocumentURI]string
}

func newIndex() *index {
	return &index{nodeCount: map[lsp.DocumentURI]int{}, classes: map[lsp.DocumentURI]string{}}
}

func (i *index) HasURI(uri lsp.DocumentURI) bool { _, ok := i.nodeCount[uri]; return ok }
func (i *index) NodeCount(uri lsp.DocumentURI) int { return i.nodeCount[uri] }
func (i *index) URIs() []lsp.DocumentURI {
	out := make([]lsp.DocumentURI, 0, len(i.nodeCount))
	for u := range i.nodeCount {
		out = append(out, u)
	}
	return out
}

func (i *index) Merge(other compiler.ASTIndex) compiler.ASTIndex {
	o, ok := other.(*index)
	merged := &index{nodeCount: map[lsp.DocumentURI]int{}, classes: map[lsp.DocumentURI]string{}}
	for u, n := range i.nodeCount {
		merged.nodeCount[u] = n
		merged.classes[u] = i.classes[u]
	}
	if ok {
		for u, n := range o.nodeCount {
			merged.nodeCount[u] = n
			merged.classes[u] = o.classes[u]
		}
	}
	return merged
}

func (i *index) WithRestoredURI(uri lsp.DocumentURI, prior compiler.ASTIndex) compiler.ASTIndex {
	p, ok := prior.(*index)
	merged := &index{nodeCount: map[lsp.DocumentURI]int{}, classes: map[lsp.DocumentURI]string{}}
	for u, n := range i.nodeCount {
		merged.nodeCount[u] = n
		merged.classes[u] = i.classes[u]
	}
	if ok {
		if n, has := p.nodeCount[uri]; has {
			merged.nodeCount[uri] = n
			merged.classes[uri] = p.classes[uri]
		}
	}
	return merged
}

// Compile parses each unit file via getContents, building a forward
// dependency graph from "import" lines and a fabricated node count equal
// to the number of non-blank lines (so a syntax break that truncates the
// file produces a proportionally smaller node count, matching the
// last-known-good heuristic's expectations).
func (c *Compiler) Compile(_ context.Context, u compiler.CompilationUnit, cl compiler.Classloader, getContents func(lsp.DocumentURI) []byte) (*compiler.CompileResult, error) {
	real, ok := u.(*unit)
	if !ok {
		return nil, fmt.Errorf("fake: unexpected compilation unit type %T", u)
	}

	if real.root != "" && c.classloaderFails(cl) {
		return nil, compiler.ErrLinkage
	}
	if c.FailOOM {
		return nil, compiler.ErrOutOfMemory
	}

	idx := newIndex()
	diags := map[lsp.DocumentURI][]lsp.Diagnostic{}
	deps := map[lsp.DocumentURI][]lsp.DocumentURI{}
	sigs := map[lsp.DocumentURI][]compiler.ClassSignature{}
	var errorURIs []lsp.DocumentURI

	for _, file := range real.files {
		content := getContents(file)
		diags[file] = nil

		if content == nil {
			continue
		}

		lines := 0
		var fileDeps []lsp.DocumentURI
		var className, superName string
		scanner := bufio.NewScanner(strings.NewReader(string(content)))
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			lines++
			switch {
			case strings.HasPrefix(line, "import "):
				fileDeps = append(fileDeps, lsp.DocumentURI(strings.TrimSpace(strings.TrimPrefix(line, "import "))))
			case strings.HasPrefix(line, "class "):
				rest := strings.TrimSpace(strings.TrimPrefix(line, "class "))
				parts := strings.Fields(rest)
				if len(parts) > 0 {
					className = parts[0]
				}
				if idx2 := indexOf(parts, "extends"); idx2 >= 0 && idx2+1 < len(parts) {
					superName = parts[idx2+1]
				}
			case strings.HasPrefix(line, "error:"):
				diags[file] = append(diags[file], lsp.Diagnostic{
					Range:    lsp.Range{Start: lsp.Position{Line: lineNo - 1}, End: lsp.Position{Line: lineNo - 1}},
					Severity: lsp.Error,
					Source:   "fake-compiler",
					Message:  strings.TrimSpace(strings.TrimPrefix(line, "error:")),
				})
			}
		}

		idx.nodeCount[file] = lines
		idx.classes[file] = className
		if len(fileDeps) > 0 {
			deps[file] = fileDeps
		}
		if className != "" {
			var supers []string
			if superName != "" {
				supers = []string{superName}
			}
			sigs[file] = []compiler.ClassSignature{{Name: className, Supertypes: supers, Visibility: "public"}}
		}
		if len(diags[file]) > 0 {
			errorURIs = append(errorURIs, file)
		}
	}

	return &compiler.CompileResult{
		Visitor:      idx,
		Diagnostics:  diags,
		ErrorURIs:    errorURIs,
		Dependencies: deps,
		Signatures:   sigs,
	}, nil
}

func (c *Compiler) classloaderFails(cl compiler.Classloader) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	real, ok := cl.(*classloader)
	if !ok {
		return false
	}
	for _, cp := range real.classpath {
		if c.FailLinkage[cp] {
			return true
		}
	}
	return false
}

func (c *Compiler) ParseOnly(_ context.Context, file lsp.DocumentURI, content []byte) (*compiler.ParseResult, error) {
	var diags []lsp.Diagnostic
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "error:") {
			diags = append(diags, lsp.Diagnostic{
				Range:    lsp.Range{Start: lsp.Position{Line: lineNo - 1}, End: lsp.Position{Line: lineNo - 1}},
				Severity: lsp.Error,
				Source:   "fake-compiler-parse",
				Message:  strings.TrimSpace(strings.TrimPrefix(line, "error:")),
			})
		}
	}
	return &compiler.ParseResult{Diagnostics: diags}, nil
}

func indexOf(ss []string, v string) int {
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}

var _ compiler.ASTIndex = (*index)(nil)
var _ compiler.Compiler = (*Compiler)(nil)
