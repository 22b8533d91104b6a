package compile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	lsp "github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saibing/groovyls/internal/compiler"
	"github.com/saibing/groovyls/internal/scope"
)

func TestUnionURIsDedupsPreservingOrder(t *testing.T) {
	a := []lsp.DocumentURI{"file:///A.groovy", "file:///B.groovy"}
	b := []lsp.DocumentURI{"file:///B.groovy", "file:///C.groovy"}
	got := unionURIs(a, b)
	assert.Equal(t, []lsp.DocumentURI{"file:///A.groovy", "file:///B.groovy", "file:///C.groovy"}, got)
}

func TestSigSliceEqual(t *testing.T) {
	a := []compiler.ClassSignature{{Name: "Foo", Methods: []string{"bar():void"}}}
	b := []compiler.ClassSignature{{Name: "Foo", Methods: []string{"bar():void"}}}
	assert.True(t, sigSliceEqual(a, b))

	c := []compiler.ClassSignature{{Name: "Foo", Methods: []string{"bar(int):void"}}}
	assert.False(t, sigSliceEqual(a, c))
}

type capturingPublisher struct {
	published map[lsp.DocumentURI][]lsp.Diagnostic
	order     []lsp.DocumentURI
}

func (p *capturingPublisher) PublishDiagnostics(uri lsp.DocumentURI, diags []lsp.Diagnostic) {
	if p.published == nil {
		p.published = map[lsp.DocumentURI][]lsp.Diagnostic{}
	}
	p.published[uri] = diags
	p.order = append(p.order, uri)
}

func (p *capturingPublisher) ShowMessage(lsp.MessageType, string) {}

// diagnosticsSummary renders one line per URI in order, for the
// golden-style comparisons below.
func diagnosticsSummary(byURI map[lsp.DocumentURI][]lsp.Diagnostic, order []lsp.DocumentURI) string {
	var b strings.Builder
	for _, uri := range order {
		fmt.Fprintf(&b, "%s: %d diagnostic(s)\n", uri, len(byURI[uri]))
		for _, d := range byURI[uri] {
			fmt.Fprintf(&b, "  %s: %s\n", d.Severity, d.Message)
		}
	}
	return b.String()
}

// assertGoldenSummary fails with a unified diff instead of testify's bare
// value dump, the way the teacher's own expected-vs-actual test helpers
// render mismatches.
func assertGoldenSummary(t *testing.T, want, got string) {
	t.Helper()
	if want == got {
		return
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	require.NoError(t, err)
	t.Fatalf("diagnostics summary mismatch:\n%s", text)
}

func TestPublishResultClearsStaleDiagnostics(t *testing.T) {
	pub := &capturingPublisher{}
	svc := &Service{publisher: pub}

	aURI := lsp.DocumentURI("file:///A.groovy")
	bURI := lsp.DocumentURI("file:///B.groovy")

	s := scope.New("/proj")
	s.SetPreviousDiagnostics(map[lsp.DocumentURI][]lsp.Diagnostic{
		aURI: {{Severity: lsp.Error, Message: "stale error"}},
	})

	svc.publishResult(s, &compiler.CompileResult{
		Diagnostics: map[lsp.DocumentURI][]lsp.Diagnostic{
			bURI: {{Severity: lsp.Error, Message: "undefined variable x"}},
		},
	})

	want := diagnosticsSummary(map[lsp.DocumentURI][]lsp.Diagnostic{
		bURI: {{Severity: lsp.Error, Message: "undefined variable x"}},
		aURI: nil,
	}, []lsp.DocumentURI{bURI, aURI})
	got := diagnosticsSummary(pub.published, pub.order)
	assertGoldenSummary(t, want, got)
}
