package handler

import (
	"context"
	"encoding/json"
	"testing"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saibing/groovyls/internal/compile"
	compilerfake "github.com/saibing/groovyls/internal/compiler/fake"
	"github.com/saibing/groovyls/internal/config"
	"github.com/saibing/groovyls/internal/contents"
	"github.com/saibing/groovyls/internal/exec"
	"github.com/saibing/groovyls/internal/resolve"
	"github.com/saibing/groovyls/internal/scope"
	"github.com/saibing/groovyls/internal/watch"
)

func TestIsOrderedMethod(t *testing.T) {
	for _, m := range []string{
		"initialize", "initialized", "shutdown", "exit",
		"textDocument/didOpen", "textDocument/didChange", "textDocument/didClose",
		"textDocument/didSave", "workspace/didChangeWatchedFiles", "workspace/didChangeConfiguration",
	} {
		assert.True(t, isOrderedMethod(m), m)
	}
	for _, m := range []string{"textDocument/hover", "textDocument/completion", "workspace/symbol"} {
		assert.False(t, isOrderedMethod(m), m)
	}
}

func TestWatchKind(t *testing.T) {
	assert.Equal(t, watch.Created, watchKind(lsp.Created))
	assert.Equal(t, watch.Deleted, watchKind(lsp.Deleted))
	assert.Equal(t, watch.Changed, watchKind(lsp.Changed))
}

func rawParams(t *testing.T, v interface{}) *json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	raw := json.RawMessage(b)
	return &raw
}

func newTestServer() *Server {
	return New(scope.NewManager(), contents.New(), nil, nil, nil, nil, ImporterRegistry{}, NoopProviders{}, config.NewDefaultConfig())
}

// newWiredTestServer builds a Server with real (fake-backed) collaborators,
// for tests that exercise withScope's full ensureReady path.
func newWiredTestServer() *Server {
	mgr := scope.NewManager()
	tracker := contents.New()
	pools := exec.NewPools(1, 1)
	srv := New(mgr, tracker, nil, nil, nil, pools, ImporterRegistry{}, NoopProviders{}, config.NewDefaultConfig())
	svc := compile.New(compilerfake.New(), tracker, pools, srv)
	coord := resolve.New(mgr, map[string]resolve.Importer{}, pools, nil, false, srv, tracker, svc, nil)
	srv.Compiler = svc
	srv.Coordinator = coord
	return srv
}

func TestHandleRejectsRequestsBeforeInitialize(t *testing.T) {
	s := newTestServer()
	req := &jsonrpc2.Request{Method: "textDocument/hover", Params: rawParams(t, lsp.TextDocumentPositionParams{})}

	_, err := s.handle(context.Background(), nil, req)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc2.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.CodeInvalidRequest, rpcErr.Code)
}

func TestHandleUnknownMethodAfterInitialize(t *testing.T) {
	s := newTestServer()
	s.initialized = true

	req := &jsonrpc2.Request{Method: "textDocument/notAThing"}
	_, err := s.handle(context.Background(), nil, req)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc2.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.CodeMethodNotFound, rpcErr.Code)
}

func TestHandleNilParamsDoesNotPanic(t *testing.T) {
	s := newTestServer()
	s.initialized = true

	// A withScope route with nil Params returns a jsonrpc2.Error rather
	// than panicking; assert that handle itself never panics out.
	req := &jsonrpc2.Request{Method: "textDocument/hover"}
	assert.NotPanics(t, func() {
		_, _ = s.handle(context.Background(), nil, req)
	})
}

func TestWithScopeReturnsNilWhenNoScopeFound(t *testing.T) {
	s := newTestServer()
	// With no scope registered FindScope falls back to the default scope,
	// so register one that does not own the request's URI.
	s.Manager.RegisterDiscovered([]string{"/somewhere-else"})
	req := &jsonrpc2.Request{
		Method: "textDocument/hover",
		Params: rawParams(t, lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI("file:///nowhere/A.groovy")},
		}),
	}

	result, err := s.withScope(context.Background(), req, s.Providers.Hover)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWithScopeRejectsMissingParams(t *testing.T) {
	s := newTestServer()
	req := &jsonrpc2.Request{Method: "textDocument/hover"}

	_, err := s.withScope(context.Background(), req, s.Providers.Hover)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc2.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.CodeInvalidParams, rpcErr.Code)
}

type panicProvider struct{}

func (panicProvider) Call(context.Context, *scope.Scope, json.RawMessage) (interface{}, error) {
	panic("boom")
}

func TestWithScopeContainsProviderPanic(t *testing.T) {
	s := newWiredTestServer()
	root := t.TempDir()
	s.Manager.RegisterDiscovered([]string{root})

	req := &jsonrpc2.Request{
		Method: "textDocument/hover",
		Params: rawParams(t, lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI("file://" + root + "/A.groovy")},
		}),
	}

	result, err := s.withScope(context.Background(), req, panicProvider{}.Call)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWithScopeConvertsProviderErrorToEmptyResult(t *testing.T) {
	s := newWiredTestServer()
	root := t.TempDir()
	s.Manager.RegisterDiscovered([]string{root})

	req := &jsonrpc2.Request{
		Method: "textDocument/hover",
		Params: rawParams(t, lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI("file://" + root + "/A.groovy")},
		}),
	}

	erroring := func(context.Context, *scope.Scope, json.RawMessage) (interface{}, error) {
		return "should be discarded", assert.AnError
	}

	result, err := s.withScope(context.Background(), req, erroring)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetProtocolVersion(t *testing.T) {
	s := newTestServer()
	s.initialized = true

	req := &jsonrpc2.Request{Method: "getProtocolVersion"}
	result, err := s.handle(context.Background(), nil, req)
	require.NoError(t, err)
	assert.NotNil(t, result)
}
