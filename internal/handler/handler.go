// Package handler wires the jsonrpc2 transport to the compilation core:
// C1 (contents), C4 (scope routing), C5 (compilation), C6 (resolution),
// and C7 (watched files). Grounded on the teacher's lspHandler/LangHandler
// dispatch-switch in langserver/handler.go, generalized from a single Go
// workspace view to per-scope routing and from go/packages diagnostics to
// the staged/incremental pipeline in internal/compile.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/saibing/groovyls/internal/compile"
	"github.com/saibing/groovyls/internal/config"
	"github.com/saibing/groovyls/internal/contents"
	"github.com/saibing/groovyls/internal/exec"
	"github.com/saibing/groovyls/internal/logging"
	"github.com/saibing/groovyls/internal/protocol"
	"github.com/saibing/groovyls/internal/resolve"
	"github.com/saibing/groovyls/internal/scope"
	"github.com/saibing/groovyls/internal/uriutil"
	"github.com/saibing/groovyls/internal/watch"
)

// ImporterRegistry is the set of build-tool importers this server
// instance was started with, keyed by Importer.Name(), plus a default
// chosen for scopes that haven't declared one explicitly.
type ImporterRegistry struct {
	ByName  map[string]resolve.Importer
	Default string
}

// Server is the LSP-facing orchestrator: one per connection. It owns
// C1–C8 and implements compile.Publisher / resolve.StatusReporter so the
// core can reach the editor without importing jsonrpc2 itself.
type Server struct {
	mu   sync.Mutex
	conn *jsonrpc2.Conn

	Manager     *scope.Manager
	Contents    *contents.Tracker
	Compiler    *compile.Service
	Coordinator *resolve.Coordinator
	Watch       *watch.Handler
	FSWatcher   *watch.Watcher // optional fsnotify fallback; nil is fine
	Pools       *exec.Pools
	Importers   ImporterRegistry
	Providers   Providers
	CleanStale  scope.StaleClassFileCleaner // removes stale .class output once a classpath lands; may be nil

	DefaultConfig config.Config
	cfg           config.Config

	initialized bool
}

// New assembles a Server from its already-constructed collaborators;
// cmd/groovyls is responsible for wiring C1–C8 and passing them in.
func New(mgr *scope.Manager, tracker *contents.Tracker, svc *compile.Service, coord *resolve.Coordinator, wh *watch.Handler, pools *exec.Pools, importers ImporterRegistry, providers Providers, defaultCfg config.Config) *Server {
	if providers == nil {
		providers = NoopProviders{}
	}
	return &Server{
		Manager:       mgr,
		Contents:      tracker,
		Compiler:      svc,
		Coordinator:   coord,
		Watch:         wh,
		Pools:         pools,
		Importers:     importers,
		Providers:     providers,
		DefaultConfig: defaultCfg,
		cfg:           defaultCfg,
	}
}

// PublishDiagnostics implements compile.Publisher.
func (s *Server) PublishDiagnostics(uri lsp.DocumentURI, diags []lsp.Diagnostic) {
	s.notify("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{URI: uri, Diagnostics: diags})
}

// ShowMessage implements compile.Publisher.
func (s *Server) ShowMessage(severity lsp.MessageType, message string) {
	s.notify("window/showMessage", lsp.ShowMessageParams{Type: severity, Message: message})
}

// StatusUpdate implements resolve.StatusReporter.
func (s *Server) StatusUpdate(state, message string) {
	s.notify("statusUpdate", protocol.StatusUpdateParams{State: state, Message: message})
}

func (s *Server) notify(method string, params interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Notify(context.Background(), method, params)
}

// NewHandler returns the jsonrpc2.Handler for s, mirroring the teacher's
// lspHandler: notifications that mutate C1/C7 state run in arrival order
// on the dispatcher goroutine, everything else is dispatched
// concurrently (spec.md §5: "Scheduling model: parallel threads").
func NewHandler(s *Server) jsonrpc2.Handler {
	return dispatcher{jsonrpc2.HandlerWithError(s.handle)}
}

type dispatcher struct {
	jsonrpc2.Handler
}

func (d dispatcher) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if isOrderedMethod(req.Method) {
		d.Handler.Handle(ctx, conn, req)
		return
	}
	go d.Handler.Handle(ctx, conn, req)
}

func isOrderedMethod(method string) bool {
	switch method {
	case "initialize", "initialized", "shutdown", "exit",
		"textDocument/didOpen", "textDocument/didChange", "textDocument/didClose", "textDocument/didSave",
		"workspace/didChangeWatchedFiles", "workspace/didChangeConfiguration":
		return true
	default:
		return false
	}
}

// handle implements jsonrpc2.Handler's function-adapter signature.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Root.Error("panic handling request", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			err = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: fmt.Sprintf("internal error handling %s", req.Method)}
		}
	}()

	s.mu.Lock()
	if s.conn == nil {
		s.conn = conn
	}
	initialized := s.initialized
	s.mu.Unlock()

	if req.Method != "initialize" && !initialized {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server not initialized"}
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(ctx, req)
	case "initialized":
		return nil, nil
	case "shutdown":
		return nil, nil
	case "exit":
		conn.Close()
		return nil, nil

	case "textDocument/didOpen":
		return nil, s.handleDidOpen(ctx, req)
	case "textDocument/didChange":
		return nil, s.handleDidChange(ctx, req)
	case "textDocument/didClose":
		return nil, s.handleDidClose(req)
	case "textDocument/didSave":
		return nil, nil
	case "workspace/didChangeWatchedFiles":
		return nil, s.handleDidChangeWatchedFiles(ctx, req)
	case "workspace/didChangeConfiguration":
		return nil, s.handleDidChangeConfiguration(ctx, req)

	case "textDocument/hover":
		return s.withScope(ctx, req, s.Providers.Hover)
	case "textDocument/completion":
		return s.withScope(ctx, req, s.Providers.Completion)
	case "completionItem/resolve":
		return s.Providers.CompletionResolve(ctx, paramsOf(req))
	case "textDocument/signatureHelp":
		return s.withScope(ctx, req, s.Providers.SignatureHelp)
	case "textDocument/definition":
		return s.withScope(ctx, req, s.Providers.Definition)
	case "textDocument/typeDefinition":
		return s.withScope(ctx, req, s.Providers.TypeDefinition)
	case "textDocument/implementation":
		return s.withScope(ctx, req, s.Providers.Implementation)
	case "textDocument/references":
		return s.withScope(ctx, req, s.Providers.References)
	case "textDocument/documentHighlight":
		return s.withScope(ctx, req, s.Providers.DocumentHighlight)
	case "textDocument/documentSymbol":
		return s.withScope(ctx, req, s.Providers.DocumentSymbol)
	case "workspace/symbol":
		return s.Providers.WorkspaceSymbol(ctx, paramsOf(req))
	case "textDocument/rename":
		return s.withScope(ctx, req, s.Providers.Rename)
	case "textDocument/prepareRename":
		return s.withScope(ctx, req, s.Providers.PrepareRename)
	case "textDocument/codeAction":
		return s.withScope(ctx, req, s.Providers.CodeAction)
	case "textDocument/inlayHint":
		return s.withScope(ctx, req, s.Providers.InlayHint)
	case "textDocument/semanticTokens/full":
		return s.withScope(ctx, req, s.Providers.SemanticTokensFull)
	case "textDocument/semanticTokens/range":
		return s.withScope(ctx, req, s.Providers.SemanticTokensRange)
	case "textDocument/formatting", "textDocument/rangeFormatting":
		return s.withScope(ctx, req, s.Providers.Formatting)

	case "getDecompiledContent":
		return s.handleGetDecompiledContent(ctx, req)
	case "getProtocolVersion":
		return protocol.GetProtocolVersionResult{Version: protocol.ProtocolVersion}, nil

	case "$/cancelRequest":
		return nil, nil

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	}
}

func paramsOf(req *jsonrpc2.Request) json.RawMessage {
	if req.Params == nil {
		return nil
	}
	return json.RawMessage(*req.Params)
}

// docURIEnvelope extracts just the routing URI out of any
// TextDocumentIdentifier-bearing request, so the core can find the scope
// and ensure it's compiled before handing the full params off to a
// provider (which does its own, possibly newer-than-go-lsp, unmarshaling).
type docURIEnvelope struct {
	TextDocument struct {
		URI lsp.DocumentURI `json:"uri"`
	} `json:"textDocument"`
}

// providerFunc is the shape every feature-request Providers method shares.
type providerFunc func(ctx context.Context, s *scope.Scope, raw json.RawMessage) (interface{}, error)

// withScope resolves the request's scope, ensures it is compiled (fail-
// soft per spec.md §7: classpath-unresolved routes through C6 rather than
// erroring), then delegates to fn with fail-soft panic containment.
func (s *Server) withScope(ctx context.Context, req *jsonrpc2.Request, fn providerFunc) (result interface{}, err error) {
	raw := paramsOf(req)
	if raw == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var env docURIEnvelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: jsonErr.Error()}
	}

	sc := s.Manager.FindScope(env.TextDocument.URI)
	if sc == nil {
		return nil, nil
	}
	s.ensureReady(ctx, sc, env.TextDocument.URI)

	defer func() {
		if r := recover(); r != nil {
			logging.ForProject(sc.ProjectRoot).Warn("provider panicked, returning empty result", "method", req.Method, "panic", r)
			result, err = nil, nil
		}
	}()

	res, ferr := fn(ctx, sc, raw)
	if ferr != nil {
		logging.ForProject(sc.ProjectRoot).Warn("provider returned error, returning empty result", "method", req.Method, "err", ferr)
		return nil, nil
	}
	return res, nil
}

// ensureReady is the request-path half of spec.md §4.4/§4.5: route an
// unresolved scope to C6, otherwise make sure C5 has produced an AST.
func (s *Server) ensureReady(ctx context.Context, sc *scope.Scope, triggerURI lsp.DocumentURI) {
	s.Manager.Reaccess(sc)
	sc.Lock()
	resolved := sc.ClasspathResolvedLocked()
	sc.Unlock()

	if !resolved {
		importerName := s.Importers.Default
		s.Coordinator.RequestResolution(ctx, sc, importerName, triggerURI)
		s.Compiler.SyntaxCheckSingleFile(ctx, sc.ProjectRoot, triggerURI)
		return
	}

	sc.Lock()
	defer sc.Unlock()
	s.Compiler.EnsureScopeCompiled(ctx, sc, triggerURI, true)
}

func (s *Server) handleInitialize(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params lsp.InitializeParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}

	var opts protocol.InitializationOptions
	if params.InitializationOptions != nil {
		if raw, err := json.Marshal(params.InitializationOptions); err == nil {
			_ = json.Unmarshal(raw, &opts)
		}
	}
	cfg := s.DefaultConfig.Apply(&opts)
	if opts.ProtocolVersion != nil && *opts.ProtocolVersion != protocol.ProtocolVersion {
		logging.Root.Warn("client protocol version mismatch", "client", *opts.ProtocolVersion, "server", protocol.ProtocolVersion)
	}
	logging.SetLevel(cfg.LogLevel)

	s.mu.Lock()
	s.cfg = cfg
	s.initialized = true
	s.mu.Unlock()

	var rootPath string
	if params.RootURI != "" {
		rootPath, _ = uriutil.ToFilename(params.RootURI)
	} else if params.RootPath != "" {
		rootPath = params.RootPath
	}
	if rootPath != "" {
		s.Manager.RegisterDiscovered([]string{rootPath})
		if s.FSWatcher != nil {
			if err := s.FSWatcher.AddRoot(rootPath); err != nil {
				logging.Root.Warn("fsnotify watch on workspace root failed", "root", rootPath, "err", err)
			}
		}
	}

	kind := lsp.TDSKIncremental
	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			ServerCapabilities: lsp.ServerCapabilities{
				TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{Kind: &kind},
				HoverProvider:    true,
				CompletionProvider: &lsp.CompletionOptions{
					TriggerCharacters: []string{".", "@"},
				},
				SignatureHelpProvider:      &lsp.SignatureHelpOptions{TriggerCharacters: []string{"(", ","}},
				DefinitionProvider:         true,
				TypeDefinitionProvider:     true,
				ImplementationProvider:     true,
				ReferencesProvider:         true,
				DocumentHighlightProvider:  true,
				DocumentSymbolProvider:     true,
				WorkspaceSymbolProvider:    true,
				RenameProvider:             true,
				CodeActionProvider:         true,
				DocumentFormattingProvider: true,
			},
			InlayHintProvider: true,
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     []string{"namespace", "class", "interface", "method", "property", "variable", "parameter", "keyword"},
					TokenModifiers: []string{"declaration", "static", "deprecated"},
				},
				Full:  true,
				Range: true,
			},
		},
	}, nil
}

func (s *Server) handleDidOpen(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidOpenTextDocumentParams
	if err := unmarshalParams(req, &params); err != nil {
		return err
	}
	s.Contents.DidOpen(params.TextDocument.URI, params.TextDocument.Text)

	sc := s.Manager.FindScope(params.TextDocument.URI)
	if sc != nil {
		s.ensureReady(ctx, sc, params.TextDocument.URI)
	}
	return nil
}

func (s *Server) handleDidChange(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidChangeTextDocumentParams
	if err := unmarshalParams(req, &params); err != nil {
		return err
	}
	if err := s.Contents.DidChange(params.TextDocument.URI, params.ContentChanges); err != nil {
		return err
	}

	sc := s.Manager.FindScope(params.TextDocument.URI)
	if sc == nil {
		return nil
	}
	s.Manager.Reaccess(sc)
	sc.Lock()
	defer sc.Unlock()
	if !sc.ClasspathResolvedLocked() {
		return nil
	}
	if ok := s.Compiler.Incremental(ctx, sc, []lsp.DocumentURI{params.TextDocument.URI}, params.TextDocument.URI); !ok {
		s.Compiler.EnsureScopeCompiled(ctx, sc, params.TextDocument.URI, true)
	}
	return nil
}

func (s *Server) handleDidClose(req *jsonrpc2.Request) error {
	var params lsp.DidCloseTextDocumentParams
	if err := unmarshalParams(req, &params); err != nil {
		return err
	}
	s.Contents.DidClose(params.TextDocument.URI)
	return nil
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidChangeWatchedFilesParams
	if err := unmarshalParams(req, &params); err != nil {
		return err
	}
	events := make([]watch.FileEvent, 0, len(params.Changes))
	for _, c := range params.Changes {
		events = append(events, watch.FileEvent{URI: c.URI, Kind: watchKind(c.Type)})
	}
	s.Watch.HandleEvents(ctx, events)
	return nil
}

func watchKind(t lsp.FileChangeType) watch.EventKind {
	switch t {
	case lsp.Created:
		return watch.Created
	case lsp.Deleted:
		return watch.Deleted
	default:
		return watch.Changed
	}
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, req *jsonrpc2.Request) error {
	raw := paramsOf(req)
	if raw == nil {
		return nil
	}
	var envelope struct {
		Settings protocol.DidChangeConfigurationSettings `json:"settings"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	if cp := envelope.Settings.Groovy.Classpath; cp != nil {
		def := s.Manager.Default()
		s.Manager.UpdateProjectClasspath(def, cp, nil, true, s.classloaderFactory(ctx, def), s.CleanStale)
	}
	return nil
}

// classloaderFactory mirrors internal/resolve.Coordinator's own
// classloaderFactory: it rebuilds sc's classloader from a client-supplied
// classpath (workspace/didChangeConfiguration), so a manually configured
// classpath reaches the compiler the same way an importer-resolved one
// does (spec.md §1, invariant 5).
func (s *Server) classloaderFactory(ctx context.Context, sc *scope.Scope) func([]string) bool {
	if s.Compiler == nil {
		return nil
	}
	return func(cp []string) bool {
		cl, err := s.Compiler.NewClassloader(ctx, cp)
		if err != nil {
			logging.ForProject(sc.ProjectRoot).Warn("classloader build failed", "err", err)
			return false
		}
		return sc.SetClassloader(cl)
	}
}

func (s *Server) handleGetDecompiledContent(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	var params protocol.GetDecompiledContentParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	content, err := s.Providers.DecompiledContent(ctx, params.ClassName)
	if err != nil {
		logging.Root.Warn("decompile failed", "class", params.ClassName, "err", err)
		return protocol.GetDecompiledContentResult{Content: nil}, nil
	}
	return protocol.GetDecompiledContentResult{Content: content}, nil
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	return json.Unmarshal(*req.Params, v)
}

// ReportMemoryUsage sends one memoryUsage notification. cmd/groovyls calls
// it from its own one-minute ticker, separate from (but at the same
// interval as) the eviction sweeper's ticker.
func (s *Server) ReportMemoryUsage() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	all := s.Manager.All()
	evicted := 0
	for _, sc := range all {
		if sc.Evicted() {
			evicted++
		}
	}

	s.notify("memoryUsage", protocol.MemoryUsageParams{
		UsedMB:        int(mem.HeapAlloc / (1024 * 1024)),
		MaxMB:         int(mem.Sys / (1024 * 1024)),
		ActiveScopes:  len(all) - evicted,
		EvictedScopes: evicted,
		TotalScopes:   len(all),
	})
}
