// Package protocol holds the wire-level extensions this server layers on
// top of github.com/sourcegraph/go-lsp: the custom server->client
// notifications and client->server requests from spec.md §6, plus the
// InitializationOptions/didChangeConfiguration shapes the core recognizes.
//
// Standard LSP notifications/requests (didOpen, hover, completion, ...) are
// framed with lsp.* types directly and are not redeclared here.
package protocol

import (
	lsp "github.com/sourcegraph/go-lsp"
)

// Status states for the custom statusUpdate notification.
const (
	StatusImporting = "importing"
	StatusReady     = "ready"
)

// StatusUpdateParams is sent server->client as the "statusUpdate" custom
// notification.
type StatusUpdateParams struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// MemoryUsageParams is sent server->client as the "memoryUsage" custom
// notification, sent on a periodic ticker of its own.
type MemoryUsageParams struct {
	UsedMB        int `json:"usedMB"`
	MaxMB         int `json:"maxMB"`
	ActiveScopes  int `json:"activeScopes"`
	EvictedScopes int `json:"evictedScopes"`
	TotalScopes   int `json:"totalScopes"`
}

// LogMessageParams mirrors lsp.LogMessageParams; kept as a distinct alias
// so callers of this package don't need to import go-lsp just to log.
type LogMessageParams = lsp.LogMessageParams

// GetDecompiledContentParams is the custom "getDecompiledContent" request.
type GetDecompiledContentParams struct {
	ClassName string `json:"className"`
}

// GetDecompiledContentResult is the response; Content is nil when the
// class could not be located or decompiled.
type GetDecompiledContentResult struct {
	Content *string `json:"content"`
}

// GetProtocolVersionResult is the response to the custom
// "getProtocolVersion" request.
type GetProtocolVersionResult struct {
	Version string `json:"version"`
}

// ProtocolVersion is the single string constant this server reports. A
// mismatch against the client's expected version is logged but non-fatal.
const ProtocolVersion = "1.0"

// LogLevel enumerates the recognized initializationOptions.logLevel values.
type LogLevel string

const (
	LogError LogLevel = "ERROR"
	LogWarn  LogLevel = "WARN"
	LogInfo  LogLevel = "INFO"
	LogDebug LogLevel = "DEBUG"
	LogTrace LogLevel = "TRACE"
)

// InitializationOptions are the options recognized in the "initialize"
// request's initializationOptions, per spec.md §6. Every field is a
// pointer/slice so Config.Apply can detect "not specified" and fall back
// to the default.
type InitializationOptions struct {
	ProtocolVersion          *string  `json:"protocolVersion,omitempty"`
	LogLevel                 *string  `json:"logLevel,omitempty"`
	ClasspathCache           *bool    `json:"classpathCache,omitempty"`
	EnabledImporters         []string `json:"enabledImporters,omitempty"`
	BackfillSiblingProjects  *bool    `json:"backfillSiblingProjects,omitempty"`
	ScopeEvictionTTLSeconds  *int     `json:"scopeEvictionTTLSeconds,omitempty"`
	MemoryPressureThreshold  *float64 `json:"memoryPressureThreshold,omitempty"`
	RejectedPackages         []string `json:"rejectedPackages,omitempty"`
}

// ServerCapabilities extends lsp.ServerCapabilities with the newer LSP
// surface area (semantic tokens, inlay hints, rename prepare support)
// that predates github.com/sourcegraph/go-lsp's last sync with the
// protocol. Embedding lets the promoted fields of lsp.ServerCapabilities
// flatten into the same JSON object as these additions.
type ServerCapabilities struct {
	lsp.ServerCapabilities
	SemanticTokensProvider *SemanticTokensOptions `json:"semanticTokensProvider,omitempty"`
	InlayHintProvider      bool                   `json:"inlayHintProvider,omitempty"`
}

// SemanticTokensOptions advertises the token legend and full/range support.
type SemanticTokensOptions struct {
	Legend SemanticTokensLegend `json:"legend"`
	Full   bool                 `json:"full,omitempty"`
	Range  bool                 `json:"range,omitempty"`
}

// SemanticTokensLegend enumerates the token/modifier vocabulary.
type SemanticTokensLegend struct {
	TokenTypes     []string `json:"tokenTypes"`
	TokenModifiers []string `json:"tokenModifiers"`
}

// InitializeResult mirrors lsp.InitializeResult but with the extended
// capabilities set above.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// DidChangeConfigurationSettings is the recognized subset of
// workspace/didChangeConfiguration settings, keyed the way the Groovy and
// VS Code extensions historically nest them.
type DidChangeConfigurationSettings struct {
	Groovy struct {
		Classpath            []string `json:"classpath,omitempty"`
		SemanticHighlighting struct {
			Enabled *bool `json:"enabled,omitempty"`
		} `json:"semanticHighlighting"`
		Formatting struct {
			Enabled         *bool `json:"enabled,omitempty"`
			OrganizeImports *bool `json:"organizeImports,omitempty"`
		} `json:"formatting"`
	} `json:"groovy"`
}
