// Package config holds the server's configuration: defaults combined
// with the client's initializationOptions (spec.md §6). Grounded
// on the teacher's langserver/config.go Config/Apply/NewDefaultConfig
// pattern, generalized from Go-toolchain flags (BuildTags,
// GoimportsLocalPrefix, ...) to this server's classpath-cache and
// scope-eviction knobs.
package config

import (
	"time"

	"github.com/saibing/groovyls/internal/protocol"
)

// Config records server configuration. Keep in sync with
// protocol.InitializationOptions.
//
// When initializationOptions arrive, only LogLevel is applied to the
// running server. The classpath cache, importer set, and eviction sweeper
// are built in cmd/groovyls from the command-line flags before initialize,
// and later changes to the corresponding fields here do not reach them.
type Config struct {
	// ProtocolVersion is the client's expected protocol version; a
	// mismatch against protocol.ProtocolVersion is logged but non-fatal.
	ProtocolVersion string

	// LogLevel is one of ERROR|WARN|INFO|DEBUG|TRACE.
	LogLevel string

	// ClasspathCache enables the on-disk classpath cache (internal/resolve.Cache).
	//
	// Defaults to true if not specified.
	ClasspathCache bool

	// EnabledImporters restricts which registered importers may be used,
	// by name. Empty means all registered importers are enabled.
	EnabledImporters []string

	// BackfillSiblingProjects records the sibling-project backfill
	// setting. The resolution coordinator does not read it: sibling
	// backfill is scheduled whenever the importer supports sibling
	// batching, whatever this value is.
	//
	// Defaults to false if not specified.
	BackfillSiblingProjects bool

	// ScopeEvictionTTL is how long an idle scope survives before the
	// eviction sweeper reclaims it.
	//
	// Defaults to 30 minutes if not specified.
	ScopeEvictionTTL time.Duration

	// MemoryPressureThreshold is the heap-fraction (0,1] above which the
	// eviction sweeper starts reclaiming least-recently-used scopes ahead
	// of their TTL.
	//
	// Defaults to 0.85 if not specified.
	MemoryPressureThreshold float64

	// RejectedPackages records package-prefix strings from
	// initializationOptions. Nothing reads it: compilation units are
	// built without any package filtering.
	RejectedPackages []string
}

// NewDefaultConfig returns the default config. See the field comments for
// the defaults.
func NewDefaultConfig() Config {
	return Config{
		ProtocolVersion:         protocol.ProtocolVersion,
		LogLevel:                string(protocol.LogInfo),
		ClasspathCache:          true,
		BackfillSiblingProjects: false,
		ScopeEvictionTTL:        30 * time.Minute,
		MemoryPressureThreshold: 0.85,
	}
}

// Apply sets the corresponding field in c for each non-nil field in o.
func (c Config) Apply(o *protocol.InitializationOptions) Config {
	if o == nil {
		return c
	}
	if o.ProtocolVersion != nil {
		c.ProtocolVersion = *o.ProtocolVersion
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.ClasspathCache != nil {
		c.ClasspathCache = *o.ClasspathCache
	}
	if o.EnabledImporters != nil {
		c.EnabledImporters = o.EnabledImporters
	}
	if o.BackfillSiblingProjects != nil {
		c.BackfillSiblingProjects = *o.BackfillSiblingProjects
	}
	if o.ScopeEvictionTTLSeconds != nil {
		c.ScopeEvictionTTL = time.Duration(*o.ScopeEvictionTTLSeconds) * time.Second
	}
	if o.MemoryPressureThreshold != nil {
		c.MemoryPressureThreshold = *o.MemoryPressureThreshold
	}
	if o.RejectedPackages != nil {
		c.RejectedPackages = o.RejectedPackages
	}
	return c
}

// ImporterEnabled reports whether name is permitted to run, honoring
// EnabledImporters (empty list means "all enabled").
func (c Config) ImporterEnabled(name string) bool {
	if len(c.EnabledImporters) == 0 {
		return true
	}
	for _, n := range c.EnabledImporters {
		if n == name {
			return true
		}
	}
	return false
}
