// Classpath cache: an on-disk store keyed by (workspace-root fingerprint,
// project-root), persisting the classpath/version/discovered-roots a
// prior resolution produced (spec.md §6 "Persisted state"). Grounded on
// the teacher's module resolution cache in
// langserver/internal/cache/module_cache.go, generalized from Go module
// version records to classpath entries and reworked onto gopkg.in/yaml.v2
// (matching this pack's config/cache serialization idiom — see
// internal/resolve's sibling importer implementations in the analyzer-lsp
// and CEM example repos, which persist provider/build state as YAML
// rather than JSON).
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
)

// CacheEntry is one project root's persisted resolution result.
type CacheEntry struct {
	Classpath        []string `yaml:"classpath"`
	LanguageVersion  string   `yaml:"languageVersion,omitempty"`
	DiscoveredRoots  []string `yaml:"discoveredRoots,omitempty"`
}

type onDiskCache struct {
	// Entries is keyed by project root (absolute path); the workspace
	// fingerprint is the file name itself, so a moved workspace simply
	// misses the cache rather than reading someone else's entries
	// (spec.md §9 open question: "do not attempt to migrate silently").
	Entries map[string]CacheEntry `yaml:"entries"`
}

// Cache is the on-disk classpath cache for one workspace root. Safe for
// concurrent use; writes are serialized and each write rewrites the whole
// file (merge-update semantics: a write never drops another project's
// entry).
type Cache struct {
	mu   sync.Mutex
	path string
}

// NewCache returns a cache keyed by a fingerprint of workspaceRoot, stored
// under cacheDir (typically the server's state directory).
func NewCache(cacheDir, workspaceRoot string) *Cache {
	sum := sha256.Sum256([]byte(workspaceRoot))
	name := hex.EncodeToString(sum[:8]) + ".yml"
	return &Cache{path: filepath.Join(cacheDir, name)}
}

// Get returns the persisted entry for projectRoot, if any.
func (c *Cache) Get(projectRoot string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	disk := c.readLocked()
	e, ok := disk.Entries[projectRoot]
	return e, ok
}

// Put merges entry into the on-disk store for projectRoot and rewrites
// the file (last write wins per project root, per spec.md §6).
func (c *Cache) Put(projectRoot string, entry CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	disk := c.readLocked()
	if disk.Entries == nil {
		disk.Entries = map[string]CacheEntry{}
	}
	disk.Entries[projectRoot] = entry
	return c.writeLocked(disk)
}

func (c *Cache) readLocked() onDiskCache {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return onDiskCache{Entries: map[string]CacheEntry{}}
	}
	var disk onDiskCache
	if err := yaml.Unmarshal(data, &disk); err != nil {
		return onDiskCache{Entries: map[string]CacheEntry{}}
	}
	if disk.Entries == nil {
		disk.Entries = map[string]CacheEntry{}
	}
	return disk
}

func (c *Cache) writeLocked(disk onDiskCache) error {
	data, err := yaml.Marshal(disk)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}
