// Package sharedcache implements the reference-counted shared caches
// mentioned in spec.md §5: the per-classpath class-graph scan (C3's
// class_graph_scan field) and the shared classpath-index cache. Both are
// "explicit lifecycles... not ambient globals" (spec.md §9): a Cache is
// owned by the server object, handles are acquired and released
// explicitly, and the last release disposes the underlying resource.
package sharedcache

import "sync"

// Entry is the disposable resource backing one cache slot (a class-graph
// scan, a classpath index, ...).
type Entry interface {
	Close() error
}

type slot struct {
	entry    Entry
	refs     int
	projects map[string]struct{}
}

// Cache is a reference-counted map from key to Entry. Safe for concurrent
// use.
type Cache struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{slots: make(map[string]*slot)}
}

// Handle is a live reference to a cache slot. Release must be called
// exactly once per successful Acquire.
type Handle struct {
	cache *Cache
	key   string
}

// Acquire returns the entry for key, creating it via create if this is
// the first live reference. project associates this reference with a
// project root for InvalidateEntriesUnderProject.
func (c *Cache) Acquire(key, project string, create func() (Entry, error)) (*Handle, Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if !ok {
		entry, err := create()
		if err != nil {
			return nil, nil, err
		}
		s = &slot{entry: entry, projects: map[string]struct{}{}}
		c.slots[key] = s
	}
	s.refs++
	if project != "" {
		s.projects[project] = struct{}{}
	}
	return &Handle{cache: c, key: key}, s.entry, nil
}

// Release drops this handle's reference. When the last reference to a
// slot is released, the underlying Entry is closed and the slot removed.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[h.key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		_ = s.entry.Close()
		delete(c.slots, h.key)
	}
}

// InvalidateEntriesUnderProject disposes every slot associated with
// project, regardless of remaining refcount: the file-change handler
// (internal/watch) calls this when a build descriptor or foreign source
// in the project changes and the old entries are definitely stale, even
// if some handle somewhere hasn't released them yet.
func (c *Cache) InvalidateEntriesUnderProject(project string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, s := range c.slots {
		if _, ok := s.projects[project]; ok {
			_ = s.entry.Close()
			delete(c.slots, key)
		}
	}
}

// Len reports the number of live slots, for diagnostics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
