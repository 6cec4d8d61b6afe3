package chunked

import (
	"sync"
)

// DataCacheEntry is the immutable per-open state derived from a metadata
// snapshot: the chunk grid, the selected component and the chunk key
// prefix. An entry is never patched after construction; when metadata
// changes structurally the entry is invalidated and a new one built from
// the fresh snapshot.
type DataCacheEntry struct {
	// CacheKey identifies this entry; derived from the bound spec plus
	// format-specific disambiguators.
	CacheKey string

	// KeyPrefix prefixes every chunk storage key of this array.
	KeyPrefix string

	// Metadata is the snapshot the entry was built against. Later
	// metadata in the metadata cache does not retroactively change it.
	Metadata Metadata

	// Grid is the chunk grid derived from Metadata.
	Grid *GridSpec

	// ComponentIndex selects the field this open addresses.
	ComponentIndex int
}

// Component returns the selected component of the grid.
func (e *DataCacheEntry) Component() *Component {
	return &e.Grid.Components[e.ComponentIndex]
}

// DataCache deduplicates DataCacheEntry values by cache key, so concurrent
// opens with identical bound configuration share one derived grid.
type DataCache struct {
	mu      sync.Mutex
	entries map[string]*DataCacheEntry
}

// NewDataCache creates an empty cache.
func NewDataCache() *DataCache {
	return &DataCache{entries: make(map[string]*DataCacheEntry)}
}

// GetOrCreate returns the entry for key, building it with create on first
// use. Entry construction is pure computation over an already-fetched
// metadata snapshot, so it runs under the cache lock; that also gives the
// at-most-one-construction-per-key guarantee. A failed create leaves no
// entry behind.
func (c *DataCache) GetOrCreate(key string, create func() (*DataCacheEntry, error)) (*DataCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		return entry, nil
	}
	entry, err := create()
	if err != nil {
		return nil, err
	}
	entry.CacheKey = key
	c.entries[key] = entry
	return entry, nil
}

// Invalidate drops the entry for key; the next GetOrCreate rebuilds it.
// Called after a structural metadata change is detected.
func (c *DataCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
