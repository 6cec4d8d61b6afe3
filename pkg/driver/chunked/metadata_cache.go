package chunked

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridkv/gridstore/internal/future"
	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// MetadataSnapshot is one observed state of a metadata storage entry.
// Missing snapshots carry no metadata; populated ones pair the decoded
// metadata with the store generation it was read at.
type MetadataSnapshot struct {
	Metadata   Metadata
	Generation kvstore.Generation
	Missing    bool
}

// MetadataCache caches decoded metadata per storage entry key for one
// key-value store. All data caches addressing the same entry share one
// MetadataCache entry, so a refresh by any of them benefits all.
type MetadataCache struct {
	format Format

	mu      sync.Mutex
	kv      kvstore.Store
	entries map[string]*MetadataEntry
}

// NewMetadataCache creates a cache over one key-value store.
func NewMetadataCache(format Format, kv kvstore.Store) *MetadataCache {
	return &MetadataCache{
		format:  format,
		kv:      kv,
		entries: make(map[string]*MetadataEntry),
	}
}

// Rebind points the cache at a freshly opened store handle. The context's
// store table may close a fully released store and open a new one for the
// same configuration; the cache must follow it.
func (c *MetadataCache) Rebind(kv kvstore.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv = kv
}

func (c *MetadataCache) store() kvstore.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv
}

// Entry returns the cache entry for an entry key, creating it lazily.
func (c *MetadataCache) Entry(entryKey string) *MetadataEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[entryKey]; ok {
		return entry
	}
	entry := &MetadataEntry{cache: c, key: entryKey}
	c.entries[entryKey] = entry
	return entry
}

// MetadataEntry tracks the latest known metadata snapshot for one storage
// entry. Snapshots are immutable; a refresh installs a new one alongside
// whatever callers already hold.
type MetadataEntry struct {
	cache *MetadataCache
	key   string

	mu      sync.Mutex
	current *MetadataSnapshot
	pending *future.Future[*MetadataSnapshot]
}

// StorageKey returns the physical key of the metadata blob.
func (e *MetadataEntry) StorageKey() string {
	return e.cache.format.MetadataStorageKey(e.key)
}

// Current returns the latest installed snapshot without touching the
// backing store, or nil if nothing has been read yet.
func (e *MetadataEntry) Current() *MetadataSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Read fetches the entry's metadata from the backing store. Concurrent
// calls share a single in-flight fetch: callers attach to the pending
// future instead of issuing duplicate reads. Every returned future holds
// one unit of interest, which the caller must Release; the fetch is
// cancelled only when all interested callers have given up.
func (e *MetadataEntry) Read(ctx context.Context) *future.Future[*MetadataSnapshot] {
	e.mu.Lock()
	if e.pending != nil && !e.pending.Ready() {
		f := e.pending.AddInterest()
		e.mu.Unlock()
		return f
	}

	promise, f, opCtx := future.NewPromise[*MetadataSnapshot](context.WithoutCancel(ctx))
	e.pending = f
	e.mu.Unlock()

	go func() {
		snapshot, err := e.fetch(opCtx)

		e.mu.Lock()
		e.pending = nil
		if err == nil {
			e.current = snapshot
		}
		e.mu.Unlock()

		if err != nil {
			promise.Reject(err)
			return
		}
		promise.Resolve(snapshot)
	}()

	// The creator's initial interest transfers to the caller.
	return f
}

func (e *MetadataEntry) fetch(ctx context.Context) (*MetadataSnapshot, error) {
	storageKey := e.StorageKey()
	res, err := e.cache.store().Get(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("read metadata %q: %w", storageKey, err)
	}
	if res.Missing {
		logger.Debug("No metadata at %q", storageKey)
		return &MetadataSnapshot{Missing: true}, nil
	}

	md, err := e.cache.format.DecodeMetadata(e.key, res.Value)
	if err != nil {
		return nil, fmt.Errorf("decode metadata %q: %w", storageKey, err)
	}
	return &MetadataSnapshot{Metadata: md, Generation: res.Generation}, nil
}

// Write encodes and conditionally stores new metadata. On success the entry
// adopts the new snapshot and returns it; a failed precondition surfaces as
// kvstore.ErrGenerationMismatch (or ErrAlreadyExists for IfNotExists)
// without touching the cached snapshot.
func (e *MetadataEntry) Write(ctx context.Context, md Metadata, opts kvstore.WriteOptions) (*MetadataSnapshot, error) {
	raw, err := e.cache.format.EncodeMetadata(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata %q: %w", e.StorageKey(), err)
	}

	gen, err := e.cache.store().Put(ctx, e.StorageKey(), raw, opts)
	if err != nil {
		return nil, err
	}

	snapshot := &MetadataSnapshot{Metadata: md, Generation: gen}
	e.mu.Lock()
	e.current = snapshot
	e.mu.Unlock()
	return snapshot, nil
}
