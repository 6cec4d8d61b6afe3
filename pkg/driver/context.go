package driver

import (
	"context"
	"sync"

	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// DefaultCodecConcurrency bounds how many chunk encode/decode operations
// run at once when the caller does not say otherwise.
const DefaultCodecConcurrency = 16

// Context holds process resources bound at open time: the deduplication
// table of opened key-value stores and the chunk codec concurrency limit.
// One Context is typically shared by every open in a process; all methods
// are safe for concurrent use.
type Context struct {
	mu        sync.Mutex
	stores    map[string]*sharedStore
	resources map[string]any

	codecSem chan struct{}
}

type sharedStore struct {
	store kvstore.Store
	refs  int
}

// ContextOptions configures a Context.
type ContextOptions struct {
	// CodecConcurrency caps concurrent chunk encode/decode operations.
	// Zero means DefaultCodecConcurrency.
	CodecConcurrency int
}

// NewContext creates an empty resource context.
func NewContext(opts ContextOptions) *Context {
	concurrency := opts.CodecConcurrency
	if concurrency <= 0 {
		concurrency = DefaultCodecConcurrency
	}
	return &Context{
		stores:    make(map[string]*sharedStore),
		resources: make(map[string]any),
		codecSem:  make(chan struct{}, concurrency),
	}
}

// Resource returns the context-scoped resource stored under key, creating
// it with create on first use. Formats use this to share caches between
// opens against the same context without resorting to process globals.
func (c *Context) Resource(key string, create func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.resources[key]; ok {
		return existing
	}
	resource := create()
	c.resources[key] = resource
	return resource
}

// OpenStore opens (or reuses) the key-value store described by config. Two
// opens with equal config cache keys share one underlying store; each open
// must be paired with a ReleaseStore.
func (c *Context) OpenStore(ctx context.Context, config map[string]any) (kvstore.Store, error) {
	key := kvstore.CacheKey(config)

	c.mu.Lock()
	if shared, ok := c.stores[key]; ok {
		shared.refs++
		c.mu.Unlock()
		logger.Debug("Reusing opened store for cache key %q (refs=%d)", key, shared.refs)
		return shared.store, nil
	}
	c.mu.Unlock()

	// Opened outside the lock; backends may do IO. A racing open of the
	// same config is resolved below in favor of the first to insert.
	store, err := kvstore.Open(ctx, config)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if shared, ok := c.stores[key]; ok {
		store.Close()
		shared.refs++
		return shared.store, nil
	}
	c.stores[key] = &sharedStore{store: store, refs: 1}
	return store, nil
}

// ReleaseStore drops one reference to the store opened for config, closing
// the underlying store when the last reference goes.
func (c *Context) ReleaseStore(config map[string]any) error {
	key := kvstore.CacheKey(config)

	c.mu.Lock()
	shared, ok := c.stores[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	shared.refs--
	if shared.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.stores, key)
	c.mu.Unlock()

	return shared.store.Close()
}

// AcquireCodec blocks until a codec slot is free or ctx ends.
func (c *Context) AcquireCodec(ctx context.Context) error {
	select {
	case c.codecSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseCodec frees a slot taken by AcquireCodec.
func (c *Context) ReleaseCodec() {
	<-c.codecSem
}

// Close closes every store still held by the context.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, shared := range c.stores {
		if err := shared.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.stores, key)
	}
	return firstErr
}
