// Package memory implements an in-memory key-value backend.
//
// This implementation stores all values in a map. It's designed for:
//   - Testing and development
//   - Ephemeral arrays that never need to survive the process
//   - The shared backend behind the remote server in tests
//
// Characteristics:
//   - Fast: all operations are memory-speed
//   - Volatile: data lost on restart
//   - Thread-safe: protected by RWMutex
//
// Generations are a store-wide monotonic counter: every successful write
// stamps the key with a fresh counter value, so a generation observed by one
// reader can never be reused for different bytes.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/mitchellh/mapstructure"
)

func init() {
	kvstore.RegisterBackend("memory", func(ctx context.Context, options map[string]any) (kvstore.Store, error) {
		var cfg Config
		if err := mapstructure.Decode(options, &cfg); err != nil {
			return nil, kvstore.WrapError(kvstore.ErrInvalidArgument, "invalid memory store config", "", err)
		}
		return NewStore(cfg), nil
	})
}

// Config configures a memory store. The backend takes no tunables today; the
// struct exists so configuration documents round-trip through the same
// mapstructure path as every other backend.
type Config struct {
	// Backend is the discriminator; always "memory".
	Backend string `mapstructure:"backend"`
}

type entry struct {
	value      []byte
	generation uint64
}

// Store is the in-memory kvstore.Store implementation.
type Store struct {
	mu      sync.RWMutex
	data    map[string]entry
	counter uint64
	closed  bool
}

// NewStore creates an empty in-memory store.
func NewStore(_ Config) *Store {
	return &Store{data: make(map[string]entry)}
}

func formatGeneration(g uint64) kvstore.Generation {
	return kvstore.Generation(strconv.FormatUint(g, 10))
}

func (s *Store) checkOpen() error {
	if s.closed {
		return kvstore.NewError(kvstore.ErrUnavailable, "store is closed", "")
	}
	return nil
}

// Get returns the value stored under key, or a Missing result.
func (s *Store) Get(ctx context.Context, key string) (kvstore.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return kvstore.ReadResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return kvstore.ReadResult{}, err
	}

	e, ok := s.data[key]
	if !ok {
		return kvstore.ReadResult{Missing: true}, nil
	}

	// Copy so callers can't mutate the stored bytes.
	value := make([]byte, len(e.value))
	copy(value, e.value)

	return kvstore.ReadResult{Value: value, Generation: formatGeneration(e.generation)}, nil
}

// Put stores value under key subject to opts.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts kvstore.WriteOptions) (kvstore.Generation, error) {
	if err := ctx.Err(); err != nil {
		return kvstore.NoGeneration, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return kvstore.NoGeneration, err
	}
	if err := s.checkCondition(key, opts); err != nil {
		return kvstore.NoGeneration, err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.counter++
	s.data[key] = entry{value: stored, generation: s.counter}

	return formatGeneration(s.counter), nil
}

// Delete removes key subject to opts.
func (s *Store) Delete(ctx context.Context, key string, opts kvstore.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkCondition(key, opts); err != nil {
		return err
	}

	delete(s.data, key)
	return nil
}

// checkCondition validates write preconditions against the current entry.
// Callers must hold the write lock.
func (s *Store) checkCondition(key string, opts kvstore.WriteOptions) error {
	e, exists := s.data[key]

	if opts.IfNotExists && exists {
		return kvstore.NewError(kvstore.ErrAlreadyExists, "key already exists", key)
	}
	if opts.IfGenerationMatch != kvstore.NoGeneration {
		if !exists {
			return kvstore.NewError(kvstore.ErrGenerationMismatch, "key does not exist", key)
		}
		if formatGeneration(e.generation) != opts.IfGenerationMatch {
			return kvstore.NewError(kvstore.ErrGenerationMismatch, "generation mismatch", key)
		}
	}
	return nil
}

// List returns all keys with the given prefix in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeletePrefix removes every key with the given prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
