package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Opener creates a Store from backend-specific options.
//
// The options map is the backend section of a configuration document; each
// backend decodes it with mapstructure into its own config struct.
type Opener func(ctx context.Context, options map[string]any) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend registers a storage backend under the given name.
//
// Backends call this from their package init(). Registering the same name
// twice is a programmer error and panics. The table is never mutated after
// process initialization, so lookups need no synchronization in practice;
// the lock only guards racy init ordering under `go test`.
func RegisterBackend(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, dup := backends[name]; dup {
		panic(fmt.Sprintf("kvstore: backend %q registered twice", name))
	}
	backends[name] = open
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// Open creates a Store from a configuration document.
//
// The document must contain a "backend" string discriminator naming a
// registered backend; the remaining fields are passed to that backend's
// Opener. Unknown backends fail with ErrInvalidArgument.
func Open(ctx context.Context, config map[string]any) (Store, error) {
	name, _ := config["backend"].(string)
	if name == "" {
		return nil, NewError(ErrInvalidArgument, `store config missing "backend" discriminator`, "")
	}

	backendsMu.RLock()
	open := backends[name]
	backendsMu.RUnlock()

	if open == nil {
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("unknown storage backend %q", name), "")
	}
	return open(ctx, config)
}

// CacheKey derives a deterministic identity string from a store
// configuration document.
//
// Two documents that decode to the same backend configuration produce the
// same key, so opened stores can be shared across drivers addressing the
// same backend. Relies on encoding/json emitting map keys in sorted order.
func CacheKey(config map[string]any) string {
	encoded, err := json.Marshal(config)
	if err != nil {
		// Configuration documents come from JSON/YAML and are always
		// marshalable; anything else is a programmer error.
		panic(fmt.Sprintf("kvstore: unencodable store config: %v", err))
	}
	return string(encoded)
}
