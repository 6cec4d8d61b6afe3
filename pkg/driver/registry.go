// Package driver holds the process-wide registry of array storage format
// drivers and the Spec contract every format implements.
//
// A format package registers itself from init(), so importing it (usually
// for side effects) is all that is needed to make its discriminator
// resolvable:
//
//	import _ "github.com/gridkv/gridstore/pkg/driver/zarr"
//
//	spec, err := driver.Resolve(map[string]any{
//	    "driver": "zarr",
//	    "store":  map[string]any{"backend": "memory"},
//	    "path":   "my-array/",
//	})
package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDriverNotFound is returned by Resolve for an unknown discriminator.
var ErrDriverNotFound = errors.New("driver not found")

// Driver is one registered storage format.
type Driver interface {
	// ID returns the discriminator string ("zarr", ...).
	ID() string

	// BindSpec parses and validates the configuration document (minus the
	// discriminator) into a bound Spec. Validation failures are returned
	// verbatim to the caller.
	BindSpec(doc map[string]any) (Spec, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a format driver to the registry. It panics on a duplicate
// ID: double registration is a programmer error that must surface at
// startup, not at resolve time.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	id := d.ID()
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("driver %q registered twice", id))
	}
	registry[id] = d
}

// Drivers returns the registered discriminators in sorted order.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve reads the "driver" discriminator from a configuration document
// and delegates the remaining fields to that driver's binder.
func Resolve(doc map[string]any) (Spec, error) {
	rawID, ok := doc["driver"]
	if !ok {
		return nil, fmt.Errorf("configuration is missing the \"driver\" field")
	}
	id, ok := rawID.(string)
	if !ok {
		return nil, fmt.Errorf("\"driver\" field must be a string, got %T", rawID)
	}

	registryMu.RLock()
	d, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrDriverNotFound, id, Drivers())
	}

	return d.BindSpec(doc)
}
