package driver

import (
	"context"

	"github.com/gridkv/gridstore/pkg/array"
)

// OpenMode selects how Spec.Open treats existing metadata.
type OpenMode int

const (
	// ModeOpen opens an existing array; missing metadata is an error.
	ModeOpen OpenMode = 1 << iota

	// ModeCreate creates a new array; existing metadata is an error.
	ModeCreate

	// ModeDeleteExisting wipes all keys under the path before creating.
	// Only meaningful together with ModeCreate.
	ModeDeleteExisting
)

// ModeOpenOrCreate opens the array if present and creates it otherwise.
const ModeOpenOrCreate = ModeOpen | ModeCreate

// Schema carries caller-side constraints checked (and, on create, used)
// against stored metadata. Zero values mean "unconstrained".
type Schema struct {
	// Rank constrains the array rank. Zero or negative means unset;
	// rank-0 arrays are not supported by any format here.
	Rank int

	// DType constrains the element type of the selected field.
	DType array.DType

	// ChunkShape constrains the per-chunk cell extents.
	ChunkShape []int64

	// FillValue is a format-interpreted fill value constraint.
	FillValue any
}

// SpecOptions are user-requested adjustments applied after binding.
type SpecOptions struct {
	// MinimalSpec discards recorded partial metadata so that only
	// schema-derived constraints remain. Used to produce a portable
	// configuration from an opened store.
	MinimalSpec bool

	Schema Schema
}

// Spec is a bound, format-specific description of one array store.
// Implementations are immutable after ApplyOptions; two Specs with equal
// cache keys open the same logical store.
type Spec interface {
	// Driver returns the format discriminator.
	Driver() string

	// CacheKey returns the deterministic key identifying the data cache
	// entry this spec resolves to.
	CacheKey() string

	// ToConfig re-encodes the spec as a configuration document such that
	// Resolve(ToConfig()) reopens an equivalent store.
	ToConfig() (map[string]any, error)

	// ApplyOptions folds user overrides into the spec.
	ApplyOptions(opts SpecOptions) error

	// Open binds process resources and opens the store.
	Open(ctx context.Context, dctx *Context, mode OpenMode) (Store, error)
}

// Store is the minimal surface the registry knows about an open store.
// Formats return richer concrete types; callers that need chunk access
// assert to them.
type Store interface {
	// Driver returns the discriminator of the owning format.
	Driver() string

	// BoundSpec reconstructs a Spec from the live store state.
	BoundSpec() (Spec, error)

	// Close releases the store handle. Shared process resources (the
	// deduplicated KV stores held by the Context) stay open.
	Close() error
}
