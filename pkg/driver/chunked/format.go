// Package chunked is the kvstore-backed chunked-array driver framework. It
// owns everything a storage format does not: the metadata cache with its
// generation protocol, the data cache holding derived chunk grids, the open
// flow, and per-chunk read/write/resize against a key-value backend.
//
// A format (see package zarr) plugs in through the Format interface: it
// decides how metadata and chunks are encoded and how chunk indices map to
// storage keys, nothing more.
package chunked

import (
	"errors"

	"github.com/gridkv/gridstore/pkg/array"
)

// Metadata is an opaque, format-owned descriptor value. The framework never
// inspects it; it only passes it back to the owning Format. Contract: a
// Metadata value is immutable once it has been handed to a cache entry —
// updates produce a new value, holders of the old one are unaffected.
type Metadata = any

// ErrIncompatibleMetadata reports that metadata observed on refresh differs
// from a cache entry's snapshot in a way that affects chunk addressing
// (rank, chunk shape or field layout). Extent-only differences are
// compatible.
var ErrIncompatibleMetadata = errors.New("incompatible metadata change")

// ErrMetadataMissing reports that no metadata exists at the storage entry.
var ErrMetadataMissing = errors.New("metadata not found")

// Format is the contract a chunked storage format implements.
type Format interface {
	// ID returns the format discriminator.
	ID() string

	// MetadataStorageKey derives the physical key of the metadata blob
	// from the logical entry key (typically a fixed suffix).
	MetadataStorageKey(entryKey string) string

	// DecodeMetadata parses a raw metadata blob. entryKey is used only to
	// tag decode errors with their origin.
	DecodeMetadata(entryKey string, raw []byte) (Metadata, error)

	// EncodeMetadata serializes metadata losslessly:
	// DecodeMetadata(EncodeMetadata(m)) must equal m.
	EncodeMetadata(md Metadata) ([]byte, error)

	// ValidateCompatibility returns ErrIncompatibleMetadata (wrapped with
	// detail) when old and new disagree on rank, chunk shape or field
	// layout. Differing shape extents alone are compatible.
	ValidateCompatibility(old, new Metadata) error

	// ChunkGridBounds returns the array bounds declared by metadata.
	ChunkGridBounds(md Metadata) GridBounds

	// ResizedMetadata returns new metadata with extents replaced per
	// exclusiveMax; an ImplicitExtent entry leaves that dimension
	// unchanged. inclusiveMin must be zero or ImplicitExtent for every
	// dimension; anything else panics (caller logic error).
	ResizedMetadata(md Metadata, inclusiveMin, exclusiveMax []int64) (Metadata, error)

	// ChunkGridSpecification derives the chunk grid from metadata.
	ChunkGridSpecification(md Metadata) (*GridSpec, error)

	// EncodeChunk serializes one chunk's component arrays.
	EncodeChunk(md Metadata, indices []int64, components []*array.Array) ([]byte, error)

	// DecodeChunk parses one chunk; it must validate the exact byte count
	// against metadata.
	DecodeChunk(md Metadata, indices []int64, raw []byte) ([]*array.Array, error)

	// ChunkStorageKey derives the storage key for a chunk; metadata
	// supplies format state such as the index separator. It must be
	// injective over index tuples for a fixed prefix.
	ChunkStorageKey(md Metadata, prefix string, indices []int64) string
}
