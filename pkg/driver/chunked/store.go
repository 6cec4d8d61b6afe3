package chunked

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// Store is an open chunked-array handle. It is safe for concurrent use;
// chunk operations for distinct indices are independent.
type Store struct {
	format      Format
	kv          kvstore.Store
	dctx        *driver.Context
	storeConfig map[string]any
	metaEntry   *MetadataEntry
	data        *DataCacheEntry
	opener      Opener

	closeOnce sync.Once
	closeErr  error
}

// Driver returns the format discriminator.
func (s *Store) Driver() string {
	return s.format.ID()
}

// Metadata returns the latest metadata snapshot known to this process.
func (s *Store) Metadata() Metadata {
	if snap := s.metaEntry.Current(); snap != nil && !snap.Missing {
		return snap.Metadata
	}
	return s.data.Metadata
}

// Shape returns the declared array extents per the latest known metadata.
func (s *Store) Shape() []int64 {
	return s.format.ChunkGridBounds(s.Metadata()).Shape
}

// Grid returns the chunk grid this handle was opened against.
func (s *Store) Grid() *GridSpec {
	return s.data.Grid
}

// ComponentIndex returns the index of the selected field.
func (s *Store) ComponentIndex() int {
	return s.data.ComponentIndex
}

// BoundSpec reconstructs a resolvable spec from the live store state, such
// that resolving it reopens an equivalent store.
func (s *Store) BoundSpec() (driver.Spec, error) {
	return s.opener.BoundSpec(s.Metadata(), s.data.ComponentIndex)
}

// ChunkKey returns the storage key for the given chunk indices.
func (s *Store) ChunkKey(indices []int64) string {
	return s.format.ChunkStorageKey(s.data.Metadata, s.data.KeyPrefix, indices)
}

// ReadChunk fetches and decodes one chunk. A chunk that was never written
// yields each component's fill value broadcast to the full cell shape; no
// error is reported for it.
func (s *Store) ReadChunk(ctx context.Context, indices []int64) ([]*array.Array, error) {
	key := s.ChunkKey(indices)
	res, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if res.Missing {
		components := make([]*array.Array, len(s.data.Grid.Components))
		for i := range s.data.Grid.Components {
			components[i] = s.data.Grid.Components[i].FillValue
		}
		return components, nil
	}

	if err := s.dctx.AcquireCodec(ctx); err != nil {
		return nil, err
	}
	defer s.dctx.ReleaseCodec()

	components, err := s.format.DecodeChunk(s.data.Metadata, indices, res.Value)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %q: %w", key, err)
	}
	return components, nil
}

// WriteChunk encodes and stores one chunk. Writes are unconditional: the
// last writer of a chunk wins, which matches the consistency the backing
// store offers for data keys.
func (s *Store) WriteChunk(ctx context.Context, indices []int64, components []*array.Array) error {
	if err := s.dctx.AcquireCodec(ctx); err != nil {
		return err
	}
	raw, err := s.format.EncodeChunk(s.data.Metadata, indices, components)
	s.dctx.ReleaseCodec()
	if err != nil {
		return fmt.Errorf("encode chunk %q: %w", s.ChunkKey(indices), err)
	}

	_, err = s.kv.Put(ctx, s.ChunkKey(indices), raw, kvstore.WriteOptions{})
	return err
}

// DeleteChunk removes one chunk, reverting it to the fill value.
func (s *Store) DeleteChunk(ctx context.Context, indices []int64) error {
	return s.kv.Delete(ctx, s.ChunkKey(indices), kvstore.WriteOptions{})
}

// Resize commits new array extents through the metadata generation
// protocol. inclusiveMin must be zero (or ImplicitExtent) per dimension;
// exclusiveMax entries of ImplicitExtent leave that dimension unchanged.
//
// The commit is a conditional put keyed on the generation of the snapshot
// the new metadata was derived from. Losing the race to a concurrent
// metadata writer triggers a re-read; if the fresh metadata is still
// structurally compatible the resize is recomputed and retried, otherwise
// ErrIncompatibleMetadata propagates.
func (s *Store) Resize(ctx context.Context, inclusiveMin, exclusiveMax []int64) error {
	snap := s.metaEntry.Current()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if snap == nil || snap.Missing {
			fresh, err := s.refreshMetadata(ctx)
			if err != nil {
				return err
			}
			if fresh.Missing {
				return fmt.Errorf("%w: %q", ErrMetadataMissing, s.metaEntry.StorageKey())
			}
			snap = fresh
		}

		newMd, err := s.format.ResizedMetadata(snap.Metadata, inclusiveMin, exclusiveMax)
		if err != nil {
			return err
		}

		_, err = s.metaEntry.Write(ctx, newMd, kvstore.WriteOptions{IfGenerationMatch: snap.Generation})
		if err == nil {
			return nil
		}
		if !kvstore.IsCode(err, kvstore.ErrGenerationMismatch) {
			return err
		}

		logger.Debug("Resize of %q lost a metadata race, refreshing", s.metaEntry.StorageKey())
		fresh, err := s.refreshMetadata(ctx)
		if err != nil {
			return err
		}
		if fresh.Missing {
			return fmt.Errorf("%w: %q", ErrMetadataMissing, s.metaEntry.StorageKey())
		}
		if err := s.format.ValidateCompatibility(s.data.Metadata, fresh.Metadata); err != nil {
			return err
		}
		snap = fresh
	}
}

func (s *Store) refreshMetadata(ctx context.Context) (*MetadataSnapshot, error) {
	f := s.metaEntry.Read(ctx)
	defer f.Release()
	return f.Result(ctx)
}

// Close releases the handle's reference to the shared key-value store.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.dctx.ReleaseStore(s.storeConfig)
	})
	return s.closeErr
}
