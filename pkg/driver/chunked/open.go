package chunked

import (
	"context"
	"fmt"

	"github.com/gridkv/gridstore/internal/cachekey"
	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// Opener is the format-side open state: everything a bound spec knows that
// the framework needs to open or create the array.
type Opener interface {
	// Format returns the owning format.
	Format() Format

	// StoreConfig returns the key-value backend configuration document.
	StoreConfig() map[string]any

	// EntryKey returns the logical storage entry key (the array's key
	// prefix within the backend).
	EntryKey() string

	// CreateMetadata synthesizes full metadata for a new array from the
	// spec's partial metadata and schema constraints. Insufficient
	// constraints are a configuration error.
	CreateMetadata() (Metadata, error)

	// ComponentIndex resolves the spec's selected field against stored
	// metadata, validating requested dtype and rank. Mismatches are
	// schema errors.
	ComponentIndex(md Metadata) (int, error)

	// DataCacheKey derives the data cache key from the bound spec and
	// the metadata actually found.
	DataCacheKey(md Metadata) string

	// BoundSpec reconstructs a spec from live metadata plus the selected
	// component.
	BoundSpec(md Metadata, componentIndex int) (driver.Spec, error)
}

// Open runs the shared open flow: bind the backend store, resolve the
// metadata cache entry, decode or create metadata per mode, then build (or
// reuse) the data cache entry and hand back a Store.
func Open(ctx context.Context, dctx *driver.Context, op Opener, mode driver.OpenMode) (*Store, error) {
	format := op.Format()
	storeConfig := op.StoreConfig()

	if mode&driver.ModeOpenOrCreate == 0 {
		return nil, fmt.Errorf("open mode must include open or create")
	}
	if mode&driver.ModeDeleteExisting != 0 && mode&driver.ModeCreate == 0 {
		return nil, fmt.Errorf("delete-existing requires create mode")
	}

	kv, err := dctx.OpenStore(ctx, storeConfig)
	if err != nil {
		return nil, err
	}
	release := func() { _ = dctx.ReleaseStore(storeConfig) }

	mcache := metadataCacheFor(dctx, format, storeConfig, kv)
	dcache := dataCacheFor(dctx)
	entry := mcache.Entry(op.EntryKey())

	if mode&driver.ModeDeleteExisting != 0 {
		logger.Info("Deleting existing contents under %q", op.EntryKey())
		if err := kv.DeletePrefix(ctx, op.EntryKey()); err != nil {
			release()
			return nil, err
		}
	}

	snap, err := resolveMetadata(ctx, entry, op, mode)
	if err != nil {
		release()
		return nil, err
	}
	md := snap.Metadata

	componentIndex, err := op.ComponentIndex(md)
	if err != nil {
		release()
		return nil, err
	}

	dataKey := op.DataCacheKey(md)
	dataEntry, err := resolveDataEntry(format, dcache, dataKey, op.EntryKey(), md, componentIndex)
	if err != nil {
		release()
		return nil, err
	}

	return &Store{
		format:      format,
		kv:          kv,
		dctx:        dctx,
		storeConfig: storeConfig,
		metaEntry:   entry,
		data:        dataEntry,
		opener:      op,
	}, nil
}

// resolveMetadata reads existing metadata and reconciles it with the open
// mode, creating new metadata when allowed and required.
func resolveMetadata(ctx context.Context, entry *MetadataEntry, op Opener, mode driver.OpenMode) (*MetadataSnapshot, error) {
	f := entry.Read(ctx)
	defer f.Release()
	snap, err := f.Result(ctx)
	if err != nil {
		return nil, err
	}

	if !snap.Missing {
		if mode&driver.ModeOpen == 0 {
			// Create-only requested but the array already exists.
			return nil, kvstore.NewError(kvstore.ErrAlreadyExists,
				"metadata already exists", entry.StorageKey())
		}
		return snap, nil
	}

	if mode&driver.ModeCreate == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMetadataMissing, entry.StorageKey())
	}

	md, err := op.CreateMetadata()
	if err != nil {
		return nil, err
	}
	created, err := entry.Write(ctx, md, kvstore.WriteOptions{IfNotExists: true})
	if err == nil {
		logger.Info("Created metadata at %q", entry.StorageKey())
		return created, nil
	}
	if !kvstore.IsCode(err, kvstore.ErrAlreadyExists) || mode&driver.ModeOpen == 0 {
		return nil, err
	}

	// Lost a creation race in open-or-create mode; adopt the winner's
	// metadata.
	f2 := entry.Read(ctx)
	defer f2.Release()
	snap, err = f2.Result(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Missing {
		return nil, fmt.Errorf("%w: %q vanished after creation race", ErrMetadataMissing, entry.StorageKey())
	}
	return snap, nil
}

// resolveDataEntry returns the shared data cache entry for dataKey,
// rebuilding it when the stored snapshot has structurally diverged from the
// metadata just observed.
func resolveDataEntry(format Format, dcache *DataCache, dataKey, keyPrefix string, md Metadata, componentIndex int) (*DataCacheEntry, error) {
	build := func() (*DataCacheEntry, error) {
		grid, err := format.ChunkGridSpecification(md)
		if err != nil {
			return nil, err
		}
		return &DataCacheEntry{
			KeyPrefix:      keyPrefix,
			Metadata:       md,
			Grid:           grid,
			ComponentIndex: componentIndex,
		}, nil
	}

	entry, err := dcache.GetOrCreate(dataKey, build)
	if err != nil {
		return nil, err
	}

	if err := format.ValidateCompatibility(entry.Metadata, md); err != nil {
		// Structural change since the entry was built; recreate from the
		// fresh snapshot.
		dcache.Invalidate(dataKey)
		return dcache.GetOrCreate(dataKey, build)
	}
	return entry, nil
}

func metadataCacheFor(dctx *driver.Context, format Format, storeConfig map[string]any, kv kvstore.Store) *MetadataCache {
	key := cachekey.Encode("chunked/metadata-cache", format.ID(), kvstore.CacheKey(storeConfig))
	cache := dctx.Resource(key, func() any {
		return NewMetadataCache(format, kv)
	}).(*MetadataCache)
	cache.Rebind(kv)
	return cache
}

func dataCacheFor(dctx *driver.Context) *DataCache {
	return dctx.Resource("chunked/data-cache", func() any {
		return NewDataCache()
	}).(*DataCache)
}
