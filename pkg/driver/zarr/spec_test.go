package zarr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
	_ "github.com/gridkv/gridstore/pkg/kvstore/memory"
)

func testSpecDoc() map[string]any {
	return map[string]any{
		"driver": "zarr",
		"store":  map[string]any{"backend": "memory"},
		"path":   "arr",
		"metadata": map[string]any{
			"shape":  []int64{4, 4},
			"chunks": []int64{2, 2},
			"dtype":  "<f4",
		},
	}
}

func newTestContext(t *testing.T) *driver.Context {
	t.Helper()
	dctx := driver.NewContext(driver.ContextOptions{})
	t.Cleanup(func() { _ = dctx.Close() })
	return dctx
}

func openChunked(t *testing.T, dctx *driver.Context, doc map[string]any, mode driver.OpenMode) *chunked.Store {
	t.Helper()
	spec, err := driver.Resolve(doc)
	require.NoError(t, err)
	store, err := spec.Open(context.Background(), dctx, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store.(*chunked.Store)
}

func TestBindSpec(t *testing.T) {
	spec, err := driver.Resolve(testSpecDoc())
	require.NoError(t, err)
	assert.Equal(t, "zarr", spec.Driver())

	doc, err := spec.ToConfig()
	require.NoError(t, err)
	assert.Equal(t, "zarr", doc["driver"])
	assert.Equal(t, "arr/", doc["path"])

	again, err := driver.Resolve(doc)
	require.NoError(t, err)
	assert.Equal(t, spec.CacheKey(), again.CacheKey())
}

func TestBindSpecRequiresStore(t *testing.T) {
	_, err := driver.Resolve(map[string]any{"driver": "zarr"})
	assert.Error(t, err)
}

func TestBindSpecKeyEncoding(t *testing.T) {
	doc := testSpecDoc()
	doc["key_encoding"] = "/"
	spec, err := driver.Resolve(doc)
	require.NoError(t, err)

	out, err := spec.ToConfig()
	require.NoError(t, err)
	metadata := out["metadata"].(map[string]any)
	assert.Equal(t, "/", metadata["dimension_separator"])

	doc["key_encoding"] = "-"
	_, err = driver.Resolve(doc)
	assert.Error(t, err)

	doc["key_encoding"] = "/"
	doc["metadata"].(map[string]any)["dimension_separator"] = "."
	_, err = driver.Resolve(doc)
	assert.ErrorContains(t, err, "conflicts")
}

func TestBindSpecSchemaConflicts(t *testing.T) {
	doc := testSpecDoc()
	doc["schema"] = map[string]any{"dtype": "<i4"}
	_, err := driver.Resolve(doc)
	assert.ErrorContains(t, err, "conflicts")

	doc = testSpecDoc()
	doc["schema"] = map[string]any{"rank": 3}
	_, err = driver.Resolve(doc)
	assert.ErrorContains(t, err, "conflicts")
}

func TestCreateAndReopen(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)

	store := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)
	assert.Equal(t, []int64{4, 4}, store.Shape())

	md := store.Metadata().(*Metadata)
	assert.Equal(t, []int64{2, 2}, md.Chunks)
	assert.Equal(t, "C", md.Order)
	assert.Equal(t, ".", md.DimensionSeparator)

	// A second create must observe the existing array.
	spec, err := driver.Resolve(testSpecDoc())
	require.NoError(t, err)
	_, err = spec.Open(ctx, dctx, driver.ModeCreate)
	assert.Error(t, err)

	// Plain open and open-or-create both succeed and share the data entry.
	reopened := openChunked(t, dctx, testSpecDoc(), driver.ModeOpen)
	assert.Equal(t, []int64{4, 4}, reopened.Shape())

	b1, err := store.BoundSpec()
	require.NoError(t, err)
	b2, err := reopened.BoundSpec()
	require.NoError(t, err)
	assert.Equal(t, b1.CacheKey(), b2.CacheKey())
}

func TestOpenMissing(t *testing.T) {
	dctx := newTestContext(t)
	spec, err := driver.Resolve(testSpecDoc())
	require.NoError(t, err)
	_, err = spec.Open(context.Background(), dctx, driver.ModeOpen)
	assert.ErrorIs(t, err, chunked.ErrMetadataMissing)
}

func TestOpenRejectsConflictingDType(t *testing.T) {
	dctx := newTestContext(t)
	openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)

	doc := testSpecDoc()
	doc["metadata"].(map[string]any)["dtype"] = "<i4"
	spec, err := driver.Resolve(doc)
	require.NoError(t, err)
	_, err = spec.Open(context.Background(), dctx, driver.ModeOpen)
	assert.ErrorContains(t, err, "schema mismatch")
}

func TestCreateRequiresShapeChunksDType(t *testing.T) {
	dctx := newTestContext(t)
	ctx := context.Background()

	for _, drop := range []string{"shape", "chunks", "dtype"} {
		doc := testSpecDoc()
		delete(doc["metadata"].(map[string]any), drop)
		spec, err := driver.Resolve(doc)
		require.NoError(t, err)
		_, err = spec.Open(ctx, dctx, driver.ModeCreate)
		assert.Error(t, err, drop)
	}

	// Schema constraints can stand in for missing metadata.
	doc := testSpecDoc()
	delete(doc["metadata"].(map[string]any), "chunks")
	delete(doc["metadata"].(map[string]any), "dtype")
	doc["schema"] = map[string]any{"dtype": "<f4", "chunk_shape": []int64{2, 2}}
	spec, err := driver.Resolve(doc)
	require.NoError(t, err)
	store, err := spec.Open(ctx, dctx, driver.ModeCreate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	md := store.(*chunked.Store).Metadata().(*Metadata)
	assert.Equal(t, []int64{2, 2}, md.Chunks)
	assert.Equal(t, array.DType("<f4"), md.Fields[0].DType)
}

func TestMissingFillReadsZeros(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)
	store := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)

	components, err := store.ReadChunk(ctx, []int64{0, 0})
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.Equal(t, []int64{2, 2}, components[0].Shape)
	for _, b := range components[0].Materialize() {
		assert.Zero(t, b)
	}
}

func TestWriteReadChunk(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)

	doc := testSpecDoc()
	doc["metadata"].(map[string]any)["dtype"] = "|u1"
	doc["metadata"].(map[string]any)["compressor"] = map[string]any{"id": "zstd"}
	store := openChunked(t, dctx, doc, driver.ModeCreate)

	comp, err := array.NewFromData("|u1", []int64{2, 2}, []byte{9, 8, 7, 6})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, []int64{1, 1}, []*array.Array{comp}))

	got, err := store.ReadChunk(ctx, []int64{1, 1})
	require.NoError(t, err)
	assert.True(t, comp.Equal(got[0]))

	require.NoError(t, store.DeleteChunk(ctx, []int64{1, 1}))
	got, err = store.ReadChunk(ctx, []int64{1, 1})
	require.NoError(t, err)
	for _, b := range got[0].Materialize() {
		assert.Zero(t, b)
	}
}

func TestResizePropagates(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)
	store := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)

	require.NoError(t, store.Resize(ctx, []int64{0, 0}, []int64{4, 8}))
	assert.Equal(t, []int64{4, 8}, store.Shape())

	// Reopening without a shape constraint sees the grown extents and
	// reuses the data cache entry: only extents changed.
	doc := testSpecDoc()
	delete(doc["metadata"].(map[string]any), "shape")
	reopened := openChunked(t, dctx, doc, driver.ModeOpen)
	assert.Equal(t, []int64{4, 8}, reopened.Shape())

	// A spec still constraining the old shape no longer matches.
	spec, err := driver.Resolve(testSpecDoc())
	require.NoError(t, err)
	_, err = spec.Open(ctx, dctx, driver.ModeOpen)
	assert.ErrorContains(t, err, "schema mismatch")
}

func TestBoundSpecRoundTrip(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)
	store := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)

	bound, err := store.BoundSpec()
	require.NoError(t, err)

	doc, err := bound.ToConfig()
	require.NoError(t, err)
	again, err := driver.Resolve(doc)
	require.NoError(t, err)
	assert.Equal(t, bound.CacheKey(), again.CacheKey())

	reopened, err := again.Open(ctx, dctx, driver.ModeOpen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	assert.Equal(t, []int64{4, 4}, reopened.(*chunked.Store).Shape())
}

func TestMinimalSpecDropsMetadata(t *testing.T) {
	spec, err := driver.Resolve(testSpecDoc())
	require.NoError(t, err)
	require.NoError(t, spec.ApplyOptions(driver.SpecOptions{MinimalSpec: true}))

	doc, err := spec.ToConfig()
	require.NoError(t, err)
	assert.NotContains(t, doc, "metadata")

	// Schema constraints derived during binding survive.
	schema := doc["schema"].(map[string]any)
	assert.Equal(t, "<f4", schema["dtype"])
}

func TestStructuredFieldSelection(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)

	doc := testSpecDoc()
	doc["metadata"].(map[string]any)["dtype"] = []any{
		[]any{"x", "<u2"},
		[]any{"y", "|u1"},
	}
	doc["field"] = "y"
	store := openChunked(t, dctx, doc, driver.ModeCreate)
	assert.Equal(t, 1, store.ComponentIndex())

	// Without a field the selection is ambiguous.
	ambiguous := testSpecDoc()
	ambiguous["metadata"].(map[string]any)["dtype"] = doc["metadata"].(map[string]any)["dtype"]
	spec, err := driver.Resolve(ambiguous)
	require.NoError(t, err)
	_, err = spec.Open(ctx, dctx, driver.ModeOpen)
	assert.ErrorContains(t, err, "field")

	// An unknown field is an error too.
	unknown := testSpecDoc()
	unknown["metadata"].(map[string]any)["dtype"] = doc["metadata"].(map[string]any)["dtype"]
	unknown["field"] = "z"
	spec, err = driver.Resolve(unknown)
	require.NoError(t, err)
	_, err = spec.Open(ctx, dctx, driver.ModeOpen)
	assert.ErrorContains(t, err, "not found")
}

func TestDeleteExistingWipesPath(t *testing.T) {
	ctx := context.Background()
	dctx := newTestContext(t)

	store := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate)
	comp, err := array.New("<f4", []int64{2, 2})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, []int64{0, 0}, []*array.Array{comp}))

	fresh := openChunked(t, dctx, testSpecDoc(), driver.ModeCreate|driver.ModeDeleteExisting)
	assert.Equal(t, []int64{4, 4}, fresh.Shape())
}

func TestDimensionSeparatorInChunkKeys(t *testing.T) {
	dctx := newTestContext(t)

	doc := testSpecDoc()
	doc["metadata"].(map[string]any)["dimension_separator"] = "/"
	store := openChunked(t, dctx, doc, driver.ModeCreate)
	assert.Equal(t, "arr/1/2", store.ChunkKey([]int64{1, 2}))

	defaulted := testSpecDoc()
	defaulted["path"] = "other"
	store2 := openChunked(t, dctx, defaulted, driver.ModeCreate)
	assert.Equal(t, "other/1.2", store2.ChunkKey([]int64{1, 2}))
}
