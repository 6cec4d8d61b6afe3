package zarr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridkv/gridstore/pkg/array"
)

func TestChunkStorageKey(t *testing.T) {
	assert.Equal(t, "arr/0.0", chunkStorageKey("arr/", ".", []int64{0, 0}))
	assert.Equal(t, "arr/3/12/7", chunkStorageKey("arr/", "/", []int64{3, 12, 7}))
	assert.Equal(t, "5", chunkStorageKey("", ".", []int64{5}))

	indices, err := decodeChunkIndices("arr/", "/", "arr/3/12/7")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 12, 7}, indices)

	_, err = decodeChunkIndices("arr/", ".", "other/0.0")
	assert.Error(t, err)
	_, err = decodeChunkIndices("arr/", ".", "arr/0.x")
	assert.Error(t, err)
}

func TestCellOrder(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4, 6], "chunks": [2, 3], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, cellOrder(md))

	md.Order = "F"
	// Cells (0,0),(1,0),(0,1),(1,1),(0,2),(1,2) in C-order positions.
	assert.Equal(t, []int64{0, 3, 1, 4, 2, 5}, cellOrder(md))
}

func TestChunkRoundTripSimple(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4, 4], "chunks": [2, 2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`)

	comp, err := array.NewFromData("|u1", []int64{2, 2}, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	raw, err := encodeChunk(md, []*array.Array{comp})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, raw)

	decoded, err := decodeChunk(md, raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, comp.Equal(decoded[0]))
}

func TestChunkRoundTripFOrder(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4, 6], "chunks": [2, 3], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "F", "filters": null}`)

	comp, err := array.NewFromData("|u1", []int64{2, 3}, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	raw, err := encodeChunk(md, []*array.Array{comp})
	require.NoError(t, err)
	// Column-major on disk: first dimension varies fastest.
	assert.Equal(t, []byte{1, 4, 2, 5, 3, 6}, raw)

	decoded, err := decodeChunk(md, raw)
	require.NoError(t, err)
	assert.True(t, comp.Equal(decoded[0]))
}

func TestChunkRoundTripStructured(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": [["x", "<u2"], ["y", "|u1", [2]]], "compressor": null, "fill_value": null, "order": "C", "filters": null}`)

	x, err := array.NewFromData("<u2", []int64{2}, []byte{0x11, 0x00, 0x22, 0x00})
	require.NoError(t, err)
	y, err := array.NewFromData("|u1", []int64{2, 2}, []byte{0xa1, 0xa2, 0xb1, 0xb2})
	require.NoError(t, err)

	raw, err := encodeChunk(md, []*array.Array{x, y})
	require.NoError(t, err)
	// Interleaved per-cell records: x then y for cell 0, then cell 1.
	assert.Equal(t, []byte{0x11, 0x00, 0xa1, 0xa2, 0x22, 0x00, 0xb1, 0xb2}, raw)

	decoded, err := decodeChunk(md, raw)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.True(t, x.Equal(decoded[0]))
	assert.True(t, y.Equal(decoded[1]))
}

func TestChunkRoundTripCompressed(t *testing.T) {
	for _, id := range []string{"zlib", "gzip", "zstd", "lz4"} {
		t.Run(id, func(t *testing.T) {
			md := mustDecode(t, `{"zarr_format": 2, "shape": [16], "chunks": [16], "dtype": "<f4", "compressor": {"id": "`+id+`"}, "fill_value": 0, "order": "C", "filters": null}`)

			data := make([]byte, 64)
			for i := range data {
				data[i] = byte(i % 7)
			}
			comp, err := array.NewFromData("<f4", []int64{16}, data)
			require.NoError(t, err)

			raw, err := encodeChunk(md, []*array.Array{comp})
			require.NoError(t, err)

			decoded, err := decodeChunk(md, raw)
			require.NoError(t, err)
			assert.True(t, comp.Equal(decoded[0]))
		})
	}
}

func TestDecodeChunkWrongLength(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4], "chunks": [4], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`)

	_, err := decodeChunk(md, []byte{1, 2, 3})
	assert.ErrorContains(t, err, "invalid encoding")
}

func TestEncodeChunkValidatesComponents(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4], "chunks": [4], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`)

	wrongType, err := array.New("<u2", []int64{4})
	require.NoError(t, err)
	_, err = encodeChunk(md, []*array.Array{wrongType})
	assert.ErrorContains(t, err, "dtype")

	wrongShape, err := array.New("|u1", []int64{3})
	require.NoError(t, err)
	_, err = encodeChunk(md, []*array.Array{wrongShape})
	assert.ErrorContains(t, err, "shape")

	_, err = encodeChunk(md, nil)
	assert.ErrorContains(t, err, "components")
}
