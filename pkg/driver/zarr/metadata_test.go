package zarr

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
)

func mustDecode(t *testing.T, doc string) *Metadata {
	t.Helper()
	md, err := decodeMetadata([]byte(doc))
	require.NoError(t, err)
	return md
}

func TestDecodeMetadataSimple(t *testing.T) {
	md := mustDecode(t, `{
		"zarr_format": 2,
		"shape": [100, 100],
		"chunks": [10, 10],
		"dtype": "<f4",
		"compressor": {"id": "zlib", "level": 1},
		"fill_value": 1.5,
		"order": "C",
		"filters": null
	}`)

	assert.Equal(t, []int64{100, 100}, md.Shape)
	assert.Equal(t, []int64{10, 10}, md.Chunks)
	require.Len(t, md.Fields, 1)
	assert.Equal(t, array.DType("<f4"), md.Fields[0].DType)
	assert.False(t, md.Structured)
	require.NotNil(t, md.Compressor)
	assert.Equal(t, "zlib", md.Compressor.ID)
	assert.Equal(t, ".", md.DimensionSeparator)

	require.Len(t, md.FillValues, 1)
	fill := md.FillValues[0]
	require.NotNil(t, fill)
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(fill.Data)))
}

func TestDecodeMetadataStructured(t *testing.T) {
	md := mustDecode(t, `{
		"zarr_format": 2,
		"shape": [8],
		"chunks": [4],
		"dtype": [["x", "<u2"], ["y", "|u1", [2]]],
		"compressor": null,
		"fill_value": null,
		"order": "F",
		"filters": null,
		"dimension_separator": "/"
	}`)

	assert.True(t, md.Structured)
	require.Len(t, md.Fields, 2)
	assert.Equal(t, "x", md.Fields[0].Name)
	assert.Equal(t, []int64{2}, md.Fields[1].Shape)
	assert.Equal(t, int64(4), md.RecordSize())
	assert.Equal(t, "/", md.DimensionSeparator)
	assert.Nil(t, md.FillValues[0])
	assert.Nil(t, md.FillValues[1])
}

func TestDecodeMetadataRejects(t *testing.T) {
	docs := map[string]string{
		"bad version":    `{"zarr_format": 3, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`,
		"filters":        `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": [{"id": "delta"}]}`,
		"rank mismatch":  `{"zarr_format": 2, "shape": [4, 4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`,
		"zero chunk":     `{"zarr_format": 2, "shape": [4], "chunks": [0], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`,
		"bad order":      `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "K", "filters": null}`,
		"bad separator":  `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null, "dimension_separator": "-"}`,
		"big endian":     `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": ">f4", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`,
		"bad compressor": `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": {"id": "blosc"}, "fill_value": 0, "order": "C", "filters": null}`,
		"fill overflow":  `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|u1", "compressor": null, "fill_value": 300, "order": "C", "filters": null}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := decodeMetadata([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	docs := []string{
		`{"zarr_format": 2, "shape": [100], "chunks": [10], "dtype": "<i8", "compressor": null, "fill_value": -7, "order": "C", "filters": null}`,
		`{"zarr_format": 2, "shape": [4, 6], "chunks": [2, 3], "dtype": "<f8", "compressor": {"id": "zstd", "level": 3}, "fill_value": "NaN", "order": "F", "filters": null, "dimension_separator": "/"}`,
		`{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "|S4", "compressor": {"id": "lz4"}, "fill_value": "AAECAw==", "order": "C", "filters": null}`,
		`{"zarr_format": 2, "shape": [8], "chunks": [4], "dtype": [["a", "<u4"], ["b", "|i1"]], "compressor": {"id": "gzip", "level": 6}, "fill_value": "AQAAAP8=", "order": "F", "filters": null}`,
	}

	for _, doc := range docs {
		md := mustDecode(t, doc)
		raw, err := encodeMetadata(md)
		require.NoError(t, err)
		again, err := decodeMetadata(raw)
		require.NoError(t, err)

		assert.Equal(t, md.Shape, again.Shape)
		assert.Equal(t, md.Chunks, again.Chunks)
		assert.Equal(t, md.Fields, again.Fields)
		assert.Equal(t, md.Structured, again.Structured)
		assert.Equal(t, md.Order, again.Order)
		assert.Equal(t, md.DimensionSeparator, again.DimensionSeparator)
		assert.True(t, compressorEqual(md.Compressor, again.Compressor))
		require.Equal(t, len(md.FillValues), len(again.FillValues))
		for i := range md.FillValues {
			assert.True(t, fillEqual(md.FillValues[i], again.FillValues[i]))
		}
	}
}

func TestFillValueSpecials(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": "<f8", "compressor": null, "fill_value": "-Infinity", "order": "C", "filters": null}`)
	bits := binary.LittleEndian.Uint64(md.FillValues[0].Data)
	assert.True(t, math.IsInf(math.Float64frombits(bits), -1))

	raw, err := encodeMetadata(md)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "-Infinity", wire["fill_value"])
}

func TestValidateCompatibility(t *testing.T) {
	base := `{"zarr_format": 2, "shape": [4, 4], "chunks": [2, 2], "dtype": "<f4", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`
	md := mustDecode(t, base)

	grown := md.clone()
	grown.Shape = []int64{4, 100}
	assert.NoError(t, validateCompatibility(md, grown))

	rechunked := md.clone()
	rechunked.Chunks = []int64{4, 4}
	assert.ErrorIs(t, validateCompatibility(md, rechunked), chunked.ErrIncompatibleMetadata)

	reordered := md.clone()
	reordered.Order = "F"
	assert.ErrorIs(t, validateCompatibility(md, reordered), chunked.ErrIncompatibleMetadata)

	recompressed := md.clone()
	recompressed.Compressor = &CompressorConfig{ID: "zstd"}
	assert.ErrorIs(t, validateCompatibility(md, recompressed), chunked.ErrIncompatibleMetadata)
}

func TestResizedMetadata(t *testing.T) {
	md := mustDecode(t, `{"zarr_format": 2, "shape": [4, 4], "chunks": [2, 2], "dtype": "|u1", "compressor": null, "fill_value": 0, "order": "C", "filters": null}`)

	out, err := resizedMetadata(md, []int64{0, 0}, []int64{4, 8})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 8}, out.Shape)
	assert.Equal(t, []int64{4, 4}, md.Shape)

	out, err = resizedMetadata(md, []int64{0, 0}, []int64{chunked.ImplicitExtent, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, out.Shape)

	_, err = resizedMetadata(md, []int64{0, 0}, []int64{4, -1})
	assert.Error(t, err)

	assert.Panics(t, func() {
		_, _ = resizedMetadata(md, []int64{1, 0}, []int64{4, 4})
	})
}
