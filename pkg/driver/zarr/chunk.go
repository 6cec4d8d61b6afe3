package zarr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gridkv/gridstore/pkg/array"
)

// chunkStorageKey joins chunk indices with the metadata's separator under
// the array's key prefix. Distinct index tuples always produce distinct
// keys for a fixed prefix.
func chunkStorageKey(prefix, separator string, indices []int64) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.FormatInt(idx, 10)
	}
	return prefix + strings.Join(parts, separator)
}

// decodeChunkIndices reverses chunkStorageKey.
func decodeChunkIndices(prefix, separator, key string) ([]int64, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return nil, fmt.Errorf("key %q does not start with prefix %q", key, prefix)
	}
	parts := strings.Split(rest, separator)
	indices := make([]int64, len(parts))
	for i, part := range parts {
		idx, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("key %q: invalid chunk index %q", key, part)
		}
		indices[i] = idx
	}
	return indices, nil
}

// cellShape returns the full per-chunk cell shape for a field: the chunk
// extents followed by the field's own dimensions.
func cellShape(md *Metadata, field *Field) []int64 {
	shape := make([]int64, 0, len(md.Chunks)+len(field.Shape))
	shape = append(shape, md.Chunks...)
	shape = append(shape, field.Shape...)
	return shape
}

// chunkElements returns the number of cells in one chunk.
func chunkElements(md *Metadata) int64 {
	n := int64(1)
	for _, extent := range md.Chunks {
		n *= extent
	}
	return n
}

// encodeChunk serializes component arrays into the on-disk chunk layout:
// per-cell records (each field's sub-array in C order within the record),
// cells ordered per the metadata's "order", then the compressor.
func encodeChunk(md *Metadata, components []*array.Array) ([]byte, error) {
	if len(components) != len(md.Fields) {
		return nil, fmt.Errorf("got %d components, dtype has %d fields", len(components), len(md.Fields))
	}
	for i := range components {
		if err := checkComponent(md, i, components[i]); err != nil {
			return nil, err
		}
	}

	numCells := chunkElements(md)
	raw := make([]byte, 0, numCells*md.RecordSize())

	if len(md.Fields) == 1 && md.Order == "C" {
		// Fast path: a single field in C order is the materialized
		// buffer itself.
		raw = components[0].Materialize()
	} else {
		fieldBuffers := make([][]byte, len(components))
		fieldSizes := make([]int64, len(components))
		for i, comp := range components {
			fieldBuffers[i] = comp.Materialize()
			fieldSizes[i] = md.Fields[i].ByteSize()
		}
		for _, cell := range cellOrder(md) {
			for i := range fieldBuffers {
				start := cell * fieldSizes[i]
				raw = append(raw, fieldBuffers[i][start:start+fieldSizes[i]]...)
			}
		}
	}

	codec, err := newCompressor(md.Compressor)
	if err != nil {
		return nil, err
	}
	return codec.Compress(raw)
}

// decodeChunk is the inverse of encodeChunk. The decompressed payload must
// have exactly the byte count the metadata implies.
func decodeChunk(md *Metadata, data []byte) ([]*array.Array, error) {
	codec, err := newCompressor(md.Compressor)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	numCells := chunkElements(md)
	if want := numCells * md.RecordSize(); int64(len(raw)) != want {
		return nil, fmt.Errorf("invalid encoding: chunk payload is %d bytes, want %d", len(raw), want)
	}

	components := make([]*array.Array, len(md.Fields))
	if len(md.Fields) == 1 && md.Order == "C" {
		components[0], err = array.NewFromData(md.Fields[0].DType, cellShape(md, &md.Fields[0]), raw)
		return components, err
	}

	fieldBuffers := make([][]byte, len(md.Fields))
	fieldSizes := make([]int64, len(md.Fields))
	for i := range md.Fields {
		fieldSizes[i] = md.Fields[i].ByteSize()
		fieldBuffers[i] = make([]byte, numCells*fieldSizes[i])
	}

	offset := int64(0)
	for _, cell := range cellOrder(md) {
		for i := range fieldBuffers {
			start := cell * fieldSizes[i]
			copy(fieldBuffers[i][start:start+fieldSizes[i]], raw[offset:offset+fieldSizes[i]])
			offset += fieldSizes[i]
		}
	}

	for i := range md.Fields {
		components[i], err = array.NewFromData(md.Fields[i].DType, cellShape(md, &md.Fields[i]), fieldBuffers[i])
		if err != nil {
			return nil, err
		}
	}
	return components, nil
}

// cellOrder returns the C-order cell position for each on-disk record slot.
// In C order that is the identity; in F (column-major) order the first
// chunk dimension varies fastest on disk.
func cellOrder(md *Metadata) []int64 {
	numCells := chunkElements(md)
	order := make([]int64, numCells)
	if md.Order == "C" {
		for i := range order {
			order[i] = int64(i)
		}
		return order
	}

	rank := len(md.Chunks)
	// C-order strides over cell positions.
	strides := make([]int64, rank)
	stride := int64(1)
	for i := rank - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= md.Chunks[i]
	}

	indices := make([]int64, rank)
	for slot := int64(0); slot < numCells; slot++ {
		pos := int64(0)
		for d := 0; d < rank; d++ {
			pos += indices[d] * strides[d]
		}
		order[slot] = pos

		// Odometer with the FIRST dimension fastest.
		for d := 0; d < rank; d++ {
			indices[d]++
			if indices[d] < md.Chunks[d] {
				break
			}
			indices[d] = 0
		}
	}
	return order
}

func checkComponent(md *Metadata, index int, comp *array.Array) error {
	field := &md.Fields[index]
	if comp.DType != field.DType {
		return fmt.Errorf("component %d: dtype %s does not match field dtype %s", index, comp.DType, field.DType)
	}
	want := cellShape(md, field)
	if len(comp.Shape) != len(want) {
		return fmt.Errorf("component %d: rank %d does not match cell rank %d", index, len(comp.Shape), len(want))
	}
	for i := range want {
		if comp.Shape[i] != want[i] {
			return fmt.Errorf("component %d: shape %v does not match cell shape %v", index, comp.Shape, want)
		}
	}
	return nil
}
