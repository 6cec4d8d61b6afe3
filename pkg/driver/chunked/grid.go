package chunked

import (
	"fmt"
	"math"

	"github.com/gridkv/gridstore/pkg/array"
)

// ImplicitExtent marks a dimension whose extent a resize request leaves
// unchanged.
const ImplicitExtent = math.MinInt64

// GridBounds is the bounding box of a chunked array. The origin is always
// zero and lower bounds are never implicit (arrays are chunked from index
// 0); upper bounds are always implicit, since every format here supports
// growth in the positive direction.
type GridBounds struct {
	Origin        []int64
	Shape         []int64
	ImplicitLower []bool
	ImplicitUpper []bool
}

// NewGridBounds builds bounds for the given declared extents.
func NewGridBounds(shape []int64) GridBounds {
	rank := len(shape)
	bounds := GridBounds{
		Origin:        make([]int64, rank),
		Shape:         append([]int64(nil), shape...),
		ImplicitLower: make([]bool, rank),
		ImplicitUpper: make([]bool, rank),
	}
	for i := range bounds.ImplicitUpper {
		bounds.ImplicitUpper[i] = true
	}
	return bounds
}

// Rank returns the number of dimensions.
func (b GridBounds) Rank() int {
	return len(b.Shape)
}

// Component is one field of the per-cell record in a chunk grid.
type Component struct {
	// Name is the field name; empty for single-field formats.
	Name string

	// CellShape is the full per-chunk cell shape: the chunked grid
	// extents followed by the field's own trailing dimensions.
	CellShape []int64

	// ChunkedToCellDimensions maps each chunked grid dimension to its
	// position in CellShape. Always the identity prefix here, kept
	// explicit because chunk index computations consume it.
	ChunkedToCellDimensions []int64

	// FillValue is the declared fill value broadcast to the full cell
	// shape with zero strides over the chunked dimensions; reading a
	// missing chunk returns it directly.
	FillValue *array.Array

	// fill is the declared (pre-broadcast) fill value.
	fill *array.Array
}

// NewComponent builds a component from the chunked grid extents, the
// field's trailing dimensions and its declared fill value. A nil fill
// stands for "unset" and becomes a rank-0 zero value of dtype.
//
// The fill value's own dimensions must exactly match the trailing cell
// extents; a mismatch means the metadata is internally inconsistent, which
// is a construction-time panic, not a runtime error.
func NewComponent(name string, dtype array.DType, chunkedShape, fieldShape []int64, fill *array.Array) Component {
	if fill == nil {
		zero, err := array.New(dtype, nil)
		if err != nil {
			panic(fmt.Sprintf("component %q: invalid dtype %s: %v", name, dtype, err))
		}
		fill = zero
	}

	cellShape := make([]int64, 0, len(chunkedShape)+len(fieldShape))
	cellShape = append(cellShape, chunkedShape...)
	cellShape = append(cellShape, fieldShape...)

	broadcast, err := fill.Broadcast(cellShape)
	if err != nil {
		panic(fmt.Sprintf("component %q: fill value shape %v inconsistent with cell shape %v: %v",
			name, fill.Shape, cellShape, err))
	}

	chunkedDims := make([]int64, len(chunkedShape))
	for i := range chunkedDims {
		chunkedDims[i] = int64(i)
	}

	return Component{
		Name:                    name,
		CellShape:               cellShape,
		ChunkedToCellDimensions: chunkedDims,
		FillValue:               broadcast,
		fill:                    fill,
	}
}

// GetFillValue broadcasts the component's declared fill value to an
// arbitrary output shape. It fails when the output rank is smaller than the
// fill value's own rank: a fill value cannot have more intrinsic dimensions
// than the space it is projected into.
func (c *Component) GetFillValue(outputShape []int64) (*array.Array, error) {
	out, err := c.fill.Broadcast(outputShape)
	if err != nil {
		return nil, fmt.Errorf("fill value for component %q: %w", c.Name, err)
	}
	return out, nil
}

// GridSpec describes how logical chunks map onto storage cells.
type GridSpec struct {
	// ChunkShape is the extent of one chunk along each chunked dimension.
	ChunkShape []int64

	// Components holds one entry per field, in field order.
	Components []Component
}

// Rank returns the number of chunked dimensions.
func (g *GridSpec) Rank() int {
	return len(g.ChunkShape)
}

// ChunkIndicesForCell returns the chunk indices covering the given cell
// position.
func (g *GridSpec) ChunkIndicesForCell(cell []int64) []int64 {
	indices := make([]int64, len(g.ChunkShape))
	for i, extent := range g.ChunkShape {
		indices[i] = cell[i] / extent
	}
	return indices
}

// GridShape returns how many chunks the given array shape spans along each
// dimension (ceil division).
func (g *GridSpec) GridShape(arrayShape []int64) []int64 {
	counts := make([]int64, len(g.ChunkShape))
	for i, extent := range g.ChunkShape {
		counts[i] = (arrayShape[i] + extent - 1) / extent
	}
	return counts
}
