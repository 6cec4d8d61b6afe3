package array

import (
	"bytes"
	"fmt"
)

// Array is an N-dimensional view over a byte buffer.
//
// ByteStrides may contain zeros, which is how broadcast dimensions are
// represented without copying: every index along a zero-stride dimension
// resolves to the same bytes. Arrays are treated as immutable once handed
// to another component; writers build a fresh buffer instead of mutating.
type Array struct {
	DType       DType
	Shape       []int64
	ByteStrides []int64
	Data        []byte
}

// New returns a zero-filled, contiguous C-order array.
func New(dtype DType, shape []int64) (*Array, error) {
	if err := dtype.Validate(); err != nil {
		return nil, err
	}
	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	return &Array{
		DType:       dtype,
		Shape:       append([]int64(nil), shape...),
		ByteStrides: ContiguousStrides(int64(dtype.Size()), shape),
		Data:        make([]byte, n*int64(dtype.Size())),
	}, nil
}

// NewFromData wraps an existing C-order buffer. The buffer length must
// exactly match the shape.
func NewFromData(dtype DType, shape []int64, data []byte) (*Array, error) {
	if err := dtype.Validate(); err != nil {
		return nil, err
	}
	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	if want := n * int64(dtype.Size()); int64(len(data)) != want {
		return nil, fmt.Errorf("data length %d does not match shape %v of dtype %s (want %d)",
			len(data), shape, dtype, want)
	}
	return &Array{
		DType:       dtype,
		Shape:       append([]int64(nil), shape...),
		ByteStrides: ContiguousStrides(int64(dtype.Size()), shape),
		Data:        data,
	}, nil
}

// ContiguousStrides returns C-order byte strides for the given shape.
func ContiguousStrides(elemSize int64, shape []int64) []int64 {
	strides := make([]int64, len(shape))
	stride := elemSize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func elementCount(shape []int64) (int64, error) {
	n := int64(1)
	for _, extent := range shape {
		if extent < 0 {
			return 0, fmt.Errorf("negative extent in shape %v", shape)
		}
		n *= extent
	}
	return n, nil
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// NumElements returns the logical element count (product of extents).
func (a *Array) NumElements() int64 {
	n := int64(1)
	for _, extent := range a.Shape {
		n *= extent
	}
	return n
}

// Broadcast returns a view of a with the given shape, which must have
// rank >= a's rank and trailing extents equal to a's own. The added leading
// dimensions get zero strides, so no data is copied regardless of how large
// the target shape is.
func (a *Array) Broadcast(shape []int64) (*Array, error) {
	extra := len(shape) - len(a.Shape)
	if extra < 0 {
		return nil, fmt.Errorf("cannot broadcast rank %d array to lower rank %d", len(a.Shape), len(shape))
	}
	for i, extent := range a.Shape {
		if shape[extra+i] != extent {
			return nil, fmt.Errorf("cannot broadcast shape %v to %v: trailing extents differ", a.Shape, shape)
		}
	}

	strides := make([]int64, len(shape))
	copy(strides[extra:], a.ByteStrides)
	return &Array{
		DType:       a.DType,
		Shape:       append([]int64(nil), shape...),
		ByteStrides: strides,
		Data:        a.Data,
	}, nil
}

// At returns the bytes of the element at the given indices. Indices are not
// bounds-checked against broadcast dimensions beyond what the strides imply.
func (a *Array) At(indices ...int64) []byte {
	if len(indices) != len(a.Shape) {
		panic(fmt.Sprintf("index rank %d does not match array rank %d", len(indices), len(a.Shape)))
	}
	offset := int64(0)
	for i, idx := range indices {
		if idx < 0 || idx >= a.Shape[i] {
			panic(fmt.Sprintf("index %d out of range for extent %d", idx, a.Shape[i]))
		}
		offset += idx * a.ByteStrides[i]
	}
	size := int64(a.DType.Size())
	return a.Data[offset : offset+size]
}

// Materialize returns a contiguous C-order copy of the array's elements,
// resolving any broadcast (zero-stride) dimensions.
func (a *Array) Materialize() []byte {
	elemSize := int64(a.DType.Size())
	out := make([]byte, a.NumElements()*elemSize)
	if len(out) == 0 {
		return out
	}

	indices := make([]int64, len(a.Shape))
	pos := int64(0)
	for {
		offset := int64(0)
		for i, idx := range indices {
			offset += idx * a.ByteStrides[i]
		}
		copy(out[pos:pos+elemSize], a.Data[offset:offset+elemSize])
		pos += elemSize

		// Odometer increment over the index tuple.
		dim := len(indices) - 1
		for dim >= 0 {
			indices[dim]++
			if indices[dim] < a.Shape[dim] {
				break
			}
			indices[dim] = 0
			dim--
		}
		if dim < 0 {
			return out
		}
	}
}

// Equal reports whether two arrays have the same dtype, shape and
// element-wise contents. Strides and broadcast structure do not matter.
func (a *Array) Equal(b *Array) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return bytes.Equal(a.Materialize(), b.Materialize())
}
