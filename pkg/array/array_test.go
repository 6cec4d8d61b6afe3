package array

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeValidate(t *testing.T) {
	valid := []DType{"|u1", "|i1", "|b1", "<i2", "<u4", "<i4", "<i8", "<f4", "<f8", "|S16"}
	for _, d := range valid {
		assert.NoError(t, d.Validate(), "dtype %s", d)
	}

	invalid := []DType{"", "u1", "<f3", "<b1x", "|i4", ">i4", "<x4", "|S0"}
	for _, d := range invalid {
		assert.Error(t, d.Validate(), "dtype %s", d)
	}
}

func TestDTypeSize(t *testing.T) {
	assert.Equal(t, 1, DType("|u1").Size())
	assert.Equal(t, 4, DType("<f4").Size())
	assert.Equal(t, 8, DType("<i8").Size())
	assert.Equal(t, 16, DType("|S16").Size())
}

func TestNewZeroFilled(t *testing.T) {
	a, err := New("<f4", []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(6), a.NumElements())
	assert.Len(t, a.Data, 24)
	assert.Equal(t, []int64{12, 4}, a.ByteStrides)
	assert.Equal(t, []byte{0, 0, 0, 0}, a.At(1, 2))
}

func TestNewFromDataLengthCheck(t *testing.T) {
	_, err := NewFromData("<i4", []int64{2, 2}, make([]byte, 15))
	require.Error(t, err)

	a, err := NewFromData("<i4", []int64{2, 2}, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Rank())
}

func TestBroadcastZeroStrides(t *testing.T) {
	// A scalar broadcast over [100, 100] must not grow the buffer.
	scalar, err := NewFromData("<u2", nil, []byte{0xab, 0xcd})
	require.NoError(t, err)

	b, err := scalar.Broadcast([]int64{100, 100})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, b.ByteStrides)
	assert.Len(t, b.Data, 2)
	assert.Equal(t, []byte{0xab, 0xcd}, b.At(0, 0))
	assert.Equal(t, []byte{0xab, 0xcd}, b.At(99, 42))
}

func TestBroadcastTrailingMismatch(t *testing.T) {
	a, err := New("|u1", []int64{3})
	require.NoError(t, err)

	_, err = a.Broadcast([]int64{2, 4})
	assert.Error(t, err)

	_, err = a.Broadcast(nil)
	assert.Error(t, err)
}

func TestMaterializeResolvesBroadcast(t *testing.T) {
	row, err := NewFromData("|u1", []int64{2}, []byte{1, 2})
	require.NoError(t, err)

	b, err := row.Broadcast([]int64{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 1, 2, 1, 2}, b.Materialize())
}

func TestEqualIgnoresStrides(t *testing.T) {
	packed, err := NewFromData("|u1", []int64{2, 2}, []byte{7, 7, 7, 7})
	require.NoError(t, err)

	scalar, err := NewFromData("|u1", nil, []byte{7})
	require.NoError(t, err)
	broadcast, err := scalar.Broadcast([]int64{2, 2})
	require.NoError(t, err)

	assert.True(t, packed.Equal(broadcast))

	other, err := NewFromData("|u1", []int64{2, 2}, []byte{7, 7, 7, 8})
	require.NoError(t, err)
	assert.False(t, packed.Equal(other))
}

func TestEmptyArray(t *testing.T) {
	a, err := New("<f8", []int64{0, 4})
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.NumElements())
	assert.Empty(t, a.Materialize())
}
