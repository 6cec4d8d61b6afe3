package zarr

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/gridkv/gridstore/pkg/array"
)

// parseFillValue decodes the "fill_value" metadata entry into per-field
// fill arrays (nil entries mean unset, i.e. JSON null).
//
// Simple dtypes accept a scalar: number, bool, the IEEE names "NaN",
// "Infinity" and "-Infinity" for floats, or a base64 string for "S" types.
// Structured dtypes accept a base64 string encoding one full record, split
// across the fields in order.
func parseFillValue(raw json.RawMessage, fields []Field, structured bool) ([]*array.Array, error) {
	fills := make([]*array.Array, len(fields))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fills, nil
	}

	if !structured {
		fill, err := parseScalarFill(raw, &fields[0])
		if err != nil {
			return nil, err
		}
		fills[0] = fill
		return fills, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("fill_value for a structured dtype must be null or a base64 string")
	}
	record, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("fill_value: invalid base64: %w", err)
	}

	total := int64(0)
	for i := range fields {
		total += fields[i].ByteSize()
	}
	if int64(len(record)) != total {
		return nil, fmt.Errorf("fill_value record is %d bytes, dtype requires %d", len(record), total)
	}

	offset := int64(0)
	for i := range fields {
		size := fields[i].ByteSize()
		fill, err := array.NewFromData(fields[i].DType, fields[i].Shape, record[offset:offset+size])
		if err != nil {
			return nil, err
		}
		fills[i] = fill
		offset += size
	}
	return fills, nil
}

func parseScalarFill(raw json.RawMessage, field *Field) (*array.Array, error) {
	dtype := field.DType
	size := dtype.Size()
	data := make([]byte, size)

	switch dtype.Kind() {
	case 'b':
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("fill_value for %s must be a boolean", dtype)
		}
		if v {
			data[0] = 1
		}

	case 'i', 'u':
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return nil, fmt.Errorf("fill_value for %s must be a number", dtype)
		}
		if err := putInteger(data, dtype, num); err != nil {
			return nil, err
		}

	case 'f':
		v, err := parseFloatFill(raw)
		if err != nil {
			return nil, fmt.Errorf("fill_value for %s: %w", dtype, err)
		}
		if size == 4 {
			binary.LittleEndian.PutUint32(data, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(data, math.Float64bits(v))
		}

	case 'S':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("fill_value for %s must be a base64 string", dtype)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("fill_value: invalid base64: %w", err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("fill_value is %d bytes, dtype %s requires %d", len(decoded), dtype, size)
		}
		copy(data, decoded)

	default:
		return nil, fmt.Errorf("fill_value not supported for dtype %s", dtype)
	}

	return array.NewFromData(dtype, nil, data)
}

func parseFloatFill(raw json.RawMessage) (float64, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unknown float name %q", name)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("must be a number, \"NaN\", \"Infinity\" or \"-Infinity\"")
	}
	return v, nil
}

func putInteger(data []byte, dtype array.DType, num json.Number) error {
	size := dtype.Size()
	if dtype.Kind() == 'u' {
		v, err := strconv.ParseUint(num.String(), 10, size*8)
		if err != nil {
			return fmt.Errorf("fill_value %s out of range for %s", num, dtype)
		}
		putUint(data, size, v)
		return nil
	}
	v, err := strconv.ParseInt(num.String(), 10, size*8)
	if err != nil {
		return fmt.Errorf("fill_value %s out of range for %s", num, dtype)
	}
	putUint(data, size, uint64(v))
	return nil
}

func putUint(data []byte, size int, v uint64) {
	for i := 0; i < size; i++ {
		data[i] = byte(v >> (8 * i))
	}
}

func getUint(data []byte) uint64 {
	var v uint64
	for i := len(data) - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// encodeFillValue is the inverse of parseFillValue.
func encodeFillValue(fills []*array.Array, fields []Field, structured bool) (json.RawMessage, error) {
	if !structured {
		if fills[0] == nil {
			return json.RawMessage("null"), nil
		}
		return encodeScalarFill(fills[0], &fields[0])
	}

	// Structured fills are all-or-nothing: a record cannot be partially
	// unset.
	anySet := false
	for _, fill := range fills {
		if fill != nil {
			anySet = true
			break
		}
	}
	if !anySet {
		return json.RawMessage("null"), nil
	}

	var record bytes.Buffer
	for i, fill := range fills {
		if fill == nil {
			return nil, fmt.Errorf("fill_value must be set for all fields or none (field %q unset)", fields[i].Name)
		}
		record.Write(fill.Materialize())
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(record.Bytes()))
}

func encodeScalarFill(fill *array.Array, field *Field) (json.RawMessage, error) {
	dtype := field.DType
	data := fill.Materialize()

	switch dtype.Kind() {
	case 'b':
		return json.Marshal(data[0] != 0)

	case 'u':
		return json.Marshal(getUint(data))

	case 'i':
		v := getUint(data)
		// Sign-extend from the dtype's width.
		shift := 64 - uint(dtype.Size())*8
		return json.Marshal(int64(v<<shift) >> shift)

	case 'f':
		var v float64
		if dtype.Size() == 4 {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
		} else {
			v = math.Float64frombits(binary.LittleEndian.Uint64(data))
		}
		switch {
		case math.IsNaN(v):
			return json.Marshal("NaN")
		case math.IsInf(v, 1):
			return json.Marshal("Infinity")
		case math.IsInf(v, -1):
			return json.Marshal("-Infinity")
		}
		return json.Marshal(v)

	case 'S':
		return json.Marshal(base64.StdEncoding.EncodeToString(data))
	}
	return nil, fmt.Errorf("fill_value not supported for dtype %s", dtype)
}
