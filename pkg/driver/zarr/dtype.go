package zarr

import (
	"encoding/json"
	"fmt"

	"github.com/gridkv/gridstore/pkg/array"
)

// Field is one component of the per-cell record. Simple dtypes decode to a
// single unnamed field; structured dtypes to one field per entry.
type Field struct {
	// Name is empty for the sole field of a simple dtype.
	Name string

	// DType is the field's element type.
	DType array.DType

	// Shape holds the field's own trailing dimensions; empty for scalar
	// fields.
	Shape []int64
}

// ByteSize returns the per-cell byte footprint of the field.
func (f *Field) ByteSize() int64 {
	size := int64(f.DType.Size())
	for _, extent := range f.Shape {
		size *= extent
	}
	return size
}

// parseDType decodes the "dtype" metadata value: either a simple encoded
// string ("<f4") or the structured form [[name, dtype], [name, dtype,
// shape], ...]. The second return reports whether the structured form was
// used, which encodeDType needs for lossless round trips.
func parseDType(raw json.RawMessage) ([]Field, bool, error) {
	var simple string
	if err := json.Unmarshal(raw, &simple); err == nil {
		dtype := array.DType(simple)
		if err := dtype.Validate(); err != nil {
			return nil, false, err
		}
		return []Field{{DType: dtype}}, false, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("dtype must be a string or a list of fields")
	}
	if len(entries) == 0 {
		return nil, false, fmt.Errorf("structured dtype must have at least one field")
	}

	fields := make([]Field, 0, len(entries))
	names := make(map[string]bool)
	for i, entry := range entries {
		var parts []json.RawMessage
		if err := json.Unmarshal(entry, &parts); err != nil || len(parts) < 2 || len(parts) > 3 {
			return nil, false, fmt.Errorf("dtype field %d: want [name, dtype] or [name, dtype, shape]", i)
		}

		var field Field
		if err := json.Unmarshal(parts[0], &field.Name); err != nil {
			return nil, false, fmt.Errorf("dtype field %d: invalid name: %w", i, err)
		}
		if field.Name == "" {
			return nil, false, fmt.Errorf("dtype field %d: name must not be empty", i)
		}
		if names[field.Name] {
			return nil, false, fmt.Errorf("duplicate dtype field name %q", field.Name)
		}
		names[field.Name] = true

		var encoded string
		if err := json.Unmarshal(parts[1], &encoded); err != nil {
			return nil, false, fmt.Errorf("dtype field %q: invalid dtype: %w", field.Name, err)
		}
		field.DType = array.DType(encoded)
		if err := field.DType.Validate(); err != nil {
			return nil, false, fmt.Errorf("dtype field %q: %w", field.Name, err)
		}

		if len(parts) == 3 {
			if err := json.Unmarshal(parts[2], &field.Shape); err != nil {
				return nil, false, fmt.Errorf("dtype field %q: invalid shape: %w", field.Name, err)
			}
			for _, extent := range field.Shape {
				if extent <= 0 {
					return nil, false, fmt.Errorf("dtype field %q: shape extents must be positive", field.Name)
				}
			}
		}
		fields = append(fields, field)
	}
	return fields, true, nil
}

// encodeDType is the inverse of parseDType.
func encodeDType(fields []Field, structured bool) (json.RawMessage, error) {
	if !structured {
		if len(fields) != 1 || fields[0].Name != "" || len(fields[0].Shape) != 0 {
			return nil, fmt.Errorf("simple dtype requires exactly one unnamed scalar field")
		}
		return json.Marshal(string(fields[0].DType))
	}

	entries := make([]any, 0, len(fields))
	for _, field := range fields {
		if len(field.Shape) > 0 {
			entries = append(entries, []any{field.Name, string(field.DType), field.Shape})
		} else {
			entries = append(entries, []any{field.Name, string(field.DType)})
		}
	}
	return json.Marshal(entries)
}

// fieldsEqual compares two field layouts structurally.
func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].DType != b[i].DType || len(a[i].Shape) != len(b[i].Shape) {
			return false
		}
		for j := range a[i].Shape {
			if a[i].Shape[j] != b[i].Shape[j] {
				return false
			}
		}
	}
	return true
}
