package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gridkv/gridstore/pkg/array"
)

// partialMetadata is the possibly incomplete metadata block a spec may
// carry: constraints to validate against stored metadata on open, and the
// seed for synthesizing metadata on create. Absent properties are
// unconstrained.
type partialMetadata struct {
	Shape  []int64
	Chunks []int64

	DTypeSet   bool
	Fields     []Field
	Structured bool

	CompressorSet bool
	Compressor    *CompressorConfig

	// FillRaw stays raw until a field layout is known.
	FillRaw json.RawMessage

	Order              string
	DimensionSeparator string
}

type partialWire struct {
	ZarrFormat         *int            `json:"zarr_format,omitempty"`
	Shape              []int64         `json:"shape,omitempty"`
	Chunks             []int64         `json:"chunks,omitempty"`
	DType              json.RawMessage `json:"dtype,omitempty"`
	Compressor         json.RawMessage `json:"compressor,omitempty"`
	FillValue          json.RawMessage `json:"fill_value,omitempty"`
	Order              string          `json:"order,omitempty"`
	Filters            json.RawMessage `json:"filters,omitempty"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// parsePartialMetadata decodes the spec's "metadata" block.
func parsePartialMetadata(doc map[string]any) (*partialMetadata, error) {
	partial := &partialMetadata{}
	if len(doc) == 0 {
		return partial, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata block: %w", err)
	}
	var wire partialWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("invalid metadata block: %w", err)
	}

	if wire.ZarrFormat != nil && *wire.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format %d (only 2 is supported)", *wire.ZarrFormat)
	}
	if len(wire.Filters) != 0 && string(wire.Filters) != "null" {
		return nil, fmt.Errorf("filters are not supported")
	}

	partial.Shape = wire.Shape
	partial.Chunks = wire.Chunks
	partial.Order = wire.Order
	partial.DimensionSeparator = wire.DimensionSeparator
	partial.FillRaw = wire.FillValue

	if partial.Order != "" && partial.Order != "C" && partial.Order != "F" {
		return nil, fmt.Errorf("order must be \"C\" or \"F\", got %q", partial.Order)
	}
	if sep := partial.DimensionSeparator; sep != "" && sep != "." && sep != "/" {
		return nil, fmt.Errorf("dimension_separator must be \".\" or \"/\", got %q", sep)
	}

	if len(wire.DType) != 0 {
		partial.Fields, partial.Structured, err = parseDType(wire.DType)
		if err != nil {
			return nil, err
		}
		partial.DTypeSet = true
	}

	if len(wire.Compressor) != 0 {
		partial.CompressorSet = true
		if !bytes.Equal(wire.Compressor, []byte("null")) {
			partial.Compressor = &CompressorConfig{}
			if err := json.Unmarshal(wire.Compressor, partial.Compressor); err != nil {
				return nil, fmt.Errorf("invalid compressor: %w", err)
			}
			if err := validateCompressorConfig(partial.Compressor); err != nil {
				return nil, err
			}
		}
	}

	if len(partial.Shape) != 0 && len(partial.Chunks) != 0 && len(partial.Shape) != len(partial.Chunks) {
		return nil, fmt.Errorf("chunks rank %d does not match shape rank %d", len(partial.Chunks), len(partial.Shape))
	}
	return partial, nil
}

// toDoc re-encodes the set properties as a configuration metadata block.
func (p *partialMetadata) toDoc() (map[string]any, error) {
	wire := partialWire{
		Shape:              p.Shape,
		Chunks:             p.Chunks,
		Order:              p.Order,
		DimensionSeparator: p.DimensionSeparator,
		FillValue:          p.FillRaw,
	}
	if p.DTypeSet {
		dtype, err := encodeDType(p.Fields, p.Structured)
		if err != nil {
			return nil, err
		}
		wire.DType = dtype
	}
	if p.CompressorSet {
		if p.Compressor == nil {
			wire.Compressor = json.RawMessage("null")
		} else {
			raw, err := json.Marshal(p.Compressor)
			if err != nil {
				return nil, err
			}
			wire.Compressor = raw
		}
	}

	raw, err := json.Marshal(&wire)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return doc, nil
}

// empty reports whether no property is set.
func (p *partialMetadata) empty() bool {
	return len(p.Shape) == 0 && len(p.Chunks) == 0 && !p.DTypeSet &&
		!p.CompressorSet && len(p.FillRaw) == 0 && p.Order == "" &&
		p.DimensionSeparator == ""
}

// validateAgainst checks every set property against stored metadata.
// Mismatches are schema errors: the caller asked for an array that is not
// the one on disk.
func (p *partialMetadata) validateAgainst(md *Metadata) error {
	if len(p.Shape) != 0 && !int64sEqual(p.Shape, md.Shape) {
		return fmt.Errorf("schema mismatch: requested shape %v, stored %v", p.Shape, md.Shape)
	}
	if len(p.Chunks) != 0 && !int64sEqual(p.Chunks, md.Chunks) {
		return fmt.Errorf("schema mismatch: requested chunks %v, stored %v", p.Chunks, md.Chunks)
	}
	if p.DTypeSet && !fieldsEqual(p.Fields, md.Fields) {
		return fmt.Errorf("schema mismatch: requested dtype does not match stored dtype")
	}
	if p.CompressorSet && !compressorEqual(p.Compressor, md.Compressor) {
		return fmt.Errorf("schema mismatch: requested compressor does not match stored compressor")
	}
	if p.Order != "" && p.Order != md.Order {
		return fmt.Errorf("schema mismatch: requested order %q, stored %q", p.Order, md.Order)
	}
	if p.DimensionSeparator != "" && p.DimensionSeparator != md.DimensionSeparator {
		return fmt.Errorf("schema mismatch: requested dimension_separator %q, stored %q",
			p.DimensionSeparator, md.DimensionSeparator)
	}
	if len(p.FillRaw) != 0 {
		fills, err := parseFillValue(p.FillRaw, md.Fields, md.Structured)
		if err != nil {
			return err
		}
		for i := range fills {
			if !fillEqual(fills[i], md.FillValues[i]) {
				return fmt.Errorf("schema mismatch: requested fill_value does not match stored fill_value")
			}
		}
	}
	return nil
}

// fromMetadata records full metadata as a partial block; used when
// reconstructing a spec from an open store.
func partialFromMetadata(md *Metadata) *partialMetadata {
	fill, _ := encodeFillValue(md.FillValues, md.Fields, md.Structured)
	return &partialMetadata{
		Shape:              append([]int64(nil), md.Shape...),
		Chunks:             append([]int64(nil), md.Chunks...),
		DTypeSet:           true,
		Fields:             append([]Field(nil), md.Fields...),
		Structured:         md.Structured,
		CompressorSet:      true,
		Compressor:         md.Compressor,
		FillRaw:            fill,
		Order:              md.Order,
		DimensionSeparator: md.DimensionSeparator,
	}
}

func int64sEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fillEqual(a, b *array.Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}
