package zarr

import (
	"encoding/json"
	"fmt"

	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
)

// metadataStorageSuffix is the fixed key suffix of the metadata blob.
const metadataStorageSuffix = ".zarray"

// defaultDimensionSeparator joins chunk indices when metadata does not
// declare a separator.
const defaultDimensionSeparator = "."

// Metadata is the decoded ".zarray" descriptor. Values are immutable once
// published to a cache entry; mutations clone first.
type Metadata struct {
	// ZarrFormat is the format version; only 2 is supported.
	ZarrFormat int

	// Shape holds the declared array extents.
	Shape []int64

	// Chunks holds the per-chunk extents; same rank as Shape.
	Chunks []int64

	// Fields is the decoded dtype; one unnamed entry for simple dtypes.
	Fields []Field

	// Structured records whether dtype used the structured list form.
	Structured bool

	// Compressor is nil when chunks are stored raw.
	Compressor *CompressorConfig

	// FillValues holds one entry per field; nil entries are unset.
	FillValues []*array.Array

	// Order is the in-chunk element layout: "C" or "F".
	Order string

	// DimensionSeparator joins chunk indices in storage keys.
	DimensionSeparator string
}

// metadataJSON is the wire form; polymorphic values stay raw until the
// field layout is known.
type metadataJSON struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int64         `json:"shape"`
	Chunks             []int64         `json:"chunks"`
	DType              json.RawMessage `json:"dtype"`
	Compressor         json.RawMessage `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            json.RawMessage `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// decodeMetadata parses and validates a ".zarray" blob.
func decodeMetadata(raw []byte) (*Metadata, error) {
	var wire metadataJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	if wire.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format %d (only 2 is supported)", wire.ZarrFormat)
	}
	if len(wire.Filters) != 0 && string(wire.Filters) != "null" {
		return nil, fmt.Errorf("filters are not supported")
	}

	fields, structured, err := parseDType(wire.DType)
	if err != nil {
		return nil, err
	}

	var compressorCfg *CompressorConfig
	if len(wire.Compressor) != 0 && string(wire.Compressor) != "null" {
		compressorCfg = &CompressorConfig{}
		if err := json.Unmarshal(wire.Compressor, compressorCfg); err != nil {
			return nil, fmt.Errorf("invalid compressor: %w", err)
		}
		if err := validateCompressorConfig(compressorCfg); err != nil {
			return nil, err
		}
	}

	fills, err := parseFillValue(wire.FillValue, fields, structured)
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		ZarrFormat:         wire.ZarrFormat,
		Shape:              wire.Shape,
		Chunks:             wire.Chunks,
		Fields:             fields,
		Structured:         structured,
		Compressor:         compressorCfg,
		FillValues:         fills,
		Order:              wire.Order,
		DimensionSeparator: wire.DimensionSeparator,
	}
	if md.DimensionSeparator == "" {
		md.DimensionSeparator = defaultDimensionSeparator
	}
	if err := md.validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// encodeMetadata serializes metadata losslessly.
func encodeMetadata(md *Metadata) ([]byte, error) {
	dtype, err := encodeDType(md.Fields, md.Structured)
	if err != nil {
		return nil, err
	}
	fill, err := encodeFillValue(md.FillValues, md.Fields, md.Structured)
	if err != nil {
		return nil, err
	}
	compressorRaw := json.RawMessage("null")
	if md.Compressor != nil {
		compressorRaw, err = json.Marshal(md.Compressor)
		if err != nil {
			return nil, err
		}
	}

	wire := metadataJSON{
		ZarrFormat: md.ZarrFormat,
		Shape:      md.Shape,
		Chunks:     md.Chunks,
		DType:      dtype,
		Compressor: compressorRaw,
		FillValue:  fill,
		Order:      md.Order,
		Filters:    json.RawMessage("null"),
	}
	if md.DimensionSeparator != defaultDimensionSeparator {
		wire.DimensionSeparator = md.DimensionSeparator
	}
	return json.Marshal(&wire)
}

func (md *Metadata) validate() error {
	if len(md.Shape) == 0 {
		return fmt.Errorf("shape must have at least one dimension")
	}
	if len(md.Chunks) != len(md.Shape) {
		return fmt.Errorf("chunks rank %d does not match shape rank %d", len(md.Chunks), len(md.Shape))
	}
	for _, extent := range md.Shape {
		if extent < 0 {
			return fmt.Errorf("shape extents must be non-negative, got %v", md.Shape)
		}
	}
	for _, extent := range md.Chunks {
		if extent <= 0 {
			return fmt.Errorf("chunk extents must be positive, got %v", md.Chunks)
		}
	}
	if md.Order != "C" && md.Order != "F" {
		return fmt.Errorf("order must be \"C\" or \"F\", got %q", md.Order)
	}
	if sep := md.DimensionSeparator; sep != "." && sep != "/" {
		return fmt.Errorf("dimension_separator must be \".\" or \"/\", got %q", sep)
	}
	if len(md.FillValues) != len(md.Fields) {
		return fmt.Errorf("fill values do not match field count")
	}
	return nil
}

// Rank returns the array rank.
func (md *Metadata) Rank() int {
	return len(md.Shape)
}

// RecordSize returns the per-cell byte footprint across all fields.
func (md *Metadata) RecordSize() int64 {
	total := int64(0)
	for i := range md.Fields {
		total += md.Fields[i].ByteSize()
	}
	return total
}

// clone returns a deep copy safe to mutate.
func (md *Metadata) clone() *Metadata {
	out := *md
	out.Shape = append([]int64(nil), md.Shape...)
	out.Chunks = append([]int64(nil), md.Chunks...)
	out.Fields = append([]Field(nil), md.Fields...)
	out.FillValues = append([]*array.Array(nil), md.FillValues...)
	if md.Compressor != nil {
		compressorCfg := *md.Compressor
		out.Compressor = &compressorCfg
	}
	return &out
}

// validateCompatibility checks that newMd can serve chunk operations
// planned against oldMd: everything but the (resizable) shape extents must
// agree.
func validateCompatibility(oldMd, newMd *Metadata) error {
	if len(oldMd.Shape) != len(newMd.Shape) {
		return fmt.Errorf("%w: rank changed from %d to %d",
			chunked.ErrIncompatibleMetadata, len(oldMd.Shape), len(newMd.Shape))
	}
	for i := range oldMd.Chunks {
		if oldMd.Chunks[i] != newMd.Chunks[i] {
			return fmt.Errorf("%w: chunk shape changed from %v to %v",
				chunked.ErrIncompatibleMetadata, oldMd.Chunks, newMd.Chunks)
		}
	}
	if !fieldsEqual(oldMd.Fields, newMd.Fields) {
		return fmt.Errorf("%w: field layout changed", chunked.ErrIncompatibleMetadata)
	}
	if oldMd.Order != newMd.Order {
		return fmt.Errorf("%w: order changed from %q to %q",
			chunked.ErrIncompatibleMetadata, oldMd.Order, newMd.Order)
	}
	if !compressorEqual(oldMd.Compressor, newMd.Compressor) {
		return fmt.Errorf("%w: compressor changed", chunked.ErrIncompatibleMetadata)
	}
	if oldMd.DimensionSeparator != newMd.DimensionSeparator {
		return fmt.Errorf("%w: dimension_separator changed", chunked.ErrIncompatibleMetadata)
	}
	return nil
}

func compressorEqual(a, b *CompressorConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// resizedMetadata returns a copy with extents replaced per exclusiveMax.
// inclusiveMin entries must be zero (or the implicit sentinel); a non-zero
// origin is a caller logic error and panics.
func resizedMetadata(md *Metadata, inclusiveMin, exclusiveMax []int64) (*Metadata, error) {
	if len(inclusiveMin) != md.Rank() || len(exclusiveMax) != md.Rank() {
		return nil, fmt.Errorf("resize bounds rank %d/%d does not match array rank %d",
			len(inclusiveMin), len(exclusiveMax), md.Rank())
	}
	for i, min := range inclusiveMin {
		if min != 0 && min != chunked.ImplicitExtent {
			panic(fmt.Sprintf("resize inclusive-min must be zero, got %d for dimension %d", min, i))
		}
	}

	out := md.clone()
	for i, max := range exclusiveMax {
		if max == chunked.ImplicitExtent {
			continue
		}
		if max < 0 {
			return nil, fmt.Errorf("resize extent must be non-negative, got %d for dimension %d", max, i)
		}
		out.Shape[i] = max
	}
	return out, nil
}
