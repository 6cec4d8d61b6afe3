// Package zarr implements the zarr v2 storage format as a chunked-array
// driver: ".zarray" metadata, per-cell record chunk encoding with C or F
// cell order, and zlib/gzip/zstd/lz4 chunk compression.
package zarr

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
)

const driverID = "zarr"

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	driver.Register(zarrDriver{})
}

// zarrDriver registers the format under the "zarr" discriminator.
type zarrDriver struct{}

func (zarrDriver) ID() string {
	return driverID
}

func (zarrDriver) BindSpec(doc map[string]any) (driver.Spec, error) {
	return bindSpec(doc)
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}

// zarrFormat plugs the zarr encoding into the chunked framework.
type zarrFormat struct{}

func (zarrFormat) ID() string {
	return driverID
}

func (zarrFormat) MetadataStorageKey(entryKey string) string {
	return entryKey + metadataStorageSuffix
}

func (zarrFormat) DecodeMetadata(entryKey string, raw []byte) (chunked.Metadata, error) {
	md, err := decodeMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata for %q: %w", entryKey, err)
	}
	return md, nil
}

func (zarrFormat) EncodeMetadata(md chunked.Metadata) ([]byte, error) {
	return encodeMetadata(md.(*Metadata))
}

func (zarrFormat) ValidateCompatibility(old, new chunked.Metadata) error {
	return validateCompatibility(old.(*Metadata), new.(*Metadata))
}

func (zarrFormat) ChunkGridBounds(md chunked.Metadata) chunked.GridBounds {
	return chunked.NewGridBounds(md.(*Metadata).Shape)
}

func (zarrFormat) ResizedMetadata(md chunked.Metadata, inclusiveMin, exclusiveMax []int64) (chunked.Metadata, error) {
	return resizedMetadata(md.(*Metadata), inclusiveMin, exclusiveMax)
}

func (zarrFormat) ChunkGridSpecification(raw chunked.Metadata) (*chunked.GridSpec, error) {
	md := raw.(*Metadata)
	components := make([]chunked.Component, len(md.Fields))
	for i := range md.Fields {
		field := &md.Fields[i]
		components[i] = chunked.NewComponent(field.Name, field.DType, md.Chunks, field.Shape, md.FillValues[i])
	}
	return &chunked.GridSpec{
		ChunkShape: append([]int64(nil), md.Chunks...),
		Components: components,
	}, nil
}

func (zarrFormat) EncodeChunk(md chunked.Metadata, indices []int64, components []*array.Array) ([]byte, error) {
	return encodeChunk(md.(*Metadata), components)
}

func (zarrFormat) DecodeChunk(md chunked.Metadata, indices []int64, raw []byte) ([]*array.Array, error) {
	return decodeChunk(md.(*Metadata), raw)
}

func (zarrFormat) ChunkStorageKey(raw chunked.Metadata, prefix string, indices []int64) string {
	md := raw.(*Metadata)
	return chunkStorageKey(prefix, md.DimensionSeparator, indices)
}
