package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/gridkv/gridstore/internal/cachekey"
	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// specDoc is the configuration surface bound by mapstructure.
type specDoc struct {
	Driver   string         `mapstructure:"driver"`
	Store    map[string]any `mapstructure:"store" validate:"required"`
	Path     string         `mapstructure:"path"`
	Metadata map[string]any `mapstructure:"metadata"`
	Field    string         `mapstructure:"field"`

	// KeyEncoding is the deprecated single-character alias for
	// metadata.dimension_separator. Accepted for old configurations; a
	// value disagreeing with the modern field is a hard error.
	KeyEncoding string `mapstructure:"key_encoding"`

	Schema schemaDoc `mapstructure:"schema"`
}

type schemaDoc struct {
	Rank       int     `mapstructure:"rank" validate:"gte=0"`
	DType      string  `mapstructure:"dtype"`
	ChunkShape []int64 `mapstructure:"chunk_shape"`
	FillValue  any     `mapstructure:"fill_value"`
}

// Spec is a bound zarr store description.
type Spec struct {
	storeConfig map[string]any
	path        string
	field       string
	partial     *partialMetadata
	schema      driver.Schema

	// separator is the resolved index separator constraint; empty means
	// "whatever the stored metadata says, defaulting to .".
	separator string
}

func bindSpec(doc map[string]any) (*Spec, error) {
	var cfg specDoc
	if err := mapstructure.Decode(doc, &cfg); err != nil {
		return nil, fmt.Errorf("invalid zarr configuration: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidationError(err)
	}

	partial, err := parsePartialMetadata(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	separator := partial.DimensionSeparator
	if cfg.KeyEncoding != "" {
		if cfg.KeyEncoding != "." && cfg.KeyEncoding != "/" {
			return nil, fmt.Errorf("key_encoding must be \".\" or \"/\", got %q", cfg.KeyEncoding)
		}
		if separator != "" && separator != cfg.KeyEncoding {
			return nil, fmt.Errorf("key_encoding %q conflicts with metadata.dimension_separator %q",
				cfg.KeyEncoding, separator)
		}
		separator = cfg.KeyEncoding
	}

	spec := &Spec{
		storeConfig: cfg.Store,
		path:        normalizePath(cfg.Path),
		field:       cfg.Field,
		partial:     partial,
		separator:   separator,
	}

	if cfg.Schema.DType != "" {
		dtype := array.DType(cfg.Schema.DType)
		if err := dtype.Validate(); err != nil {
			return nil, err
		}
		spec.schema.DType = dtype
	}
	spec.schema.Rank = cfg.Schema.Rank
	spec.schema.ChunkShape = cfg.Schema.ChunkShape
	spec.schema.FillValue = cfg.Schema.FillValue

	if err := spec.initialize(); err != nil {
		return nil, err
	}
	return spec, nil
}

// normalizePath gives every non-empty path a trailing slash, so metadata
// and chunk keys nest under it.
func normalizePath(path string) string {
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// initialize back-fills schema constraints from whatever partial metadata
// is known, and cross-checks the ones given explicitly.
func (s *Spec) initialize() error {
	rank := 0
	switch {
	case len(s.partial.Shape) != 0:
		rank = len(s.partial.Shape)
	case len(s.partial.Chunks) != 0:
		rank = len(s.partial.Chunks)
	}
	if rank != 0 {
		if s.schema.Rank != 0 && s.schema.Rank != rank {
			return fmt.Errorf("schema rank %d conflicts with metadata rank %d", s.schema.Rank, rank)
		}
		s.schema.Rank = rank
	}

	if len(s.schema.ChunkShape) != 0 && len(s.partial.Chunks) != 0 &&
		!int64sEqual(s.schema.ChunkShape, s.partial.Chunks) {
		return fmt.Errorf("schema chunk_shape %v conflicts with metadata chunks %v",
			s.schema.ChunkShape, s.partial.Chunks)
	}

	if s.partial.DTypeSet {
		field, err := selectField(s.partial.Fields, s.field)
		if err == nil {
			dtype := s.partial.Fields[field].DType
			if s.schema.DType != "" && s.schema.DType != dtype {
				return fmt.Errorf("schema dtype %s conflicts with metadata dtype %s", s.schema.DType, dtype)
			}
			s.schema.DType = dtype
		}
	}
	return nil
}

// selectField resolves a field name against a field layout. An empty name
// selects the sole field; with multiple fields the name is required.
func selectField(fields []Field, name string) (int, error) {
	if name == "" {
		if len(fields) != 1 {
			return 0, fmt.Errorf("field must be specified for a structured dtype with %d fields", len(fields))
		}
		return 0, nil
	}
	for i := range fields {
		if fields[i].Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("field %q not found in dtype", name)
}

// Driver returns "zarr".
func (s *Spec) Driver() string {
	return driverID
}

// CacheKey identifies the data cache entry this spec resolves to.
func (s *Spec) CacheKey() string {
	dtype := ""
	if s.partial.DTypeSet {
		if raw, err := encodeDType(s.partial.Fields, s.partial.Structured); err == nil {
			dtype = string(raw)
		}
	}
	return cachekey.Encode(driverID, kvstore.CacheKey(s.storeConfig), s.path, s.field,
		s.separator, s.partial.Chunks, dtype, s.partial.Order, s.partial.Compressor)
}

// ToConfig re-encodes the spec as a configuration document.
func (s *Spec) ToConfig() (map[string]any, error) {
	doc := map[string]any{
		"driver": driverID,
		"store":  s.storeConfig,
	}
	if s.path != "" {
		doc["path"] = s.path
	}
	if s.field != "" {
		doc["field"] = s.field
	}

	metadata, err := s.partial.toDoc()
	if err != nil {
		return nil, err
	}
	if s.separator != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["dimension_separator"] = s.separator
	}
	if metadata != nil {
		doc["metadata"] = metadata
	}

	schema := map[string]any{}
	if s.schema.Rank != 0 {
		schema["rank"] = s.schema.Rank
	}
	if s.schema.DType != "" {
		schema["dtype"] = string(s.schema.DType)
	}
	if len(s.schema.ChunkShape) != 0 {
		schema["chunk_shape"] = s.schema.ChunkShape
	}
	if s.schema.FillValue != nil {
		schema["fill_value"] = s.schema.FillValue
	}
	if len(schema) != 0 {
		doc["schema"] = schema
	}
	return doc, nil
}

// ApplyOptions folds user overrides into the spec.
func (s *Spec) ApplyOptions(opts driver.SpecOptions) error {
	if opts.MinimalSpec {
		// Keep only schema-derived constraints; drop recorded metadata
		// so the spec stays portable across implementations.
		sep := s.separator
		s.partial = &partialMetadata{}
		s.separator = sep
	}

	if opts.Schema.Rank != 0 {
		if s.schema.Rank != 0 && s.schema.Rank != opts.Schema.Rank {
			return fmt.Errorf("schema rank %d conflicts with requested rank %d", s.schema.Rank, opts.Schema.Rank)
		}
		s.schema.Rank = opts.Schema.Rank
	}
	if opts.Schema.DType != "" {
		if err := opts.Schema.DType.Validate(); err != nil {
			return err
		}
		if s.schema.DType != "" && s.schema.DType != opts.Schema.DType {
			return fmt.Errorf("schema dtype %s conflicts with requested dtype %s", s.schema.DType, opts.Schema.DType)
		}
		s.schema.DType = opts.Schema.DType
	}
	if len(opts.Schema.ChunkShape) != 0 {
		if len(s.schema.ChunkShape) != 0 && !int64sEqual(s.schema.ChunkShape, opts.Schema.ChunkShape) {
			return fmt.Errorf("schema chunk_shape conflicts with requested chunk_shape")
		}
		s.schema.ChunkShape = opts.Schema.ChunkShape
	}
	if opts.Schema.FillValue != nil {
		s.schema.FillValue = opts.Schema.FillValue
	}
	return s.initialize()
}

// Open opens or creates the store described by the spec.
func (s *Spec) Open(ctx context.Context, dctx *driver.Context, mode driver.OpenMode) (driver.Store, error) {
	return chunked.Open(ctx, dctx, &openState{spec: s}, mode)
}

// OpenChunked is Open returning the concrete chunked handle.
func (s *Spec) OpenChunked(ctx context.Context, dctx *driver.Context, mode driver.OpenMode) (*chunked.Store, error) {
	return chunked.Open(ctx, dctx, &openState{spec: s}, mode)
}

// openState adapts a Spec to the chunked open flow.
type openState struct {
	spec *Spec
}

func (o *openState) Format() chunked.Format {
	return zarrFormat{}
}

func (o *openState) StoreConfig() map[string]any {
	return o.spec.storeConfig
}

func (o *openState) EntryKey() string {
	return o.spec.path
}

// CreateMetadata synthesizes full metadata from the spec's partial
// metadata and schema. Shape, chunks and dtype must be derivable;
// everything else has defaults.
func (o *openState) CreateMetadata() (chunked.Metadata, error) {
	spec := o.spec
	partial := spec.partial

	if len(partial.Shape) == 0 {
		return nil, fmt.Errorf("cannot create array: metadata.shape is required")
	}

	chunks := partial.Chunks
	if len(chunks) == 0 {
		chunks = spec.schema.ChunkShape
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot create array: metadata.chunks or schema.chunk_shape is required")
	}
	if len(chunks) != len(partial.Shape) {
		return nil, fmt.Errorf("chunks rank %d does not match shape rank %d", len(chunks), len(partial.Shape))
	}

	fields := partial.Fields
	structured := partial.Structured
	if !partial.DTypeSet {
		if spec.schema.DType == "" {
			return nil, fmt.Errorf("cannot create array: metadata.dtype or schema.dtype is required")
		}
		fields = []Field{{DType: spec.schema.DType}}
		structured = false
	}

	order := partial.Order
	if order == "" {
		order = "C"
	}
	separator := spec.separator
	if separator == "" {
		separator = defaultDimensionSeparator
	}

	fillRaw := partial.FillRaw
	if len(fillRaw) == 0 && spec.schema.FillValue != nil {
		raw, err := json.Marshal(spec.schema.FillValue)
		if err != nil {
			return nil, fmt.Errorf("invalid schema fill_value: %w", err)
		}
		fillRaw = raw
	}
	fills, err := parseFillValue(fillRaw, fields, structured)
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		ZarrFormat:         2,
		Shape:              append([]int64(nil), partial.Shape...),
		Chunks:             append([]int64(nil), chunks...),
		Fields:             fields,
		Structured:         structured,
		Compressor:         partial.Compressor,
		FillValues:         fills,
		Order:              order,
		DimensionSeparator: separator,
	}
	if err := md.validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// ComponentIndex validates the spec against stored metadata and resolves
// the selected field.
func (o *openState) ComponentIndex(raw chunked.Metadata) (int, error) {
	md := raw.(*Metadata)
	spec := o.spec

	if err := spec.partial.validateAgainst(md); err != nil {
		return 0, err
	}
	if spec.separator != "" && spec.separator != md.DimensionSeparator {
		return 0, fmt.Errorf("schema mismatch: requested dimension_separator %q, stored %q",
			spec.separator, md.DimensionSeparator)
	}

	index, err := selectField(md.Fields, spec.field)
	if err != nil {
		return 0, err
	}

	if spec.schema.DType != "" && spec.schema.DType != md.Fields[index].DType {
		return 0, fmt.Errorf("schema mismatch: requested dtype %s, stored %s",
			spec.schema.DType, md.Fields[index].DType)
	}
	if spec.schema.Rank != 0 && spec.schema.Rank != md.Rank() {
		return 0, fmt.Errorf("schema mismatch: requested rank %d, stored %d", spec.schema.Rank, md.Rank())
	}
	if len(spec.schema.ChunkShape) != 0 && !int64sEqual(spec.schema.ChunkShape, md.Chunks) {
		return 0, fmt.Errorf("schema mismatch: requested chunk_shape %v, stored %v",
			spec.schema.ChunkShape, md.Chunks)
	}
	return index, nil
}

// DataCacheKey keys the data cache by everything that affects chunk
// addressing and decoding.
func (o *openState) DataCacheKey(raw chunked.Metadata) string {
	md := raw.(*Metadata)
	dtype := ""
	if encoded, err := encodeDType(md.Fields, md.Structured); err == nil {
		dtype = string(encoded)
	}
	return cachekey.Encode(driverID, kvstore.CacheKey(o.spec.storeConfig), o.spec.path,
		o.spec.field, md.DimensionSeparator, md.Chunks, dtype, md.Order, md.Compressor)
}

// BoundSpec reconstructs a spec recording the live metadata.
func (o *openState) BoundSpec(raw chunked.Metadata, componentIndex int) (driver.Spec, error) {
	md := raw.(*Metadata)
	return &Spec{
		storeConfig: o.spec.storeConfig,
		path:        o.spec.path,
		field:       o.spec.field,
		partial:     partialFromMetadata(md),
		separator:   md.DimensionSeparator,
		schema: driver.Schema{
			Rank:       md.Rank(),
			DType:      md.Fields[componentIndex].DType,
			ChunkShape: append([]int64(nil), md.Chunks...),
		},
	}, nil
}
