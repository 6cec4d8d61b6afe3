package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressorConfig is the metadata "compressor" object. A nil config means
// chunks are stored raw.
type CompressorConfig struct {
	// ID selects the codec: "zlib", "gzip", "zstd" or "lz4".
	ID string `json:"id"`

	// Level is the codec-specific compression level; zero picks the
	// codec default.
	Level int `json:"level,omitempty"`
}

// compressor compresses and decompresses whole chunk payloads.
type compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// newCompressor builds the codec for a config; nil yields the identity
// codec.
func newCompressor(cfg *CompressorConfig) (compressor, error) {
	if cfg == nil {
		return rawCompressor{}, nil
	}
	switch cfg.ID {
	case "zlib":
		return zlibCompressor{level: cfg.Level}, nil
	case "gzip":
		return gzipCompressor{level: cfg.Level}, nil
	case "zstd":
		return zstdCompressor{level: cfg.Level}, nil
	case "lz4":
		return lz4Compressor{level: cfg.Level}, nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", cfg.ID)
	}
}

func validateCompressorConfig(cfg *CompressorConfig) error {
	_, err := newCompressor(cfg)
	return err
}

type rawCompressor struct{}

func (rawCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (rawCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type zlibCompressor struct {
	level int
}

func (c zlibCompressor) Compress(data []byte) ([]byte, error) {
	level := c.level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c zlibCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type gzipCompressor struct {
	level int
}

func (c gzipCompressor) Compress(data []byte) ([]byte, error) {
	level := c.level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCompressor struct {
	level int
}

func (c zstdCompressor) Compress(data []byte) ([]byte, error) {
	level := zstd.SpeedDefault
	if c.level != 0 {
		level = zstd.EncoderLevelFromZstd(c.level)
	}
	w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	out := w.EncodeAll(data, nil)
	w.Close()
	return out, nil
}

func (c zstdCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(data, nil)
}

type lz4Compressor struct {
	level int
}

// lz4Levels maps numeric levels 1..9 onto the codec's level constants;
// level 0 (and anything out of range) selects the fast default.
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func (c lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if c.level > 0 && c.level < len(lz4Levels) {
		if err := w.Apply(lz4.CompressionLevelOption(lz4Levels[c.level])); err != nil {
			return nil, err
		}
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
