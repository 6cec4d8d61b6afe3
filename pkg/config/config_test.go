package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gridkv/gridstore/pkg/kvstore/badger"
	_ "github.com/gridkv/gridstore/pkg/kvstore/memory"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, ":7470", cfg.Server.Address)
	assert.Equal(t, map[string]any{"backend": "memory"}, cfg.Store)
	assert.Zero(t, cfg.Codec.Concurrency)
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
server:
  address: ":9000"
store:
  backend: badger
  path: /tmp/gridstore-test
codec:
  concurrency: 4
arrays:
  temperature:
    driver: zarr
    path: temp/
    metadata:
      shape: [100, 100]
      chunks: [10, 10]
      dtype: "<f4"
`))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "badger", cfg.Store["backend"])
	assert.Equal(t, 4, cfg.Codec.Concurrency)

	doc, err := cfg.ArrayDoc("temperature")
	require.NoError(t, err)
	assert.Equal(t, "zarr", doc["driver"])
	// The top-level store is inherited when the array has none.
	assert.Equal(t, cfg.Store, doc["store"])

	_, err = cfg.ArrayDoc("pressure")
	assert.ErrorContains(t, err, "unknown array")
}

func TestLoadRejectsBadLevel(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: verbose\n"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  backend: etcd\n"))
	assert.ErrorContains(t, err, "unknown backend")
}

func TestLoadRejectsArrayWithoutDriver(t *testing.T) {
	_, err := Load(writeConfig(t, "arrays:\n  broken:\n    path: x/\n"))
	assert.ErrorContains(t, err, "driver")
}

func TestServerStoreFallback(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.Equal(t, cfg.Store, cfg.ServerStore())

	cfg.Server.Store = map[string]any{"backend": "memory"}
	assert.Equal(t, cfg.Server.Store, cfg.ServerStore())
}

func TestValidateCodecConcurrency(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Codec.Concurrency = -1
	assert.Error(t, Validate(cfg))
}
