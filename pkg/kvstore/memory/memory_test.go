package memory

import (
	"context"
	"testing"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/gridkv/gridstore/pkg/kvstore/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreConformance(t *testing.T) {
	kvtest.RunStoreConformance(t, func(t *testing.T) kvstore.Store {
		return NewStore(Config{})
	})
}

func TestClosedStoreFails(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Config{})
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "k")
	assert.True(t, kvstore.IsCode(err, kvstore.ErrUnavailable))

	_, err = store.Put(ctx, "k", []byte("v"), kvstore.WriteOptions{})
	assert.True(t, kvstore.IsCode(err, kvstore.ErrUnavailable))
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Config{})

	_, err := store.Put(ctx, "k", []byte("abc"), kvstore.WriteOptions{})
	require.NoError(t, err)

	res, err := store.Get(ctx, "k")
	require.NoError(t, err)
	res.Value[0] = 'x'

	res2, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), res2.Value)
}

func TestOpenFromConfig(t *testing.T) {
	store, err := kvstore.Open(context.Background(), map[string]any{"backend": "memory"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Put(context.Background(), "k", []byte("v"), kvstore.WriteOptions{})
	require.NoError(t, err)
}
