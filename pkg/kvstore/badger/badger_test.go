package badger

import (
	"context"
	"testing"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/gridkv/gridstore/pkg/kvstore/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kvstore.Store {
	store, err := NewStore(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreConformance(t *testing.T) {
	kvtest.RunStoreConformance(t, func(t *testing.T) kvstore.Store {
		return newTestStore(t)
	})
}

func TestBadgerPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(ctx, Config{Path: dir})
	require.NoError(t, err)

	gen, err := store.Put(ctx, "k", []byte("survives"), kvstore.WriteOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	res, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), res.Value)
	assert.Equal(t, gen, res.Generation)
}

func TestBadgerPathRequired(t *testing.T) {
	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, kvstore.IsCode(err, kvstore.ErrInvalidArgument))
}
