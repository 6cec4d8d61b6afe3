// Package kvtest provides a conformance suite shared by all key-value
// backend tests.
//
// Each backend's own test file calls RunStoreConformance with a factory for a
// fresh, empty store. The suite exercises the full Store contract: basic
// round trips, missing-key semantics, conditional writes, listing and prefix
// deletion.
package kvtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh, empty store for one subtest. Cleanup should be
// registered on t (t.Cleanup / t.TempDir) by the factory itself.
type Factory func(t *testing.T) kvstore.Store

// RunStoreConformance runs the shared backend conformance suite.
func RunStoreConformance(t *testing.T, factory Factory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		gen, err := store.Put(ctx, "a/b", []byte("hello"), kvstore.WriteOptions{})
		require.NoError(t, err)
		require.NotEqual(t, kvstore.NoGeneration, gen)

		res, err := store.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.False(t, res.Missing)
		assert.Equal(t, []byte("hello"), res.Value)
		assert.Equal(t, gen, res.Generation)
	})

	t.Run("MissingKey", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		res, err := store.Get(ctx, "does/not/exist")
		require.NoError(t, err)
		assert.True(t, res.Missing)
		assert.Nil(t, res.Value)
		assert.Equal(t, kvstore.NoGeneration, res.Generation)
	})

	t.Run("GenerationChangesOnWrite", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		gen1, err := store.Put(ctx, "k", []byte("v1"), kvstore.WriteOptions{})
		require.NoError(t, err)
		gen2, err := store.Put(ctx, "k", []byte("v2"), kvstore.WriteOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, gen1, gen2)
	})

	t.Run("IfNotExists", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		_, err := store.Put(ctx, "k", []byte("first"), kvstore.WriteOptions{IfNotExists: true})
		require.NoError(t, err)

		_, err = store.Put(ctx, "k", []byte("second"), kvstore.WriteOptions{IfNotExists: true})
		require.Error(t, err)
		assert.True(t, kvstore.IsCode(err, kvstore.ErrAlreadyExists), "want ErrAlreadyExists, got %v", err)

		// Losing write must have no effect.
		res, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), res.Value)
	})

	t.Run("IfGenerationMatch", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		gen, err := store.Put(ctx, "k", []byte("v1"), kvstore.WriteOptions{})
		require.NoError(t, err)

		// Matching precondition succeeds.
		gen2, err := store.Put(ctx, "k", []byte("v2"), kvstore.WriteOptions{IfGenerationMatch: gen})
		require.NoError(t, err)

		// Stale precondition fails and leaves the value alone.
		_, err = store.Put(ctx, "k", []byte("v3"), kvstore.WriteOptions{IfGenerationMatch: gen})
		require.Error(t, err)
		assert.True(t, kvstore.IsCode(err, kvstore.ErrGenerationMismatch), "want ErrGenerationMismatch, got %v", err)

		res, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), res.Value)
		assert.Equal(t, gen2, res.Generation)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		_, err := store.Put(ctx, "k", []byte("v"), kvstore.WriteOptions{})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "k", kvstore.WriteOptions{}))

		res, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Missing)

		// Deleting an absent key is idempotent.
		require.NoError(t, store.Delete(ctx, "k", kvstore.WriteOptions{}))
	})

	t.Run("ListPrefix", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		for _, key := range []string{"arr/0.0", "arr/0.1", "arr/1.0", "other/x"} {
			_, err := store.Put(ctx, key, []byte(key), kvstore.WriteOptions{})
			require.NoError(t, err)
		}

		keys, err := store.List(ctx, "arr/")
		require.NoError(t, err)
		assert.Equal(t, []string{"arr/0.0", "arr/0.1", "arr/1.0"}, keys)
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		for _, key := range []string{"arr/0", "arr/1", "keep/0"} {
			_, err := store.Put(ctx, key, []byte(key), kvstore.WriteOptions{})
			require.NoError(t, err)
		}

		require.NoError(t, store.DeletePrefix(ctx, "arr/"))

		keys, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"keep/0"}, keys)
	})

	t.Run("ManyKeysOrdered", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)

		var want []string
		for i := 0; i < 20; i++ {
			key := fmt.Sprintf("grid/%02d", i)
			want = append(want, key)
			_, err := store.Put(ctx, key, []byte{byte(i)}, kvstore.WriteOptions{})
			require.NoError(t, err)
		}

		keys, err := store.List(ctx, "grid/")
		require.NoError(t, err)
		assert.Equal(t, want, keys)
	})
}
