package remote

import (
	"context"
	"testing"
	"time"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/gridkv/gridstore/pkg/kvstore/kvtest"
	"github.com/gridkv/gridstore/pkg/kvstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a store server on a loopback port backed by a fresh
// in-memory store and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	backing := memory.NewStore(memory.Config{})
	server := NewServer("127.0.0.1:0", backing)
	require.NoError(t, server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		backing.Close()
	})

	return server.Addr().String()
}

func TestRemoteStoreConformance(t *testing.T) {
	kvtest.RunStoreConformance(t, func(t *testing.T) kvstore.Store {
		addr := startServer(t)
		client, err := Dial(context.Background(), Config{Address: addr})
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		return client
	})
}

func TestRemoteErrorsKeepTheirCode(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)

	client, err := Dial(ctx, Config{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Put(ctx, "k", []byte("v"), kvstore.WriteOptions{})
	require.NoError(t, err)

	_, err = client.Put(ctx, "k", []byte("v2"), kvstore.WriteOptions{IfNotExists: true})
	assert.True(t, kvstore.IsCode(err, kvstore.ErrAlreadyExists), "got %v", err)

	_, err = client.Put(ctx, "k", []byte("v3"), kvstore.WriteOptions{IfGenerationMatch: "stale"})
	assert.True(t, kvstore.IsCode(err, kvstore.ErrGenerationMismatch), "got %v", err)
}

func TestRemoteSharedBacking(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)

	a, err := Dial(ctx, Config{Address: addr})
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, Config{Address: addr})
	require.NoError(t, err)
	defer b.Close()

	gen, err := a.Put(ctx, "shared", []byte("from a"), kvstore.WriteOptions{})
	require.NoError(t, err)

	res, err := b.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, []byte("from a"), res.Value)
	assert.Equal(t, gen, res.Generation)
}

func TestRemoteContextDeadline(t *testing.T) {
	addr := startServer(t)

	client, err := Dial(context.Background(), Config{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Get(ctx, "k")
	require.Error(t, err)

	// A live context still works on the same connection afterwards.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	res, err := client.Get(ctx2, "k")
	require.NoError(t, err)
	assert.True(t, res.Missing)
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, kvstore.IsCode(err, kvstore.ErrInvalidArgument))
}
