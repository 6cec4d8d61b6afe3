package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	promise, f, _ := NewPromise[int](context.Background())

	go promise.Resolve(42)

	v, err := f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Result is idempotent after settling.
	v, err = f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestReject(t *testing.T) {
	promise, f, _ := NewPromise[int](context.Background())

	wantErr := errors.New("fetch failed")
	promise.Reject(wantErr)

	_, err := f.Result(context.Background())
	assert.Equal(t, wantErr, err)
}

func TestFirstSettleWins(t *testing.T) {
	promise, f, _ := NewPromise[string](context.Background())

	promise.Resolve("first")
	promise.Reject(errors.New("ignored"))
	promise.Resolve("ignored too")

	v, err := f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestResultHonorsCallerContext(t *testing.T) {
	_, f, _ := NewPromise[int](context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Result(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLastReleaseCancelsOperation(t *testing.T) {
	_, f, opCtx := NewPromise[int](context.Background())

	f.AddInterest()

	f.Release()
	select {
	case <-opCtx.Done():
		t.Fatal("operation cancelled while a waiter was still interested")
	case <-time.After(10 * time.Millisecond):
	}

	f.Release()
	select {
	case <-opCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("operation not cancelled after last release")
	}
}

func TestSettleBeatsRelease(t *testing.T) {
	promise, f, opCtx := NewPromise[int](context.Background())
	promise.Resolve(7)

	// Releasing after settle must not disturb the result.
	f.Release()

	v, err := f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Error(t, opCtx.Err())
}

func TestManyWaitersOneResult(t *testing.T) {
	promise, f, _ := NewPromise[int](context.Background())

	const waiters = 16
	var wg sync.WaitGroup
	results := make([]int, waiters)
	for i := 0; i < waiters; i++ {
		f.AddInterest()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer f.Release()
			v, err := f.Result(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	promise.Resolve(99)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 99, v)
	}
}

func TestReady(t *testing.T) {
	promise, f, _ := NewPromise[int](context.Background())
	assert.False(t, f.Ready())
	promise.Resolve(1)
	assert.True(t, f.Ready())
}
