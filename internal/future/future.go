// Package future provides a small channel-backed promise/future pair used by
// the metadata and data caches to share one in-flight backend operation
// between concurrent callers.
//
// Cancellation is interest-based: every waiter holds a unit of interest on
// the future, released with Release. The context handed to the producing
// operation is cancelled only when all interest is gone before the promise
// resolves, so one caller giving up never aborts the fetch for the others.
package future

import (
	"context"
	"sync"
)

// Future is the consumer side. A Future is obtained from NewPromise (with
// one unit of interest already held) or from AddInterest on a shared
// instance.
type Future[T any] struct {
	done chan struct{}

	mu       sync.Mutex
	interest int
	cancel   context.CancelFunc

	value T
	err   error
}

// Promise is the producer side.
type Promise[T any] struct {
	f    *Future[T]
	once sync.Once
}

// NewPromise creates a linked promise/future pair. The returned context is
// derived from parent and is cancelled when either the promise resolves or
// the last interested waiter releases the future; the producing operation
// must run under it.
func NewPromise[T any](parent context.Context) (*Promise[T], *Future[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	f := &Future[T]{
		done:     make(chan struct{}),
		interest: 1,
		cancel:   cancel,
	}
	return &Promise[T]{f: f}, f, ctx
}

// Resolve completes the future with a value. Only the first Resolve or
// Reject takes effect.
func (p *Promise[T]) Resolve(value T) {
	p.once.Do(func() {
		p.f.value = value
		p.f.settle()
	})
}

// Reject completes the future with an error.
func (p *Promise[T]) Reject(err error) {
	p.once.Do(func() {
		p.f.err = err
		p.f.settle()
	})
}

func (f *Future[T]) settle() {
	close(f.done)
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		// Settled; the operation context has no further use.
		cancel()
	}
}

// AddInterest registers another waiter and returns f for chaining. Each
// AddInterest must be paired with a Release.
func (f *Future[T]) AddInterest() *Future[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interest++
	return f
}

// Release drops one unit of interest. When the last unit is released before
// the promise settles, the producing operation's context is cancelled.
func (f *Future[T]) Release() {
	f.mu.Lock()
	f.interest--
	var cancel context.CancelFunc
	if f.interest == 0 {
		cancel = f.cancel
		f.cancel = nil
	}
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result waits for the future to settle or ctx to end. A ctx error abandons
// only this caller's wait; it does not release interest.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready reports whether the future has settled, without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
