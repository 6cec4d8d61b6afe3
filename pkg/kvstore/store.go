// Package kvstore defines the generation-aware key-value contract that every
// storage backend implements.
//
// A Store maps string keys to opaque byte values. Every stored value carries a
// Generation: an opaque version token that changes whenever the value changes.
// Writers can make writes conditional on the generation they last observed,
// which is the only concurrency primitive the chunked-array layers rely on.
package kvstore

import "context"

// Generation is an opaque version token for a stored value.
//
// The representation is backend-specific (a counter, an ETag, ...) and must be
// treated as opaque by callers. Two generations are comparable only for
// equality, and only within the same backend instance.
type Generation string

// NoGeneration is the zero Generation. In WriteOptions it means
// "unconditional".
const NoGeneration Generation = ""

// ReadResult is the outcome of a successful Get.
//
// A missing key is not an error: Missing is true and Value is nil. This lets
// callers distinguish "not written yet" (resolved with a fill value by upper
// layers) from genuine backend failures.
type ReadResult struct {
	// Value is the stored bytes. Nil when Missing.
	Value []byte

	// Generation is the version token for Value. NoGeneration when Missing.
	Generation Generation

	// Missing indicates the key does not exist.
	Missing bool
}

// WriteOptions makes a Put or Delete conditional.
//
// At most one of the conditions may be set. A conditional write that loses the
// race fails with ErrGenerationMismatch (or ErrAlreadyExists for IfNotExists),
// and has no effect.
type WriteOptions struct {
	// IfGenerationMatch requires the key's current generation to equal this
	// value. NoGeneration disables the check.
	IfGenerationMatch Generation

	// IfNotExists requires the key to be absent.
	IfNotExists bool
}

// Unconditional reports whether no precondition is set.
func (o WriteOptions) Unconditional() bool {
	return o.IfGenerationMatch == NoGeneration && !o.IfNotExists
}

// Store is a generation-aware key-value store.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// All operations respect context cancellation. Backend transport failures are
// returned unchanged; no implementation retries on behalf of the caller.
type Store interface {
	// Get returns the value and generation stored under key.
	// A missing key yields ReadResult{Missing: true} and a nil error.
	Get(ctx context.Context, key string) (ReadResult, error)

	// Put stores value under key, subject to opts, and returns the new
	// generation. A failed precondition returns ErrGenerationMismatch or
	// ErrAlreadyExists and leaves the key unchanged.
	Put(ctx context.Context, key string, value []byte, opts WriteOptions) (Generation, error)

	// Delete removes key, subject to opts. Deleting an absent key is not an
	// error unless a generation precondition is set.
	Delete(ctx context.Context, key string, opts WriteOptions) error

	// List returns all keys with the given prefix in ascending
	// lexicographical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases backend resources. Operations after Close have
	// undefined behavior.
	Close() error
}
