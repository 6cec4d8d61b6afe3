package kvstore

// StoreError represents a domain error from key-value store operations.
//
// These are business logic errors (key not found, generation mismatch, ...)
// as opposed to infrastructure errors (network failure, disk error), which
// are wrapped with code ErrIO or ErrUnavailable so callers can still branch
// on the category.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key is the storage key related to the error (if applicable)
	Key string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg += ": " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested key doesn't exist where existence
	// was required
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an IfNotExists write found the key present
	ErrAlreadyExists

	// ErrGenerationMismatch indicates a conditional write lost the race:
	// the key's current generation differs from IfGenerationMatch
	ErrGenerationMismatch

	// ErrInvalidArgument indicates invalid parameters (empty key,
	// conflicting write options, malformed configuration)
	ErrInvalidArgument

	// ErrIO indicates an error reading or writing the backing storage
	ErrIO

	// ErrUnavailable indicates the backend cannot be reached (connection
	// refused, closed store)
	ErrUnavailable
)

// NewError creates a StoreError with the given code, message and key.
func NewError(code ErrorCode, message, key string) *StoreError {
	return &StoreError{Code: code, Message: message, Key: key}
}

// WrapError creates a StoreError wrapping an underlying cause.
func WrapError(code ErrorCode, message, key string, err error) *StoreError {
	return &StoreError{Code: code, Message: message, Key: key, Err: err}
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*StoreError); ok {
			return se.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
