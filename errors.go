package buffertree

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is returned when an engine, sink or stack is built
	// with unusable sizes.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCapacityExceeded means a slot was pushed onto a full IndexStack.
	// It signals a mis-sized buffer pool and is not recoverable.
	ErrCapacityExceeded = errors.New("index stack capacity exceeded")

	// ErrUnderflow means a slot was requested from an empty IndexStack.
	ErrUnderflow = errors.New("index stack underflow")

	// ErrBufferFull is returned when pushing into a full Buffer.
	ErrBufferFull = errors.New("buffer full")

	// ErrInvalidQuery is returned for out of range probabilities or
	// queries against an engine holding no data.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrFinalized is returned for input after Finalize.
	ErrFinalized = errors.New("Finalize() already called")

	// ErrNotFinalized is returned by operations that need a final summary.
	ErrNotFinalized = errors.New("Finalize() must be called first")
)

// IsFatal reports whether err is a resource exhaustion error, which
// leaves an Engine unusable.
func IsFatal(err error) bool {
	switch errors.Cause(err) {
	case ErrCapacityExceeded, ErrUnderflow:
		return true
	}
	return false
}
