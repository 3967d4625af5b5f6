package ann

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrIndexClosed is returned when trying to use a closed index
	ErrIndexClosed = errors.New("index is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid index configuration")

	// ErrCorruptSidecar is returned when the mapping sidecar disagrees with
	// the graph file. Recovery is a full rebuild from the vector store.
	ErrCorruptSidecar = errors.New("index sidecar inconsistent with graph")
)

// IndexError wraps errors with operation context
type IndexError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("annindex: %v", e.Err)
	}
	return fmt.Sprintf("annindex: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *IndexError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IndexError{Op: op, Err: err}
}
