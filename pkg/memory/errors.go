package memory

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a memory record is not found
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("memory store is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRole is returned for message roles outside system/human/ai
	ErrInvalidRole = errors.New("invalid message role")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("memstore: %v", e.Err)
	}
	return fmt.Sprintf("memstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
