package pool

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrPoolNotFound is returned when the named pool has not been created
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists is returned when creating a pool under an existing name
	ErrPoolExists = errors.New("pool already exists")

	// ErrInvalidConfig is returned when pool configuration is invalid
	ErrInvalidConfig = errors.New("invalid pool configuration")

	// ErrManagerClosed is returned when trying to use a closed manager
	ErrManagerClosed = errors.New("pool manager is closed")
)

// PoolError wraps errors with operation context
type PoolError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *PoolError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("pool: %v", e.Err)
	}
	return fmt.Sprintf("pool: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *PoolError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *PoolError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PoolError{Op: op, Err: err}
}
