package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a programming or configuration error that no
	// fallback can recover from (e.g. a hash embedder with zero dimensions).
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation marks invalid caller input, such as an empty query.
	ErrValidation = errors.New("validation error")

	// ErrStore marks an unreachable or corrupt collection store.
	ErrStore = errors.New("store failure")

	// ErrDimensionMismatch is returned when a vector does not match the fixed
	// dimensionality of a collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnknownProvider is returned for an embedding provider name outside
	// the supported set.
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// ProviderError wraps a failure from one embedding backend.
type ProviderError struct {
	// Provider is the backend name that failed.
	Provider string
	// Model is the model the backend was asked to use.
	Model string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("embedding provider %s (model %s): %v", e.Provider, e.Model, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ProviderError) Unwrap() error { return e.Err }

// storeError tags err as a store failure while keeping it inspectable.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return e.op + ": " + e.err.Error() }

func (e *storeError) Unwrap() []error { return []error{ErrStore, e.err} }

// StoreError wraps err so errors.Is(err, ErrStore) holds. A nil err yields nil.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: op, err: err}
}
