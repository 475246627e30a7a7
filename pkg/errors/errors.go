// Package errors defines the failure taxonomy shared by the indexing core.
// Pipelines never surface these to their callers; they classify a failure
// at the narrowest scope, log it, and continue.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrStoreIO          = errors.New("store i/o failure")
	ErrParseFailure     = errors.New("parse failure")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDisconnected     = errors.New("store disconnected")
)

// StoreError ties a sentinel to the store and operation that produced it.
type StoreError struct {
	Err   error
	Store string
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s: %s", e.Store, e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Store, e.Op, e.Err.Error(), e.Cause)
}

// Is matches both the sentinel and the underlying cause.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func New(sentinel error, store, op string, cause error) *StoreError {
	return &StoreError{
		Err:   sentinel,
		Store: store,
		Op:    op,
		Cause: cause,
	}
}

// Kind maps an error to a short label used in logs and metric series.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrParseFailure):
		return "parse_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreIO):
		return "store_io"
	default:
		return "unknown"
	}
}

// Is and As re-export the standard helpers so callers importing this package
// under its default name do not need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
