package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidKey          = errors.New("invalid or expired activation key")
	ErrDeviceLimitExceeded = errors.New("device limit reached for this key")
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrServiceUnavailable  = errors.New("service temporarily unavailable")
)

// StoreError wraps a persistence failure. Its message is for logs only; the
// HTTP layer replaces it with a generic one.
type StoreError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("activation store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets callers treat a timed-out store call as ErrServiceUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrServiceUnavailable && e.Retryable
}

func newStoreError(op string, err error, callCtx context.Context) *StoreError {
	retryable := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(callCtx.Err(), context.DeadlineExceeded)
	return &StoreError{Op: op, Err: err, Retryable: retryable}
}

func outcomeOf(err error) string {
	var storeErr *StoreError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.As(err, &storeErr):
		return "store_error"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrDeviceLimitExceeded):
		return "device_limit"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
