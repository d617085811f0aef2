package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResolutionFailed  = errors.New("resolution failed")
	ErrSyncBatchFailed   = errors.New("sync batch failed")
	ErrSyncIncomplete    = errors.New("sync incomplete")
	ErrNoRecommendations = errors.New("no recommendations found")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// OpError ties a failure to the operation and item it happened on.
type OpError struct {
	Op   string
	Item string
	Err  error
}

func (e *OpError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError wraps err so that errors.Is matches both kind and err.
func NewOpError(op, item string, kind, err error) *OpError {
	if err == nil {
		return &OpError{Op: op, Item: item, Err: kind}
	}
	return &OpError{Op: op, Item: item, Err: fmt.Errorf("%w: %w", kind, err)}
}
