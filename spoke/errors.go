package spoke

import (
	"errors"
	"fmt"

	"github.com/qanchornet/qanchor/shared"
)

var (
	ErrUnauthorized   = errors.New("caller is not authorized")
	ErrPaused         = errors.New("spoke is paused")
	ErrNotPaused      = errors.New("spoke is not paused")
	ErrReasonRequired = errors.New("a reason is required")
	ErrEmptyBatch     = errors.New("batch is empty")
	ErrBatchTooLarge  = errors.New("batch exceeds the size cap")
	ErrBatchCompleted = errors.New("batch id already completed")
	ErrUnknownBatch   = errors.New("unknown batch")
)

type BatchTooLargeError struct {
	Size int
	Max  int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d items, cap %d", ErrBatchTooLarge, e.Size, e.Max)
}

func (e *BatchTooLargeError) Unwrap() error { return ErrBatchTooLarge }

// BatchCompletedError rejects reuse of a completed batch id. Completion is
// tracked per id, not per content; Root names what the id committed to.
type BatchCompletedError struct {
	ID   shared.BatchID
	Root []byte
}

func (e *BatchCompletedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBatchCompleted, e.ID)
}

func (e *BatchCompletedError) Unwrap() error { return ErrBatchCompleted }
