package pipeline

import (
	"errors"
	"fmt"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
)

// StageExecutionError wraps an error thrown by a stage's Execute. The
// pipeline transitions to failed and does not retry automatically;
// resumption is a caller-initiated Advance or Rerun.
type StageExecutionError struct {
	StageID string
	Err     error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.StageID, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// IsResourceExhausted reports whether err carries resource exhaustion
// from an oversized-collection traversal. Callers use this to
// distinguish "needs batching" from a business-logic failure.
func IsResourceExhausted(err error) bool {
	return batch.IsResourceExhausted(err)
}

// ErrStageNotFound is returned by Rerun for an unknown stage id.
var ErrStageNotFound = errors.New("stage not found")

// ErrCancelled is returned when the cooperative cancellation flag stops
// the pipeline before the next stage starts.
var ErrCancelled = errors.New("pipeline cancelled")
