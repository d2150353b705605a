package pipeline

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("pipeline: invalid config")

// PhaseError records which phase of which step failed on which rank. Any
// PhaseError aborts the run.
type PhaseError struct {
	Phase string
	Rank  int
	Step  int
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s (rank %d, step %d): %v", e.Phase, e.Rank, e.Step, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
