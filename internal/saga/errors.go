package saga

import (
	"fmt"
	"time"
)

// StepTimeoutError reports a step that exceeded its execution deadline.
// It is handled identically to a step failure.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Timeout)
}

// StepExecutionError wraps the error a forward step returned.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// RollbackError reports a compensation step that itself failed. It is logged
// and counted but never surfaced as the primary result; remaining
// compensations still run.
type RollbackError struct {
	Step string
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of step %q failed: %v", e.Step, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// ValidationError reports a precondition that failed before any mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
