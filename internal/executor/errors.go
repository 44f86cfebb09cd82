package executor

import (
	"errors"
	"fmt"

	"github.com/v0xg/stepflow/internal/task"
)

// MissingFieldError is raised when a step lacks a field its action needs
type MissingFieldError struct {
	Action task.Kind
	Field  string
}

func (e *MissingFieldError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("step missing required field %q", e.Field)
	}
	return fmt.Sprintf("%s: missing required field %q", e.Action, e.Field)
}

// RetryExhaustedError is raised when retry_until runs out of attempts
type RetryExhaustedError struct {
	Selector string
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry_until failed: %s did not appear after %d attempts", e.Selector, e.Attempts)
}

// StepError records which step a fatal error came from
type StepError struct {
	Path   string
	Action task.Kind
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.Path, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// wrapStep attaches the step position unless a deeper step already did
func wrapStep(path string, action task.Kind, err error) error {
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Path: path, Action: action, Err: err}
}
