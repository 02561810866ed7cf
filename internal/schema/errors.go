package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSequence is returned when operations are not in
	// rename, add, backfill, drop order.
	ErrInvalidSequence = errors.New("invalid migration sequence")

	// ErrInvalidOperation is returned for an operation missing required fields.
	ErrInvalidOperation = errors.New("invalid migration operation")

	// ErrPrecondition is returned when a data step starts before the
	// columns it needs exist.
	ErrPrecondition = errors.New("migration precondition failed")
)

// StepError reports the step a migration failed on. Any StepError is
// fatal to the migration.
type StepError struct {
	Migration string
	Step      int // 1-based
	Op        Operation
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s step %d (%s): %v", e.Migration, e.Step, e.Op.Describe(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
