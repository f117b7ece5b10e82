package saga

import (
	"errors"
	"fmt"
)

var ErrRollbackFailed = errors.New("saga: rollback failed")

// StepError reports the step that broke a chain. Compensation of the earlier
// steps has completed when it is returned.
type StepError struct {
	Chain string
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Chain, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RollbackError reports a compensation that failed. External state may be
// inconsistent and needs manual attention.
type RollbackError struct {
	Chain string
	Step  string
	Cause error
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("saga %s: rollback of step %q failed: %v (after: %v)", e.Chain, e.Step, e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	return []error{ErrRollbackFailed, e.Err, e.Cause}
}
