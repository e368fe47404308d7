package harness

import (
	"errors"
	"fmt"
)

// StepError is returned by Run when a step aborts the scenario.
//
// Abort causes:
//   - Unexpected revert: a step reverted without expect.revert
//   - Backend failure: the node rejected or failed the request
//   - Bad expression: an expression did not parse or evaluate
//   - Provisioning: the fixture could not be loaded or set up
//   - Run log: the attached store failed
//
// Err is the underlying cause; a revert unwraps to *chain.RevertError.
type StepError struct {
	// Code identifies the error category.
	Code StepErrorCode

	// Phase is setup or flow. Empty for provisioning errors.
	Phase string

	// Index is the step's position within its phase.
	Index int

	// Action is the step's action, e.g. "strategy.harvest".
	Action string

	Err error
}

// StepErrorCode categorizes abort causes.
type StepErrorCode string

const (
	// ErrCodeUnexpectedRevert indicates a revert the step did not expect.
	ErrCodeUnexpectedRevert StepErrorCode = "UNEXPECTED_REVERT"

	// ErrCodeBackend indicates a transport or node error.
	ErrCodeBackend StepErrorCode = "BACKEND"

	// ErrCodeEval indicates an expression or binding error.
	ErrCodeEval StepErrorCode = "EVAL"

	// ErrCodeProvision indicates the environment could not be set up.
	ErrCodeProvision StepErrorCode = "PROVISION"

	// ErrCodeRunLog indicates the run log rejected a write.
	ErrCodeRunLog StepErrorCode = "RUN_LOG"
)

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s[%d] %s: %v", e.Code, e.Phase, e.Index, e.Action, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }

// IsUnexpectedRevert reports whether err is an abort caused by a revert.
// Uses errors.As to handle wrapped errors.
func IsUnexpectedRevert(err error) bool {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnexpectedRevert
	}
	return false
}
