package oracle

import (
	"fmt"
	"math/big"

	"cosmossdk.io/math"
)

// ToleranceExceededError reports an approximate comparison that failed.
type ToleranceExceededError struct {
	Actual    *big.Int
	Expected  *big.Int
	Tolerance math.LegacyDec
	Diff      *big.Int
}

func (e *ToleranceExceededError) Error() string {
	return fmt.Sprintf("got %s, want %s within %s (off by %s)",
		e.Actual, e.Expected, e.Tolerance, e.Diff)
}

// MismatchError reports an exact comparison that failed.
type MismatchError struct {
	Op       string
	Actual   *big.Int
	Expected *big.Int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("expected %s %s %s", e.Actual, e.Op, e.Expected)
}

// UnexpectedOutcomeError reports a call that was expected to revert but
// succeeded or reverted for a different reason.
type UnexpectedOutcomeError struct {
	Expected  string
	Actual    string
	Succeeded bool
}

func (e *UnexpectedOutcomeError) Error() string {
	if e.Succeeded {
		return fmt.Sprintf("expected revert %q, call succeeded", e.Expected)
	}
	return fmt.Sprintf("expected revert %q, got %q", e.Expected, e.Actual)
}
