// Package oracle decides whether observed chain values are acceptable.
//
// Values drift by interest accrued per second and by integer rounding
// inside the contracts, so most checks are relative-tolerance comparisons.
// Exact comparisons exist for values that are deterministic, such as a
// balance right after a transfer.
package oracle

import (
	"fmt"
	"math/big"
	"strings"

	"cosmossdk.io/math"

	"github.com/roach88/vaultharness/internal/chain"
)

// DefaultRelativeTolerance is 1e-5.
var DefaultRelativeTolerance = math.LegacyNewDecWithPrec(1, 5)

// decScale is the fixed-point scale of a LegacyDec.
var decScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(math.LegacyPrecision), nil)

// Approx fails with *ToleranceExceededError iff
// |actual-expected| > rel*|expected|.
func Approx(actual, expected *big.Int, rel math.LegacyDec) error {
	if rel.IsNegative() {
		return fmt.Errorf("negative tolerance %s", rel)
	}
	diff := new(big.Int).Sub(actual, expected)
	diff.Abs(diff)
	// Compare diff*10^18 with rel's raw value times |expected| so values
	// past math.Int's 256 bits are still judged, not rejected.
	scaled := new(big.Int).Mul(diff, decScale)
	bound := new(big.Int).Mul(rel.BigInt(), new(big.Int).Abs(expected))
	if scaled.Cmp(bound) > 0 {
		return &ToleranceExceededError{
			Actual:    new(big.Int).Set(actual),
			Expected:  new(big.Int).Set(expected),
			Tolerance: rel,
			Diff:      diff,
		}
	}
	return nil
}

// Equal fails with *MismatchError unless actual == expected.
func Equal(actual, expected *big.Int) error {
	if actual.Cmp(expected) != 0 {
		return &MismatchError{Op: "==", Actual: actual, Expected: expected}
	}
	return nil
}

// Greater fails with *MismatchError unless actual > bound.
func Greater(actual, bound *big.Int) error {
	if actual.Cmp(bound) <= 0 {
		return &MismatchError{Op: ">", Actual: actual, Expected: bound}
	}
	return nil
}

// Less fails with *MismatchError unless actual < bound.
func Less(actual, bound *big.Int) error {
	if actual.Cmp(bound) >= 0 {
		return &MismatchError{Op: "<", Actual: actual, Expected: bound}
	}
	return nil
}

// ExpectRevert checks the outcome of a call that should revert with reason.
// Success or a different reason yields *UnexpectedOutcomeError. An error
// that is not a revert at all is returned wrapped, since it says nothing
// about the contract.
func ExpectRevert(err error, reason string) error {
	if err == nil {
		return &UnexpectedOutcomeError{Expected: reason, Succeeded: true}
	}
	got, ok := chain.RevertReason(err)
	if !ok {
		return fmt.Errorf("expected revert %q: %w", reason, err)
	}
	if got != reason {
		return &UnexpectedOutcomeError{Expected: reason, Actual: got}
	}
	return nil
}

// ParseTolerance reads a relative tolerance written as a decimal ("0.001"),
// in scientific notation ("1e-5") or as a percentage ("0.1%").
func ParseTolerance(s string) (math.LegacyDec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.LegacyDec{}, fmt.Errorf("empty tolerance")
	}

	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")

	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("parse tolerance %q: %w", s, err)
	}
	if f.Sign() < 0 {
		return math.LegacyDec{}, fmt.Errorf("tolerance %q is negative", s)
	}
	d, err := math.LegacyNewDecFromStr(f.Text('f', math.LegacyPrecision))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("parse tolerance %q: %w", s, err)
	}
	if percent {
		d = d.QuoInt64(100)
	}
	return d, nil
}
