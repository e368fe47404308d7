package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrSenderLocked is returned when a transaction is sent from an account
// that is neither unlocked nor impersonated.
var ErrSenderLocked = errors.New("sender account is not unlocked")

// ErrUnknownMethod is returned when a method name and arity do not match
// anything in the contract ABI.
var ErrUnknownMethod = errors.New("method not in ABI")

// ErrNoCode is returned when a call targets an address without contract code.
var ErrNoCode = errors.New("no contract code")

// RevertError reports a call or transaction rejected by contract logic.
// Reason is the decoded Error(string) payload, empty when the contract
// reverted without one.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: execution reverted", e.Method)
	}
	return fmt.Sprintf("%s: execution reverted: %s", e.Method, e.Reason)
}

// IsRevert reports whether err is, or wraps, a *RevertError.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}

// RevertReason extracts the revert reason from err.
func RevertReason(err error) (string, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

const revertPrefix = "execution reverted"

// revertFromRPC converts a node error into *RevertError when the node says
// the call reverted. Other errors are returned unchanged.
func revertFromRPC(method string, err error) error {
	if err == nil {
		return nil
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return &RevertError{Method: method, Reason: reason}
				}
				return &RevertError{Method: method}
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return err
	}
	reason := strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	reason = strings.TrimSpace(reason)
	// hardhat wraps the reason: "reverted with reason string '!want'"
	if i := strings.Index(reason, "reason string '"); i >= 0 {
		reason = strings.TrimSuffix(reason[i+len("reason string '"):], "'")
	}
	return &RevertError{Method: method, Reason: reason}
}
