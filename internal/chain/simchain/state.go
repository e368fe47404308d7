package simchain

import (
	"fmt"
	"maps"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultharness/internal/chain"
)

// secondsPerYear is the interest accrual basis.
const secondsPerYear = 31_536_000

// contract is a simulated contract. exec dispatches one call; clone returns
// an independent copy for transaction isolation.
type contract interface {
	exec(x *execCtx, method string, args []any) ([]any, error)
	clone() contract
}

type state struct {
	now       uint64
	block     uint64
	native    map[common.Address]math.Int
	nonces    map[common.Address]uint64
	contracts map[common.Address]contract
}

func newState(now uint64) *state {
	return &state{
		now:       now,
		block:     1,
		native:    make(map[common.Address]math.Int),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]contract),
	}
}

func (s *state) clone() *state {
	out := &state{
		now:       s.now,
		block:     s.block,
		native:    maps.Clone(s.native),
		nonces:    maps.Clone(s.nonces),
		contracts: make(map[common.Address]contract, len(s.contracts)),
	}
	for addr, c := range s.contracts {
		out.contracts[addr] = c.clone()
	}
	return out
}

func (s *state) nativeBalance(addr common.Address) math.Int {
	if b, ok := s.native[addr]; ok {
		return b
	}
	return math.ZeroInt()
}

// Lookups panic on a wrong kind; exec recovers them into reverts. Callers
// that accept user-supplied addresses check the kind first.

func (s *state) tokenAt(addr common.Address) *token {
	switch c := s.contracts[addr].(type) {
	case *token:
		return c
	case *vault:
		return c.shares
	}
	panic(fmt.Sprintf("no token at %s", addr.Hex()))
}

func (s *state) vaultAt(addr common.Address) *vault {
	if v, ok := s.contracts[addr].(*vault); ok {
		return v
	}
	panic(fmt.Sprintf("no vault at %s", addr.Hex()))
}

func (s *state) marketAt(addr common.Address) *market {
	if m, ok := s.contracts[addr].(*market); ok {
		return m
	}
	panic(fmt.Sprintf("no market at %s", addr.Hex()))
}

// execCtx is one call frame: the sender, the contract being called and
// whether state changes are allowed.
type execCtx struct {
	st     *state
	from   common.Address
	self   common.Address
	method string
	view   bool
}

func (x *execCtx) now() uint64 { return x.st.now }

func (x *execCtx) revert(reason string) error {
	return &chain.RevertError{Method: x.method, Reason: reason}
}

func (x *execCtx) requireTx() error {
	if x.view {
		return fmt.Errorf("%s is not a view", x.method)
	}
	return nil
}

// call runs exec and converts a panic into a revert, the way a Solidity
// panic aborts a transaction.
func call(c contract, x *execCtx, method string, args []any) (out []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &chain.RevertError{Method: method, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return c.exec(x, method, args)
}

// Argument decoding. Arity is checked against the ABI before dispatch.

func argInt(args []any, i int) (math.Int, error) {
	switch v := args[i].(type) {
	case *big.Int:
		if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
			return math.Int{}, fmt.Errorf("argument %d: not a uint256", i)
		}
		return math.NewIntFromBigInt(v), nil
	case math.Int:
		return v, nil
	case int:
		return math.NewInt(int64(v)), nil
	case int64:
		return math.NewInt(v), nil
	case uint64:
		return math.NewIntFromUint64(v), nil
	default:
		return math.Int{}, fmt.Errorf("argument %d: %T is not an integer", i, args[i])
	}
}

func argAddress(args []any, i int) (common.Address, error) {
	switch v := args[i].(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("argument %d: %T is not an address", i, args[i])
	}
}

func argString(args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: %T is not a string", i, args[i])
	}
	return s, nil
}

func outInt(v math.Int) []any           { return []any{v.BigInt()} }
func outAddress(a common.Address) []any { return []any{a} }
func outBool(b bool) []any              { return []any{b} }

func unknownMethod(x *execCtx, kind string) error {
	return fmt.Errorf("%w: %s has no method %s", chain.ErrUnknownMethod, kind, x.method)
}

// maxUint256 is the "unlimited" sentinel for allowances and limits.
func maxUint256() math.Int {
	return math.NewIntFromBigInt(chain.MaxUint256())
}

func pow10(n uint8) math.Int {
	return math.NewIntFromBigInt(chain.Pow10(n))
}

// decFromWad reads a 1e18-scaled integer as a decimal.
func decFromWad(v math.Int) math.LegacyDec {
	return math.LegacyNewDecFromBigIntWithPrec(v.BigInt(), math.LegacyPrecision)
}

// wadFromDec is the inverse of decFromWad.
func wadFromDec(d math.LegacyDec) math.Int {
	return math.NewIntFromBigInt(d.BigInt())
}
