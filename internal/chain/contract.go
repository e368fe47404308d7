package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract is an address plus the ABI used to talk to it.
type Contract struct {
	Name    string
	Address common.Address
	ABI     *abi.ABI
	backend Backend
}

// NewContract binds a to addr on b.
func NewContract(b Backend, name string, addr common.Address, a *abi.ABI) *Contract {
	return &Contract{Name: name, Address: addr, ABI: a, backend: b}
}

// Backend returns the chain the contract lives on.
func (c *Contract) Backend() Backend { return c.backend }

// Call runs a read-only method.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, err := ResolveMethod(c.ABI, method, len(args)); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	return c.backend.Call(ctx, CallMsg{To: c.Address, ABI: c.ABI, Method: method, Args: args})
}

// Transact sends a state-changing method from the given account.
func (c *Contract) Transact(ctx context.Context, from common.Address, method string, args ...any) (*Receipt, error) {
	if _, err := ResolveMethod(c.ABI, method, len(args)); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	return c.backend.Transact(ctx, CallMsg{From: from, To: c.Address, ABI: c.ABI, Method: method, Args: args})
}

// CallBig runs a view returning a single integer.
func (c *Contract) CallBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return firstBig(c.Name+"."+method, out)
}

// CallAddress runs a view returning a single address.
func (c *Contract) CallAddress(ctx context.Context, method string, args ...any) (common.Address, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("%s.%s: no output", c.Name, method)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s.%s: output is %T, not address", c.Name, method, out[0])
	}
	return addr, nil
}

// CallBool runs a view returning a single bool.
func (c *Contract) CallBool(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("%s.%s: no output", c.Name, method)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s.%s: output is %T, not bool", c.Name, method, out[0])
	}
	return v, nil
}

func firstBig(label string, out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no output", label)
	}
	n, err := ToBig(out[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return n, nil
}

// ToBig converts an ABI-decoded integer to *big.Int.
func ToBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	default:
		return nil, fmt.Errorf("output is %T, not an integer", v)
	}
}
