package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-20 handle.
type Token struct {
	*Contract
}

// NewToken binds an ERC-20 at addr.
func NewToken(b Backend, name string, addr common.Address) *Token {
	return &Token{Contract: NewContract(b, name, addr, ERC20ABI())}
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	n, err := t.CallBig(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("%s: decimals out of range: %s", t.Name, n)
	}
	return uint8(n.Uint64()), nil
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.CallBig(ctx, "balanceOf", owner)
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.CallBig(ctx, "totalSupply")
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.CallBig(ctx, "allowance", owner, spender)
}

func (t *Token) Approve(ctx context.Context, from, spender common.Address, amount *big.Int) (*Receipt, error) {
	return t.Transact(ctx, from, "approve", spender, amount)
}

func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (*Receipt, error) {
	return t.Transact(ctx, from, "transfer", to, amount)
}

// Unit returns 10^decimals, the size of one whole token.
func (t *Token) Unit(ctx context.Context) (*big.Int, error) {
	dec, err := t.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	return Pow10(dec), nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MaxUint256 returns 2^256 - 1.
func MaxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
