package simchain

import (
	"maps"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// token is an ERC-20 with an oracle price. Vault shares reuse it.
type token struct {
	self        common.Address
	name        string
	symbol      string
	decimals    uint8
	price       math.LegacyDec
	wrapsNative bool

	supply     math.Int
	balances   map[common.Address]math.Int
	allowances map[common.Address]map[common.Address]math.Int
}

func newToken(self common.Address, name, symbol string, decimals uint8, price math.LegacyDec) *token {
	return &token{
		self:       self,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		price:      price,
		supply:     math.ZeroInt(),
		balances:   make(map[common.Address]math.Int),
		allowances: make(map[common.Address]map[common.Address]math.Int),
	}
}

func (t *token) clone() contract { return t.cloneToken() }

func (t *token) cloneToken() *token {
	out := *t
	out.balances = maps.Clone(t.balances)
	out.allowances = make(map[common.Address]map[common.Address]math.Int, len(t.allowances))
	for owner, m := range t.allowances {
		out.allowances[owner] = maps.Clone(m)
	}
	return &out
}

func (t *token) balanceOf(addr common.Address) math.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return math.ZeroInt()
}

func (t *token) allowance(owner, spender common.Address) math.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return math.ZeroInt()
}

func (t *token) setBalance(addr common.Address, v math.Int) {
	if v.IsZero() {
		delete(t.balances, addr)
		return
	}
	t.balances[addr] = v
}

func (t *token) mint(to common.Address, amt math.Int) {
	t.setBalance(to, t.balanceOf(to).Add(amt))
	t.supply = t.supply.Add(amt)
}

func (t *token) burn(x *execCtx, from common.Address, amt math.Int) error {
	bal := t.balanceOf(from)
	if bal.LT(amt) {
		return x.revert("ERC20: burn amount exceeds balance")
	}
	t.setBalance(from, bal.Sub(amt))
	t.supply = t.supply.Sub(amt)
	return nil
}

func (t *token) move(x *execCtx, from, to common.Address, amt math.Int) error {
	bal := t.balanceOf(from)
	if bal.LT(amt) {
		return x.revert("ERC20: transfer amount exceeds balance")
	}
	t.setBalance(from, bal.Sub(amt))
	t.setBalance(to, t.balanceOf(to).Add(amt))
	return nil
}

// spend consumes allowance. An unlimited allowance is never decremented.
func (t *token) spend(x *execCtx, owner, spender common.Address, amt math.Int) error {
	if owner == spender {
		return nil
	}
	cur := t.allowance(owner, spender)
	if cur.Equal(maxUint256()) {
		return nil
	}
	if cur.LT(amt) {
		return x.revert("ERC20: insufficient allowance")
	}
	t.approve(owner, spender, cur.Sub(amt))
	return nil
}

func (t *token) approve(owner, spender common.Address, amt math.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]math.Int)
		t.allowances[owner] = m
	}
	m[spender] = amt
}

func (t *token) exec(x *execCtx, method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{t.name}, nil
	case "symbol":
		return []any{t.symbol}, nil
	case "decimals":
		return []any{t.decimals}, nil
	case "totalSupply":
		return outInt(t.supply), nil
	case "balanceOf":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return outInt(t.balanceOf(owner)), nil
	case "allowance":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		spender, err := argAddress(args, 1)
		if err != nil {
			return nil, err
		}
		return outInt(t.allowance(owner, spender)), nil
	}

	if err := x.requireTx(); err != nil {
		return nil, err
	}

	switch method {
	case "approve":
		spender, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		amt, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		t.approve(x.from, spender, amt)
		return outBool(true), nil
	case "transfer":
		to, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		amt, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		if err := t.move(x, x.from, to, amt); err != nil {
			return nil, err
		}
		return outBool(true), nil
	case "transferFrom":
		from, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		to, err := argAddress(args, 1)
		if err != nil {
			return nil, err
		}
		amt, err := argInt(args, 2)
		if err != nil {
			return nil, err
		}
		if err := t.spend(x, from, x.from, amt); err != nil {
			return nil, err
		}
		if err := t.move(x, from, to, amt); err != nil {
			return nil, err
		}
		return outBool(true), nil
	}
	return nil, unknownMethod(x, "token")
}
