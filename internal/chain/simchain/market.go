package simchain

import (
	"maps"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// market is a lending pool over one underlying token. Balances are stored
// scaled by an interest index that grows at a simple per-second rate.
// Liquidity is unbounded: the market mints underlying it does not hold.
type market struct {
	self             common.Address
	name             string
	underlying       common.Address
	collateralFactor math.LegacyDec
	supplyAPR        math.LegacyDec
	borrowAPR        math.LegacyDec

	supplyIndex math.LegacyDec
	borrowIndex math.LegacyDec
	lastAccrual uint64

	supplied map[common.Address]math.LegacyDec
	borrowed map[common.Address]math.LegacyDec
}

func newMarket(self common.Address, name string, underlying common.Address, cf, supplyAPR, borrowAPR math.LegacyDec, now uint64) *market {
	return &market{
		self:             self,
		name:             name,
		underlying:       underlying,
		collateralFactor: cf,
		supplyAPR:        supplyAPR,
		borrowAPR:        borrowAPR,
		supplyIndex:      math.LegacyOneDec(),
		borrowIndex:      math.LegacyOneDec(),
		lastAccrual:      now,
		supplied:         make(map[common.Address]math.LegacyDec),
		borrowed:         make(map[common.Address]math.LegacyDec),
	}
}

func (m *market) clone() contract {
	out := *m
	out.supplied = maps.Clone(m.supplied)
	out.borrowed = maps.Clone(m.borrowed)
	return &out
}

func grow(index, apr math.LegacyDec, from, to uint64) math.LegacyDec {
	if to <= from || apr.IsZero() {
		return index
	}
	factor := apr.MulInt64(int64(to - from)).QuoInt64(secondsPerYear)
	return index.Mul(math.LegacyOneDec().Add(factor))
}

func (m *market) supplyIndexAt(now uint64) math.LegacyDec {
	return grow(m.supplyIndex, m.supplyAPR, m.lastAccrual, now)
}

func (m *market) borrowIndexAt(now uint64) math.LegacyDec {
	return grow(m.borrowIndex, m.borrowAPR, m.lastAccrual, now)
}

func (m *market) accrue(now uint64) {
	m.supplyIndex = m.supplyIndexAt(now)
	m.borrowIndex = m.borrowIndexAt(now)
	if now > m.lastAccrual {
		m.lastAccrual = now
	}
}

func (m *market) supplyBalance(who common.Address, now uint64) math.Int {
	scaled, ok := m.supplied[who]
	if !ok {
		return math.ZeroInt()
	}
	return scaled.Mul(m.supplyIndexAt(now)).TruncateInt()
}

func (m *market) borrowBalance(who common.Address, now uint64) math.Int {
	scaled, ok := m.borrowed[who]
	if !ok {
		return math.ZeroInt()
	}
	return scaled.Mul(m.borrowIndexAt(now)).Ceil().TruncateInt()
}

func (m *market) ensureLiquidity(tok *token, amt math.Int) {
	held := tok.balanceOf(m.self)
	if held.LT(amt) {
		tok.mint(m.self, amt.Sub(held))
	}
}

func (m *market) supply(x *execCtx, who common.Address, amt math.Int) error {
	if amt.IsZero() {
		return nil
	}
	m.accrue(x.now())
	if err := x.st.tokenAt(m.underlying).move(x, who, m.self, amt); err != nil {
		return err
	}
	add := math.LegacyNewDecFromInt(amt).Quo(m.supplyIndex)
	if cur, ok := m.supplied[who]; ok {
		add = add.Add(cur)
	}
	m.supplied[who] = add
	return nil
}

func (m *market) redeem(x *execCtx, who common.Address, amt math.Int) error {
	if amt.IsZero() {
		return nil
	}
	m.accrue(x.now())
	bal := m.supplyBalance(who, x.now())
	if amt.GT(bal) {
		return x.revert("redeem exceeds supply")
	}
	if amt.Equal(bal) {
		delete(m.supplied, who)
	} else {
		m.supplied[who] = m.supplied[who].Sub(math.LegacyNewDecFromInt(amt).Quo(m.supplyIndex))
	}
	tok := x.st.tokenAt(m.underlying)
	m.ensureLiquidity(tok, amt)
	return tok.move(x, m.self, who, amt)
}

func (m *market) borrow(x *execCtx, who common.Address, amt math.Int) error {
	if amt.IsZero() {
		return nil
	}
	m.accrue(x.now())
	tok := x.st.tokenAt(m.underlying)
	m.ensureLiquidity(tok, amt)
	if err := tok.move(x, m.self, who, amt); err != nil {
		return err
	}
	add := math.LegacyNewDecFromInt(amt).Quo(m.borrowIndex)
	if cur, ok := m.borrowed[who]; ok {
		add = add.Add(cur)
	}
	m.borrowed[who] = add
	return nil
}

// repay pays down at most the outstanding balance and returns what was paid.
func (m *market) repay(x *execCtx, who common.Address, amt math.Int) (math.Int, error) {
	m.accrue(x.now())
	owed := m.borrowBalance(who, x.now())
	pay := math.MinInt(amt, owed)
	if pay.IsZero() {
		return pay, nil
	}
	if err := x.st.tokenAt(m.underlying).move(x, who, m.self, pay); err != nil {
		return math.ZeroInt(), err
	}
	if pay.Equal(owed) {
		delete(m.borrowed, who)
	} else {
		m.borrowed[who] = m.borrowed[who].Sub(math.LegacyNewDecFromInt(pay).Quo(m.borrowIndex))
	}
	return pay, nil
}

func (m *market) exec(x *execCtx, method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{m.name}, nil
	case "underlying":
		return outAddress(m.underlying), nil
	case "collateralFactorMantissa":
		return outInt(wadFromDec(m.collateralFactor)), nil
	case "supplyBalance":
		who, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return outInt(m.supplyBalance(who, x.now())), nil
	case "borrowBalanceStored":
		who, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return outInt(m.borrowBalance(who, x.now())), nil
	}
	return nil, unknownMethod(x, "market")
}
