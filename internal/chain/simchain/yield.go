package simchain

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// yieldStrategy backs the delegated vault. It holds its want and earns a
// fixed APR on it, realized when harvested.
type yieldStrategy struct {
	self        common.Address
	vault       common.Address
	want        common.Address
	apr         math.LegacyDec
	keeper      common.Address
	lastHarvest uint64
}

func (y *yieldStrategy) clone() contract {
	out := *y
	return &out
}

func (y *yieldStrategy) vaultAddress() common.Address { return y.vault }

func (y *yieldStrategy) estimatedTotalAssets(x *execCtx) math.Int {
	return x.st.tokenAt(y.want).balanceOf(y.self)
}

func (y *yieldStrategy) withdrawToVault(x *execCtx, amount math.Int) (math.Int, error) {
	want := x.st.tokenAt(y.want)
	out := math.MinInt(amount, want.balanceOf(y.self))
	if err := want.move(x, y.self, y.vault, out); err != nil {
		return math.Int{}, err
	}
	return amount.Sub(out), nil
}

func (y *yieldStrategy) accrued(x *execCtx) math.Int {
	if x.now() <= y.lastHarvest || y.apr.IsZero() {
		return math.ZeroInt()
	}
	held := math.LegacyNewDecFromInt(y.estimatedTotalAssets(x))
	elapsed := int64(x.now() - y.lastHarvest)
	return held.Mul(y.apr).MulInt64(elapsed).QuoInt64(secondsPerYear).TruncateInt()
}

func (y *yieldStrategy) harvest(x *execCtx) error {
	v := x.st.vaultAt(y.vault)
	if x.from != y.keeper && x.from != v.governance && x.from != v.management {
		return x.revert("!authorized")
	}
	profit := y.accrued(x)
	want := x.st.tokenAt(y.want)
	if profit.IsPositive() {
		want.mint(y.self, profit)
	}
	y.lastHarvest = x.now()

	owed := v.debtOutstanding(x, y.self)
	payment := math.MinInt(owed, want.balanceOf(y.self).Sub(profit))
	_, err := v.report(x, y.self, profit, math.ZeroInt(), payment)
	return err
}

func (y *yieldStrategy) exec(x *execCtx, method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{"StrategyDelegatedYield"}, nil
	case "want":
		return outAddress(y.want), nil
	case "vault":
		return outAddress(y.vault), nil
	case "keeper":
		return outAddress(y.keeper), nil
	case "estimatedTotalAssets":
		return outInt(y.estimatedTotalAssets(x).Add(y.accrued(x))), nil
	case "harvestTrigger", "tendTrigger":
		return outBool(false), nil
	}

	if err := x.requireTx(); err != nil {
		return nil, err
	}

	switch method {
	case "harvest":
		return nil, y.harvest(x)
	case "tend":
		return nil, nil
	}
	return nil, unknownMethod(x, "yield strategy")
}
