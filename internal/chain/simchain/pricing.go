package simchain

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// usd values amt of t in 1e18-scaled dollars at the oracle price.
func usd(t *token, amt math.Int) math.Int {
	if amt.IsZero() {
		return amt
	}
	return amt.Mul(wadFromDec(t.price)).Quo(pow10(t.decimals))
}

// fromUSD is the inverse of usd, rounding down.
func fromUSD(t *token, value math.Int) math.Int {
	price := wadFromDec(t.price)
	if value.IsZero() || price.IsZero() {
		return math.ZeroInt()
	}
	return value.Mul(pow10(t.decimals)).Quo(price)
}

// swap trades at the oracle price with no fee or slippage: amountIn of from
// is burned from who and the equivalent of to is minted.
func swap(x *execCtx, who, from, to common.Address, amountIn math.Int) (math.Int, error) {
	if amountIn.IsZero() {
		return amountIn, nil
	}
	in := x.st.tokenAt(from)
	out := x.st.tokenAt(to)
	got := fromUSD(out, usd(in, amountIn))
	if err := in.burn(x, who, amountIn); err != nil {
		return math.Int{}, err
	}
	out.mint(who, got)
	return got, nil
}
