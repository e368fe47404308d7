package simchain

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultMaxReportDelay = 30 * 24 * 60 * 60
	harvestProfitFactor   = 100
	// tendTrigger fires when the borrow drifts more than 1% from target.
	tendBandDivisor = 100
)

var (
	minTargetCollateralFactor     = math.LegacyNewDecWithPrec(5, 2)
	defaultTargetCollateralFactor = math.LegacyNewDecWithPrec(5, 1)
)

// lendingStrategy supplies want as collateral, borrows a second asset up
// to a limit and parks the borrowed asset in a delegated vault. Profit is
// the delegated yield above the borrow cost plus supply interest.
type lendingStrategy struct {
	self  common.Address
	vault common.Address

	want     common.Address
	borrowed common.Address
	reward   common.Address
	weth     common.Address

	cWant     common.Address
	cBorrowed common.Address
	cReward   common.Address
	cSupplied common.Address
	delegated common.Address

	strategist common.Address
	keeper     common.Address

	borrowLimit    math.Int
	targetCF       math.LegacyDec
	emergencyExit  bool
	maxReportDelay uint64
}

// newLendingStrategy validates the constructor arguments the way the
// contract does: each market must exist, cWant must lend the vault's want
// and the delegated vault must accept the borrowed asset. weth and its
// market are fixed by the chain.
func newLendingStrategy(x *execCtx, self, weth, cSupplied common.Address, args []any) (*lendingStrategy, error) {
	addrs := make([]common.Address, 5)
	for i := range addrs {
		a, err := argAddress(args, i)
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}
	vaultAddr, cWant, cBorrowed, cReward, delegated := addrs[0], addrs[1], addrs[2], addrs[3], addrs[4]

	v, ok := x.st.contracts[vaultAddr].(*vault)
	if !ok || !v.initialized {
		return nil, x.revert("!vault")
	}
	markets := make(map[common.Address]*market, 4)
	for _, addr := range []common.Address{cWant, cBorrowed, cReward, cSupplied} {
		m, ok := x.st.contracts[addr].(*market)
		if !ok {
			return nil, x.revert("!market")
		}
		markets[addr] = m
	}
	if markets[cWant].underlying != v.want {
		return nil, x.revert("!cWant")
	}
	dv, ok := x.st.contracts[delegated].(*vault)
	if !ok || dv.want != markets[cBorrowed].underlying {
		return nil, x.revert("!delegated")
	}

	return &lendingStrategy{
		self:           self,
		vault:          vaultAddr,
		want:           v.want,
		borrowed:       markets[cBorrowed].underlying,
		reward:         markets[cReward].underlying,
		weth:           weth,
		cWant:          cWant,
		cBorrowed:      cBorrowed,
		cReward:        cReward,
		cSupplied:      cSupplied,
		delegated:      delegated,
		strategist:     x.from,
		keeper:         x.from,
		borrowLimit:    math.ZeroInt(),
		targetCF:       defaultTargetCollateralFactor,
		maxReportDelay: defaultMaxReportDelay,
	}, nil
}

func (s *lendingStrategy) clone() contract {
	out := *s
	return &out
}

func (s *lendingStrategy) vaultAddress() common.Address { return s.vault }

func (s *lendingStrategy) v(x *execCtx) *vault { return x.st.vaultAt(s.vault) }

func (s *lendingStrategy) governance(x *execCtx) common.Address { return s.v(x).governance }

// Positions.

func (s *lendingStrategy) wantBalance(x *execCtx) math.Int {
	return x.st.tokenAt(s.want).balanceOf(s.self)
}

func (s *lendingStrategy) supplied(x *execCtx) math.Int {
	return x.st.marketAt(s.cWant).supplyBalance(s.self, x.now())
}

func (s *lendingStrategy) owed(x *execCtx) math.Int {
	return x.st.marketAt(s.cBorrowed).borrowBalance(s.self, x.now())
}

// delegatedHoldings is the borrowed asset held directly plus the value of
// the delegated vault shares.
func (s *lendingStrategy) delegatedHoldings(x *execCtx) math.Int {
	dv := x.st.vaultAt(s.delegated)
	held := x.st.tokenAt(s.borrowed).balanceOf(s.self)
	return held.Add(dv.shareValue(x, dv.shares.balanceOf(s.self)))
}

// Views in 1e18 dollars.

func (s *lendingStrategy) valueOfDelegated(x *execCtx) math.Int {
	return usd(x.st.tokenAt(s.borrowed), s.delegatedHoldings(x))
}

func (s *lendingStrategy) valueOfBorrowedOwed(x *execCtx) math.Int {
	return usd(x.st.tokenAt(s.borrowed), s.owed(x))
}

func (s *lendingStrategy) valueOfCSupplied(x *execCtx) math.Int {
	m := x.st.marketAt(s.cSupplied)
	return usd(x.st.tokenAt(m.underlying), m.supplyBalance(s.self, x.now()))
}

func (s *lendingStrategy) valueOfxInv(x *execCtx) math.Int {
	m := x.st.marketAt(s.cReward)
	return usd(x.st.tokenAt(m.underlying), m.supplyBalance(s.self, x.now()))
}

func (s *lendingStrategy) collateralValue(x *execCtx, wantCollateral math.Int) math.Int {
	return usd(x.st.tokenAt(s.want), wantCollateral).
		Add(s.valueOfCSupplied(x)).
		Add(s.valueOfxInv(x))
}

func (s *lendingStrategy) delegatedAssets(x *execCtx) math.Int {
	return fromUSD(x.st.tokenAt(s.want), s.valueOfDelegated(x))
}

func (s *lendingStrategy) estimatedTotalAssets(x *execCtx) math.Int {
	want := x.st.tokenAt(s.want)
	total := s.wantBalance(x).Add(s.supplied(x)).Add(s.delegatedAssets(x))
	debt := fromUSD(want, s.valueOfBorrowedOwed(x))
	if debt.GT(total) {
		return math.ZeroInt()
	}
	return total.Sub(debt)
}

// targetBorrow is the borrow the position should carry with wantCollateral
// supplied: the lower of the borrow limit and the target collateral factor.
func (s *lendingStrategy) targetBorrow(x *execCtx, wantCollateral math.Int) math.Int {
	if s.emergencyExit {
		return math.ZeroInt()
	}
	capacity := math.LegacyNewDecFromInt(s.collateralValue(x, wantCollateral)).Mul(s.targetCF).TruncateInt()
	return math.MinInt(s.borrowLimit, fromUSD(x.st.tokenAt(s.borrowed), capacity))
}

// Position management.

func (s *lendingStrategy) rebalance(x *execCtx, wantCollateral math.Int) error {
	target := s.targetBorrow(x, wantCollateral)
	cur := s.owed(x)
	switch {
	case target.GT(cur):
		amt := target.Sub(cur)
		if err := x.st.marketAt(s.cBorrowed).borrow(x, s.self, amt); err != nil {
			return err
		}
		return x.st.vaultAt(s.delegated).depositFrom(x, s.self, amt)
	case target.LT(cur):
		return s.repay(x, cur.Sub(target))
	}
	return nil
}

func (s *lendingStrategy) withdrawDelegated(x *execCtx, amt math.Int) error {
	dv := x.st.vaultAt(s.delegated)
	owned := dv.shares.balanceOf(s.self)
	shares := math.MinInt(dv.sharesForAmountCeil(x, amt), owned)
	if shares.IsZero() {
		return nil
	}
	_, err := dv.redeem(x, s.self, shares)
	return err
}

// repay pays down amt of the borrow, pulling from the delegated vault and,
// if that falls short, selling want.
func (s *lendingStrategy) repay(x *execCtx, amt math.Int) error {
	borrowed := x.st.tokenAt(s.borrowed)
	if have := borrowed.balanceOf(s.self); have.LT(amt) {
		if err := s.withdrawDelegated(x, amt.Sub(have)); err != nil {
			return err
		}
	}
	if have := borrowed.balanceOf(s.self); have.LT(amt) {
		want := x.st.tokenAt(s.want)
		need := fromUSD(want, usd(borrowed, amt.Sub(have))).AddRaw(1)
		if bal := s.wantBalance(x); bal.LT(need) {
			redeem := math.MinInt(need.Sub(bal), s.supplied(x))
			if err := x.st.marketAt(s.cWant).redeem(x, s.self, redeem); err != nil {
				return err
			}
		}
		if _, err := swap(x, s.self, s.want, s.borrowed, math.MinInt(need, s.wantBalance(x))); err != nil {
			return err
		}
	}
	_, err := x.st.marketAt(s.cBorrowed).repay(x, s.self, math.MinInt(amt, borrowed.balanceOf(s.self)))
	return err
}

func (s *lendingStrategy) adjustPosition(x *execCtx, debtOutstanding math.Int) error {
	if s.emergencyExit {
		return nil
	}
	if bal := s.wantBalance(x); bal.GT(debtOutstanding) {
		if err := x.st.marketAt(s.cWant).supply(x, s.self, bal.Sub(debtOutstanding)); err != nil {
			return err
		}
	}
	return s.rebalance(x, s.supplied(x))
}

// liquidatePosition frees up to need want, deleveraging first so the
// remaining collateral still covers the borrow.
func (s *lendingStrategy) liquidatePosition(x *execCtx, need math.Int) (math.Int, math.Int, error) {
	if bal := s.wantBalance(x); bal.GTE(need) {
		return need, math.ZeroInt(), nil
	}
	supplied := s.supplied(x)
	redeem := math.MinInt(need.Sub(s.wantBalance(x)), supplied)
	target := s.targetBorrow(x, supplied.Sub(redeem))
	if owed := s.owed(x); owed.GT(target) {
		if err := s.repay(x, owed.Sub(target)); err != nil {
			return math.Int{}, math.Int{}, err
		}
	}

	if bal := s.wantBalance(x); bal.LT(need) {
		redeem = math.MinInt(need.Sub(bal), s.supplied(x))
		if err := x.st.marketAt(s.cWant).redeem(x, s.self, redeem); err != nil {
			return math.Int{}, math.Int{}, err
		}
	}

	bal := s.wantBalance(x)
	if bal.GTE(need) {
		return need, math.ZeroInt(), nil
	}
	return bal, need.Sub(bal), nil
}

// liquidateAll unwinds every position into want.
func (s *lendingStrategy) liquidateAll(x *execCtx) (math.Int, error) {
	if owed := s.owed(x); owed.IsPositive() {
		if err := s.repay(x, owed); err != nil {
			return math.Int{}, err
		}
	}
	dv := x.st.vaultAt(s.delegated)
	if shares := dv.shares.balanceOf(s.self); shares.IsPositive() {
		if _, err := dv.redeem(x, s.self, shares); err != nil {
			return math.Int{}, err
		}
	}
	if left := x.st.tokenAt(s.borrowed).balanceOf(s.self); left.IsPositive() {
		if _, err := swap(x, s.self, s.borrowed, s.want, left); err != nil {
			return math.Int{}, err
		}
	}
	if err := x.st.marketAt(s.cWant).redeem(x, s.self, s.supplied(x)); err != nil {
		return math.Int{}, err
	}
	return s.wantBalance(x), nil
}

// realizeDelegatedProfit sells delegated holdings above the debt for want.
func (s *lendingStrategy) realizeDelegatedProfit(x *execCtx) error {
	holdings := s.delegatedHoldings(x)
	owed := s.owed(x)
	if holdings.LTE(owed) {
		return nil
	}
	surplus := holdings.Sub(owed)
	borrowed := x.st.tokenAt(s.borrowed)
	if have := borrowed.balanceOf(s.self); have.LT(surplus) {
		if err := s.withdrawDelegated(x, surplus.Sub(have)); err != nil {
			return err
		}
	}
	_, err := swap(x, s.self, s.borrowed, s.want, math.MinInt(surplus, borrowed.balanceOf(s.self)))
	return err
}

func (s *lendingStrategy) prepareReturn(x *execCtx, debtOutstanding math.Int) (profit, loss, debtPayment math.Int, err error) {
	profit, loss, debtPayment = math.ZeroInt(), math.ZeroInt(), math.ZeroInt()
	if err = s.realizeDelegatedProfit(x); err != nil {
		return
	}

	debt := s.v(x).strategies[s.self].totalDebt
	total := s.estimatedTotalAssets(x)
	if total.GT(debt) {
		profit = total.Sub(debt)
	} else {
		loss = debt.Sub(total)
	}

	toFree := profit.Add(debtOutstanding)
	freed, _, err := s.liquidatePosition(x, toFree)
	if err != nil {
		return
	}
	if freed.LT(toFree) {
		if profit.GT(freed) {
			profit = freed
		} else {
			debtPayment = math.MinInt(freed.Sub(profit), debtOutstanding)
		}
	} else {
		debtPayment = debtOutstanding
	}
	return
}

func (s *lendingStrategy) harvest(x *execCtx) error {
	v := s.v(x)
	debtOutstanding := v.debtOutstanding(x, s.self)

	var profit, loss, debtPayment math.Int
	if s.emergencyExit {
		freed, err := s.liquidateAll(x)
		if err != nil {
			return err
		}
		profit, loss = math.ZeroInt(), math.ZeroInt()
		switch {
		case freed.LT(debtOutstanding):
			loss = debtOutstanding.Sub(freed)
		case freed.GT(debtOutstanding):
			profit = freed.Sub(debtOutstanding)
		}
		debtPayment = debtOutstanding.Sub(loss)
	} else {
		var err error
		if profit, loss, debtPayment, err = s.prepareReturn(x, debtOutstanding); err != nil {
			return err
		}
	}

	remaining, err := v.report(x, s.self, profit, loss, debtPayment)
	if err != nil {
		return err
	}
	return s.adjustPosition(x, remaining)
}

func (s *lendingStrategy) withdrawToVault(x *execCtx, amount math.Int) (math.Int, error) {
	freed, loss, err := s.liquidatePosition(x, amount)
	if err != nil {
		return math.Int{}, err
	}
	if err := x.st.tokenAt(s.want).move(x, s.self, s.vault, freed); err != nil {
		return math.Int{}, err
	}
	return loss, nil
}

func (s *lendingStrategy) harvestTrigger(x *execCtx, callCost math.Int) bool {
	v := s.v(x)
	p, ok := v.strategies[s.self]
	if !ok || p.activation == 0 {
		return false
	}
	if x.now()-p.lastReport >= s.maxReportDelay {
		return true
	}
	if v.debtOutstanding(x, s.self).IsPositive() {
		return true
	}
	total := s.estimatedTotalAssets(x)
	if total.LT(p.totalDebt) {
		return true
	}
	gain := total.Sub(p.totalDebt).Add(v.creditAvailable(x, s.self))
	return callCost.MulRaw(harvestProfitFactor).LT(gain)
}

func (s *lendingStrategy) tendTrigger(x *execCtx) bool {
	v := s.v(x)
	if p, ok := v.strategies[s.self]; !ok || p.activation == 0 || s.emergencyExit {
		return false
	}
	debt := v.debtOutstanding(x, s.self)
	if s.wantBalance(x).GT(debt) {
		return true
	}
	target := s.targetBorrow(x, s.supplied(x))
	owed := s.owed(x)
	band := target.QuoRaw(tendBandDivisor)
	if owed.GT(target) {
		return owed.Sub(target).GT(band)
	}
	return target.Sub(owed).GT(band)
}

// Access control.

func (s *lendingStrategy) onlyAuthorized(x *execCtx) error {
	if x.from != s.strategist && x.from != s.governance(x) {
		return x.revert("!authorized")
	}
	return nil
}

func (s *lendingStrategy) onlyManagers(x *execCtx) error {
	if x.from != s.strategist && x.from != s.governance(x) && x.from != s.v(x).management {
		return x.revert("!authorized")
	}
	return nil
}

func (s *lendingStrategy) onlyKeepers(x *execCtx) error {
	if x.from != s.keeper && x.from != s.strategist && x.from != s.governance(x) && x.from != s.v(x).management {
		return x.revert("!authorized")
	}
	return nil
}

func (s *lendingStrategy) onlyGovernance(x *execCtx) error {
	if x.from != s.governance(x) {
		return x.revert("!authorized")
	}
	return nil
}

func (s *lendingStrategy) protectedTokens() []common.Address {
	return []common.Address{s.borrowed, s.reward, s.weth, s.delegated, s.cWant, s.cBorrowed, s.cReward, s.cSupplied}
}

func (s *lendingStrategy) sweep(x *execCtx, tokenAddr common.Address) error {
	if err := s.onlyGovernance(x); err != nil {
		return err
	}
	switch tokenAddr {
	case s.want:
		return x.revert("!want")
	case s.vault:
		return x.revert("!shares")
	}
	for _, p := range s.protectedTokens() {
		if tokenAddr == p {
			return x.revert("!protected")
		}
	}
	var tok *token
	switch c := x.st.contracts[tokenAddr].(type) {
	case *token:
		tok = c
	case *vault:
		tok = c.shares
	default:
		return x.revert("!token")
	}
	return tok.move(x, s.self, x.from, tok.balanceOf(s.self))
}

func (s *lendingStrategy) migrate(x *execCtx, newAddr common.Address) error {
	v := s.v(x)
	if x.from != s.vault && x.from != v.governance {
		return x.revert("!authorized")
	}
	next, ok := x.st.contracts[newAddr].(*lendingStrategy)
	if !ok {
		return x.revert("!strategy")
	}
	if next.vault != s.vault || next.want != s.want {
		return x.revert("!vault")
	}
	if _, err := s.liquidateAll(x); err != nil {
		return err
	}
	for _, addr := range []common.Address{s.want, s.reward, s.weth} {
		tok := x.st.tokenAt(addr)
		if err := tok.move(x, s.self, newAddr, tok.balanceOf(s.self)); err != nil {
			return err
		}
	}
	if m := x.st.marketAt(s.cSupplied); m.supplyBalance(s.self, x.now()).IsPositive() {
		amt := m.supplyBalance(s.self, x.now())
		if err := m.redeem(x, s.self, amt); err != nil {
			return err
		}
		if err := x.st.tokenAt(m.underlying).move(x, s.self, newAddr, amt); err != nil {
			return err
		}
	}
	return v.migrateStrategy(x, s.self, newAddr)
}

func (s *lendingStrategy) setTargetCollateralFactor(x *execCtx, wad math.Int) error {
	if err := s.onlyManagers(x); err != nil {
		return err
	}
	f := decFromWad(wad)
	if f.LT(minTargetCollateralFactor) {
		return x.revert("too low")
	}
	if f.GT(x.st.marketAt(s.cWant).collateralFactor) {
		return x.revert("too high")
	}
	s.targetCF = f
	return nil
}

func (s *lendingStrategy) supplyCollateral(x *execCtx, amt math.Int) error {
	m := x.st.marketAt(s.cSupplied)
	tok := x.st.tokenAt(m.underlying)
	if err := tok.spend(x, x.from, s.self, amt); err != nil {
		return err
	}
	if err := tok.move(x, x.from, s.self, amt); err != nil {
		return err
	}
	return m.supply(x, s.self, amt)
}

func (s *lendingStrategy) removeCollateral(x *execCtx, amt math.Int) error {
	if err := s.onlyGovernance(x); err != nil {
		return err
	}
	m := x.st.marketAt(s.cSupplied)
	tok := x.st.tokenAt(m.underlying)
	held := m.supplyBalance(s.self, x.now())
	if amt.GT(held) {
		return x.revert("redeem exceeds supply")
	}
	after := usd(x.st.tokenAt(s.want), s.supplied(x)).
		Add(usd(tok, held.Sub(amt))).
		Add(s.valueOfxInv(x))
	maxBorrow := math.LegacyNewDecFromInt(after).Mul(x.st.marketAt(s.cWant).collateralFactor).TruncateInt()
	if s.valueOfBorrowedOwed(x).GT(maxBorrow) {
		return x.revert("insufficient collateral")
	}
	if err := m.redeem(x, s.self, amt); err != nil {
		return err
	}
	return tok.move(x, s.self, x.from, amt)
}

func (s *lendingStrategy) exec(x *execCtx, method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{"StrategyLeveragedLending"}, nil
	case "estimatedTotalAssets":
		return outInt(s.estimatedTotalAssets(x)), nil
	case "valueOfDelegated":
		return outInt(s.valueOfDelegated(x)), nil
	case "valueOfBorrowedOwed":
		return outInt(s.valueOfBorrowedOwed(x)), nil
	case "valueOfCSupplied":
		return outInt(s.valueOfCSupplied(x)), nil
	case "valueOfCWant":
		return outInt(s.supplied(x)), nil
	case "valueOfxInv":
		return outInt(s.valueOfxInv(x)), nil
	case "valueOfTotalCollateral":
		return outInt(s.collateralValue(x, s.supplied(x))), nil
	case "delegatedAssets":
		return outInt(s.delegatedAssets(x)), nil
	case "balanceOfWant":
		return outInt(s.wantBalance(x)), nil
	case "balanceOfReward":
		return outInt(x.st.tokenAt(s.reward).balanceOf(s.self)), nil
	case "balanceOfEth":
		return outInt(x.st.nativeBalance(s.self)), nil
	case "balanceOfBorrowed":
		return outInt(s.owed(x)), nil
	case "borrowLimit":
		return outInt(s.borrowLimit), nil
	case "targetCollateralFactor":
		return outInt(wadFromDec(s.targetCF)), nil
	case "emergencyExit":
		return outBool(s.emergencyExit), nil
	case "want":
		return outAddress(s.want), nil
	case "vault":
		return outAddress(s.vault), nil
	case "reward":
		return outAddress(s.reward), nil
	case "borrowed":
		return outAddress(s.borrowed), nil
	case "delegated":
		return outAddress(s.delegated), nil
	case "cWant":
		return outAddress(s.cWant), nil
	case "cBorrowed":
		return outAddress(s.cBorrowed), nil
	case "cReward":
		return outAddress(s.cReward), nil
	case "cSupplied":
		return outAddress(s.cSupplied), nil
	case "keeper":
		return outAddress(s.keeper), nil
	case "strategist":
		return outAddress(s.strategist), nil
	case "harvestTrigger", "tendTrigger":
		cost, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		if method == "harvestTrigger" {
			return outBool(s.harvestTrigger(x, cost)), nil
		}
		return outBool(s.tendTrigger(x)), nil
	}

	if err := x.requireTx(); err != nil {
		return nil, err
	}

	switch method {
	case "harvest":
		if err := s.onlyKeepers(x); err != nil {
			return nil, err
		}
		return nil, s.harvest(x)
	case "tend":
		if err := s.onlyKeepers(x); err != nil {
			return nil, err
		}
		return nil, s.adjustPosition(x, s.v(x).debtOutstanding(x, s.self))
	case "setKeeper", "setStrategist":
		if err := s.onlyAuthorized(x); err != nil {
			return nil, err
		}
		addr, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		if method == "setKeeper" {
			s.keeper = addr
		} else {
			s.strategist = addr
		}
		return nil, nil
	case "setBorrowLimit":
		if err := s.onlyManagers(x); err != nil {
			return nil, err
		}
		limit, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		s.borrowLimit = limit
		return nil, nil
	case "setEmergencyExit":
		if err := s.onlyAuthorized(x); err != nil {
			return nil, err
		}
		s.emergencyExit = true
		s.v(x).revoke(s.self)
		return nil, nil
	case "setTargetCollateralFactor":
		wad, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, s.setTargetCollateralFactor(x, wad)
	case "supplyCollateral", "removeCollateral":
		amt, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		if method == "supplyCollateral" {
			return nil, s.supplyCollateral(x, amt)
		}
		return nil, s.removeCollateral(x, amt)
	case "sweep":
		tok, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, s.sweep(x, tok)
	case "migrate":
		next, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, s.migrate(x, next)
	}
	return nil, unknownMethod(x, "strategy")
}
