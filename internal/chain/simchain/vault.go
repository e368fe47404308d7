package simchain

import (
	"maps"
	"slices"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const (
	maxBPS                  = 10_000
	maxQueue                = 20
	lockedProfitUnlockDelay = 6 * 60 * 60
	defaultVaultFeeBPS      = 1_000
	maxPerformanceFeeBPS    = 5_000
)

// vaultStrategy is what a vault needs from a strategy it lends to.
type vaultStrategy interface {
	vaultAddress() common.Address
	estimatedTotalAssets(x *execCtx) math.Int
	// withdrawToVault frees up to amount of want, sends it to the vault and
	// returns the loss taken doing so.
	withdrawToVault(x *execCtx, amount math.Int) (math.Int, error)
}

type strategyParams struct {
	performanceFee    int64
	activation        uint64
	debtRatio         int64
	minDebtPerHarvest math.Int
	maxDebtPerHarvest math.Int
	lastReport        uint64
	totalDebt         math.Int
	totalGain         math.Int
	totalLoss         math.Int
}

// vault pools want and lends it to strategies by debt ratio. Shares are an
// ERC-20 priced against free funds: total assets minus profit still locked
// from the last report.
type vault struct {
	self        common.Address
	shares      *token
	want        common.Address
	initialized bool

	governance common.Address
	management common.Address
	guardian   common.Address
	rewards    common.Address

	depositLimit   math.Int
	performanceFee int64
	debtRatio      int64
	totalDebt      math.Int
	lockedProfit   math.Int
	lastReport     uint64

	strategies map[common.Address]strategyParams
	queue      []common.Address
}

func newVault(self common.Address) *vault {
	return &vault{
		self:         self,
		shares:       newToken(self, "", "", 18, math.LegacyZeroDec()),
		depositLimit: math.ZeroInt(),
		totalDebt:    math.ZeroInt(),
		lockedProfit: math.ZeroInt(),
		strategies:   make(map[common.Address]strategyParams),
	}
}

func (v *vault) clone() contract {
	out := *v
	out.shares = v.shares.cloneToken()
	out.strategies = maps.Clone(v.strategies)
	out.queue = slices.Clone(v.queue)
	return &out
}

func (v *vault) wantToken(x *execCtx) *token { return x.st.tokenAt(v.want) }

func (v *vault) idle(x *execCtx) math.Int { return v.wantToken(x).balanceOf(v.self) }

func (v *vault) totalAssets(x *execCtx) math.Int { return v.idle(x).Add(v.totalDebt) }

func (v *vault) lockedProfitAt(now uint64) math.Int {
	if now < v.lastReport {
		return v.lockedProfit
	}
	elapsed := now - v.lastReport
	if elapsed >= lockedProfitUnlockDelay {
		return math.ZeroInt()
	}
	return v.lockedProfit.MulRaw(int64(lockedProfitUnlockDelay - elapsed)).QuoRaw(lockedProfitUnlockDelay)
}

func (v *vault) freeFunds(x *execCtx) math.Int {
	return v.totalAssets(x).Sub(v.lockedProfitAt(x.now()))
}

// shareValue converts shares to want at the current free-funds price.
func (v *vault) shareValue(x *execCtx, shares math.Int) math.Int {
	if v.shares.supply.IsZero() {
		return shares
	}
	return shares.Mul(v.freeFunds(x)).Quo(v.shares.supply)
}

func (v *vault) sharesForAmount(x *execCtx, amount math.Int) math.Int {
	ff := v.freeFunds(x)
	if !ff.IsPositive() {
		return math.ZeroInt()
	}
	return amount.Mul(v.shares.supply).Quo(ff)
}

// sharesForAmountCeil is the smallest share count worth at least amount.
func (v *vault) sharesForAmountCeil(x *execCtx, amount math.Int) math.Int {
	ff := v.freeFunds(x)
	if !ff.IsPositive() {
		return math.ZeroInt()
	}
	num := amount.Mul(v.shares.supply)
	q := num.Quo(ff)
	if !q.Mul(ff).Equal(num) {
		q = q.AddRaw(1)
	}
	return q
}

func (v *vault) issueShares(x *execCtx, to common.Address, amount math.Int) math.Int {
	shares := amount
	if v.shares.supply.IsPositive() {
		ff := v.freeFunds(x)
		if !ff.IsPositive() {
			return math.ZeroInt()
		}
		shares = amount.Mul(v.shares.supply).Quo(ff)
	}
	v.shares.mint(to, shares)
	return shares
}

func (v *vault) onlyGov(x *execCtx) error {
	if x.from != v.governance {
		return x.revert("!authorized")
	}
	return nil
}

func (v *vault) onlyGovOrManagement(x *execCtx) error {
	if x.from != v.governance && x.from != v.management {
		return x.revert("!authorized")
	}
	return nil
}

func (v *vault) params(x *execCtx, s common.Address) (strategyParams, error) {
	p, ok := v.strategies[s]
	if !ok || p.activation == 0 {
		return strategyParams{}, x.revert("!strategy")
	}
	return p, nil
}

func (v *vault) debtOutstanding(x *execCtx, s common.Address) math.Int {
	p, ok := v.strategies[s]
	if !ok {
		return math.ZeroInt()
	}
	if v.debtRatio == 0 {
		return p.totalDebt
	}
	limit := v.totalAssets(x).MulRaw(p.debtRatio).QuoRaw(maxBPS)
	if p.totalDebt.LTE(limit) {
		return math.ZeroInt()
	}
	return p.totalDebt.Sub(limit)
}

func (v *vault) creditAvailable(x *execCtx, s common.Address) math.Int {
	p, ok := v.strategies[s]
	if !ok {
		return math.ZeroInt()
	}
	total := v.totalAssets(x)
	vaultLimit := total.MulRaw(v.debtRatio).QuoRaw(maxBPS)
	stratLimit := total.MulRaw(p.debtRatio).QuoRaw(maxBPS)
	if stratLimit.LTE(p.totalDebt) || vaultLimit.LTE(v.totalDebt) {
		return math.ZeroInt()
	}
	available := stratLimit.Sub(p.totalDebt)
	available = math.MinInt(available, vaultLimit.Sub(v.totalDebt))
	available = math.MinInt(available, v.idle(x))
	if available.LT(p.minDebtPerHarvest) {
		return math.ZeroInt()
	}
	return math.MinInt(available, p.maxDebtPerHarvest)
}

func (v *vault) reportLoss(s common.Address, p *strategyParams, loss math.Int) {
	loss = math.MinInt(loss, p.totalDebt)
	if v.debtRatio != 0 && v.totalDebt.IsPositive() {
		change := loss.MulRaw(v.debtRatio).Quo(v.totalDebt)
		ratio := int64(p.debtRatio)
		if change.IsInt64() && change.Int64() < ratio {
			ratio = change.Int64()
		}
		p.debtRatio -= ratio
		v.debtRatio -= ratio
	}
	p.totalLoss = p.totalLoss.Add(loss)
	p.totalDebt = p.totalDebt.Sub(loss)
	v.totalDebt = v.totalDebt.Sub(loss)
}

// assessFees mints fee shares for gain. Nothing is charged on a report in
// the same second the strategy was added.
func (v *vault) assessFees(x *execCtx, s common.Address, p strategyParams, gain math.Int) math.Int {
	if p.activation == x.now() || gain.IsZero() {
		return math.ZeroInt()
	}
	stratFee := gain.MulRaw(p.performanceFee).QuoRaw(maxBPS)
	vaultFee := gain.MulRaw(v.performanceFee).QuoRaw(maxBPS)
	total := stratFee.Add(vaultFee)
	if total.IsZero() {
		return total
	}
	minted := v.issueShares(x, v.self, total)
	stratShares := minted.Mul(stratFee).Quo(total)
	if stratShares.IsPositive() {
		_ = v.shares.move(x, v.self, s, stratShares)
	}
	_ = v.shares.move(x, v.self, v.rewards, v.shares.balanceOf(v.self))
	return total
}

// report settles a harvest: records gain and loss, charges fees, collects
// debt payment, extends new credit and locks the net gain. It returns the
// strategy's remaining outstanding debt.
func (v *vault) report(x *execCtx, s common.Address, gain, loss, debtPayment math.Int) (math.Int, error) {
	p, err := v.params(x, s)
	if err != nil {
		return math.Int{}, err
	}
	want := v.wantToken(x)
	if want.balanceOf(s).LT(gain.Add(debtPayment)) {
		return math.Int{}, x.revert("insufficient want")
	}

	if loss.IsPositive() {
		v.reportLoss(s, &p, loss)
	}
	totalFees := v.assessFees(x, s, p, gain)
	p.totalGain = p.totalGain.Add(gain)
	v.strategies[s] = p

	debt := v.debtOutstanding(x, s)
	debtPayment = math.MinInt(debtPayment, debt)
	if debtPayment.IsPositive() {
		p.totalDebt = p.totalDebt.Sub(debtPayment)
		v.totalDebt = v.totalDebt.Sub(debtPayment)
		v.strategies[s] = p
	}

	credit := v.creditAvailable(x, s)
	if credit.IsPositive() {
		p.totalDebt = p.totalDebt.Add(credit)
		v.totalDebt = v.totalDebt.Add(credit)
	}

	available := gain.Add(debtPayment)
	switch {
	case available.LT(credit):
		if err := want.move(x, v.self, s, credit.Sub(available)); err != nil {
			return math.Int{}, err
		}
	case available.GT(credit):
		if err := want.move(x, s, v.self, available.Sub(credit)); err != nil {
			return math.Int{}, err
		}
	}

	locked := v.lockedProfitAt(x.now()).Add(gain)
	locked = locked.Sub(math.MinInt(locked, totalFees))
	if locked.GT(loss) {
		v.lockedProfit = locked.Sub(loss)
	} else {
		v.lockedProfit = math.ZeroInt()
	}

	p.lastReport = x.now()
	v.lastReport = x.now()
	v.strategies[s] = p

	return v.debtOutstanding(x, s), nil
}

func (v *vault) revoke(s common.Address) {
	p, ok := v.strategies[s]
	if !ok {
		return
	}
	v.debtRatio -= p.debtRatio
	p.debtRatio = 0
	v.strategies[s] = p
}

// migrateStrategy moves old's debt and ratio to replacement.
func (v *vault) migrateStrategy(x *execCtx, old, replacement common.Address) error {
	p, err := v.params(x, old)
	if err != nil {
		return err
	}
	if n, ok := v.strategies[replacement]; ok && n.activation != 0 {
		return x.revert("already active")
	}
	v.strategies[replacement] = strategyParams{
		performanceFee:    p.performanceFee,
		activation:        p.lastReport,
		debtRatio:         p.debtRatio,
		minDebtPerHarvest: p.minDebtPerHarvest,
		maxDebtPerHarvest: p.maxDebtPerHarvest,
		lastReport:        p.lastReport,
		totalDebt:         p.totalDebt,
		totalGain:         math.ZeroInt(),
		totalLoss:         math.ZeroInt(),
	}
	p.debtRatio = 0
	p.totalDebt = math.ZeroInt()
	v.strategies[old] = p
	for i, q := range v.queue {
		if q == old {
			v.queue[i] = replacement
		}
	}
	return nil
}

func (v *vault) deposit(x *execCtx, amount math.Int) (math.Int, error) {
	if !v.initialized {
		return math.Int{}, x.revert("!initialized")
	}
	want := v.wantToken(x)
	if amount.Equal(maxUint256()) {
		room := math.ZeroInt()
		if v.depositLimit.GT(v.totalAssets(x)) {
			room = v.depositLimit.Sub(v.totalAssets(x))
		}
		amount = math.MinInt(room, want.balanceOf(x.from))
	}
	if !amount.IsPositive() {
		return math.Int{}, x.revert("zero deposit")
	}
	if v.totalAssets(x).Add(amount).GT(v.depositLimit) {
		return math.Int{}, x.revert("deposit limit")
	}
	shares := v.issueShares(x, x.from, amount)
	if err := want.spend(x, x.from, v.self, amount); err != nil {
		return math.Int{}, err
	}
	if err := want.move(x, x.from, v.self, amount); err != nil {
		return math.Int{}, err
	}
	return shares, nil
}

// depositFrom is a contract-to-contract deposit; the caller has already
// approved the vault.
func (v *vault) depositFrom(x *execCtx, from common.Address, amount math.Int) error {
	if amount.IsZero() {
		return nil
	}
	if v.totalAssets(x).Add(amount).GT(v.depositLimit) {
		return x.revert("deposit limit")
	}
	v.issueShares(x, from, amount)
	return v.wantToken(x).move(x, from, v.self, amount)
}

// redeem burns shares owned by owner, pulling from strategies in queue
// order when idle funds are short. It returns the want sent to owner.
func (v *vault) redeem(x *execCtx, owner common.Address, shares math.Int) (math.Int, error) {
	shares = math.MinInt(shares, v.shares.balanceOf(owner))
	if !shares.IsPositive() {
		return math.Int{}, x.revert("zero shares")
	}
	want := v.wantToken(x)
	value := v.shareValue(x, shares)
	totalLoss := math.ZeroInt()

	if value.GT(v.idle(x)) {
		for _, s := range v.queue {
			idle := v.idle(x)
			if value.LTE(idle) {
				break
			}
			p := v.strategies[s]
			need := math.MinInt(value.Sub(idle), p.totalDebt)
			if need.IsZero() {
				continue
			}
			strat, ok := x.st.contracts[s].(vaultStrategy)
			if !ok {
				continue
			}
			loss, err := strat.withdrawToVault(x, need)
			if err != nil {
				return math.Int{}, err
			}
			withdrawn := v.idle(x).Sub(idle)
			p = v.strategies[s]
			if loss.IsPositive() {
				value = value.Sub(math.MinInt(loss, value))
				totalLoss = totalLoss.Add(loss)
				v.reportLoss(s, &p, loss)
			}
			withdrawn = math.MinInt(withdrawn, p.totalDebt)
			p.totalDebt = p.totalDebt.Sub(withdrawn)
			v.totalDebt = v.totalDebt.Sub(withdrawn)
			v.strategies[s] = p
		}
		if idle := v.idle(x); value.GT(idle) {
			value = idle
			shares = math.MinInt(shares, v.sharesForAmountCeil(x, value.Add(totalLoss)))
		}
	}

	if err := v.shares.burn(x, owner, shares); err != nil {
		return math.Int{}, err
	}
	if err := want.move(x, v.self, owner, value); err != nil {
		return math.Int{}, err
	}
	return value, nil
}

func (v *vault) addStrategy(x *execCtx, args []any) error {
	if err := v.onlyGov(x); err != nil {
		return err
	}
	s, err := argAddress(args, 0)
	if err != nil {
		return err
	}
	ratio, err := argInt(args, 1)
	if err != nil {
		return err
	}
	minDebt, err := argInt(args, 2)
	if err != nil {
		return err
	}
	maxDebt, err := argInt(args, 3)
	if err != nil {
		return err
	}
	fee, err := argInt(args, 4)
	if err != nil {
		return err
	}

	strat, ok := x.st.contracts[s].(vaultStrategy)
	if !ok {
		return x.revert("!strategy")
	}
	if strat.vaultAddress() != v.self {
		return x.revert("!vault")
	}
	if p, ok := v.strategies[s]; ok && p.activation != 0 {
		return x.revert("already active")
	}
	if len(v.queue) >= maxQueue {
		return x.revert("queue full")
	}
	if !ratio.IsInt64() || v.debtRatio+ratio.Int64() > maxBPS {
		return x.revert("debtRatio over limit")
	}
	if minDebt.GT(maxDebt) {
		return x.revert("minDebtPerHarvest > maxDebtPerHarvest")
	}
	if !fee.IsInt64() || fee.Int64() > maxPerformanceFeeBPS {
		return x.revert("performanceFee over limit")
	}

	v.strategies[s] = strategyParams{
		performanceFee:    fee.Int64(),
		activation:        x.now(),
		debtRatio:         ratio.Int64(),
		minDebtPerHarvest: minDebt,
		maxDebtPerHarvest: maxDebt,
		lastReport:        x.now(),
		totalDebt:         math.ZeroInt(),
		totalGain:         math.ZeroInt(),
		totalLoss:         math.ZeroInt(),
	}
	v.debtRatio += ratio.Int64()
	v.queue = append(v.queue, s)
	return nil
}

func (v *vault) initialize(x *execCtx, args []any) error {
	if v.initialized {
		return x.revert("already initialized")
	}
	want, err := argAddress(args, 0)
	if err != nil {
		return err
	}
	tok, ok := x.st.contracts[want].(*token)
	if !ok {
		return x.revert("!token")
	}
	if v.governance, err = argAddress(args, 1); err != nil {
		return err
	}
	if v.rewards, err = argAddress(args, 2); err != nil {
		return err
	}
	name, err := argString(args, 3)
	if err != nil {
		return err
	}
	symbol, err := argString(args, 4)
	if err != nil {
		return err
	}
	if v.guardian, err = argAddress(args, 5); err != nil {
		return err
	}
	if name == "" {
		name = tok.symbol + " yVault"
	}
	if symbol == "" {
		symbol = "yv" + tok.symbol
	}
	v.want = want
	v.management = v.governance
	v.shares.name = name
	v.shares.symbol = symbol
	v.shares.decimals = tok.decimals
	v.performanceFee = defaultVaultFeeBPS
	v.lastReport = x.now()
	v.initialized = true
	return nil
}

func (v *vault) exec(x *execCtx, method string, args []any) ([]any, error) {
	switch method {
	case "name", "symbol", "decimals", "totalSupply", "balanceOf", "allowance":
		return v.shares.exec(x, method, args)
	case "token":
		return outAddress(v.want), nil
	case "governance":
		return outAddress(v.governance), nil
	case "management":
		return outAddress(v.management), nil
	case "guardian":
		return outAddress(v.guardian), nil
	case "rewards":
		return outAddress(v.rewards), nil
	case "depositLimit":
		return outInt(v.depositLimit), nil
	case "performanceFee":
		return outInt(math.NewInt(v.performanceFee)), nil
	case "debtRatio":
		return outInt(math.NewInt(v.debtRatio)), nil
	case "totalDebt":
		return outInt(v.totalDebt), nil
	case "totalAssets":
		return outInt(v.totalAssets(x)), nil
	case "lockedProfit":
		return outInt(v.lockedProfitAt(x.now())), nil
	case "pricePerShare":
		return outInt(v.shareValue(x, pow10(v.shares.decimals))), nil
	case "withdrawalQueue":
		i, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		if !i.IsInt64() || i.Int64() >= maxQueue {
			return nil, x.revert("index out of range")
		}
		if i.Int64() >= int64(len(v.queue)) {
			return outAddress(common.Address{}), nil
		}
		return outAddress(v.queue[i.Int64()]), nil
	case "debtOutstanding", "creditAvailable", "strategyDebtRatio", "strategyTotalDebt":
		s, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		switch method {
		case "debtOutstanding":
			return outInt(v.debtOutstanding(x, s)), nil
		case "creditAvailable":
			return outInt(v.creditAvailable(x, s)), nil
		case "strategyDebtRatio":
			return outInt(math.NewInt(v.strategies[s].debtRatio)), nil
		default:
			td := v.strategies[s].totalDebt
			if td.IsNil() {
				td = math.ZeroInt()
			}
			return outInt(td), nil
		}
	}

	if err := x.requireTx(); err != nil {
		return nil, err
	}

	switch method {
	case "approve", "transfer", "transferFrom":
		return v.shares.exec(x, method, args)
	case "initialize":
		return nil, v.initialize(x, args)
	case "setDepositLimit":
		if err := v.onlyGov(x); err != nil {
			return nil, err
		}
		limit, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		v.depositLimit = limit
		return nil, nil
	case "setManagement":
		if err := v.onlyGov(x); err != nil {
			return nil, err
		}
		m, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		v.management = m
		return nil, nil
	case "setPerformanceFee":
		if err := v.onlyGov(x); err != nil {
			return nil, err
		}
		fee, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		if !fee.IsInt64() || fee.Int64() > maxPerformanceFeeBPS {
			return nil, x.revert("performanceFee over limit")
		}
		v.performanceFee = fee.Int64()
		return nil, nil
	case "addStrategy":
		return nil, v.addStrategy(x, args)
	case "updateStrategyDebtRatio":
		if err := v.onlyGovOrManagement(x); err != nil {
			return nil, err
		}
		s, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		ratio, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		p, err := v.params(x, s)
		if err != nil {
			return nil, err
		}
		if !ratio.IsInt64() || v.debtRatio-p.debtRatio+ratio.Int64() > maxBPS {
			return nil, x.revert("debtRatio over limit")
		}
		v.debtRatio = v.debtRatio - p.debtRatio + ratio.Int64()
		p.debtRatio = ratio.Int64()
		v.strategies[s] = p
		return nil, nil
	case "revokeStrategy":
		s, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		if x.from != s && x.from != v.governance && x.from != v.guardian {
			return nil, x.revert("!authorized")
		}
		v.revoke(s)
		return nil, nil
	case "deposit":
		amount := maxUint256()
		if len(args) == 1 {
			var err error
			if amount, err = argInt(args, 0); err != nil {
				return nil, err
			}
		}
		shares, err := v.deposit(x, amount)
		if err != nil {
			return nil, err
		}
		return outInt(shares), nil
	case "withdraw":
		shares := v.shares.balanceOf(x.from)
		if len(args) == 1 {
			var err error
			if shares, err = argInt(args, 0); err != nil {
				return nil, err
			}
		}
		value, err := v.redeem(x, x.from, shares)
		if err != nil {
			return nil, err
		}
		return outInt(value), nil
	}
	return nil, unknownMethod(x, "vault")
}
