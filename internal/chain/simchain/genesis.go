package simchain

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Mainnet addresses the default genesis reuses so fixtures written for a
// forked node also resolve on the simulator.
var (
	AddrYFI  = common.HexToAddress("0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e")
	AddrWETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	AddrINV  = common.HexToAddress("0x41D5D79431A913C4aE7d69a668ecdfE5fF9DFB68")
	AddrROOK = common.HexToAddress("0xfA5047c9c78B8877af97BDcb85Db743fD7313d4a")

	AddrAnYFI = common.HexToAddress("0xde2af899040536884e062D3a334F2dD36F34b4a4")
	AddrAnETH = common.HexToAddress("0x697b4acAa24430F254224eB794d2a85ba1Fa1FB8")
	AddrXINV  = common.HexToAddress("0x1637e4e9941D55703a7A5E7807d6aDA3f7DCD61B")

	AddrYvWETH = common.HexToAddress("0xa9fE4601811213c340e850ea305481afF02f5b28")

	AddrGovernance = common.HexToAddress("0xFEB4acf3df3cDEA7399794D0869ef76A6EfAff52")
	AddrYFIWhale   = common.HexToAddress("0x3ff33d9162ad47660083d7dc4bc02fb231c81677")
	AddrROOKWhale  = common.HexToAddress("0xf977814e90da44bfa03b6295a0616a897441acec")
)

// TokenSpec describes an ERC-20 present at genesis.
type TokenSpec struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	Price       math.LegacyDec // dollars per whole token
	WrapsNative bool
	Holders     map[common.Address]math.Int
}

// MarketSpec describes a lending market present at genesis.
type MarketSpec struct {
	Address          common.Address
	Name             string
	Underlying       common.Address
	CollateralFactor math.LegacyDec
	SupplyAPR        math.LegacyDec
	BorrowAPR        math.LegacyDec
}

// DelegatedSpec describes the vault the lending strategy deposits into and
// the yield strategy behind it.
type DelegatedSpec struct {
	Address    common.Address
	Want       common.Address
	Governance common.Address
	APR        math.LegacyDec
}

// Genesis is the initial chain state.
type Genesis struct {
	StartTime      uint64
	Accounts       int
	AccountBalance math.Int
	Tokens         []TokenSpec
	Markets        []MarketSpec
	Delegated      DelegatedSpec
	// Weth is the wrapped-native token. CollateralMarket is where
	// supplyCollateral deposits it.
	Weth             common.Address
	CollateralMarket common.Address
}

func units(n int64, decimals uint8) math.Int {
	return math.NewInt(n).Mul(pow10(decimals))
}

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

// DefaultGenesis is an Inverse Finance style deployment: YFI supplied to
// anYFI, WETH borrowed from anETH and parked in yvWETH, INV staked as xINV.
func DefaultGenesis() Genesis {
	return Genesis{
		StartTime:      1_640_000_000,
		Accounts:       10,
		AccountBalance: units(1000, 18),
		Tokens: []TokenSpec{
			{
				Address: AddrYFI, Name: "yearn.finance", Symbol: "YFI", Decimals: 18, Price: dec("30000"),
				Holders: map[common.Address]math.Int{AddrYFIWhale: units(10_000, 18)},
			},
			{Address: AddrWETH, Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18, Price: dec("3000"), WrapsNative: true},
			{Address: AddrINV, Name: "Inverse DAO", Symbol: "INV", Decimals: 18, Price: dec("300")},
			{
				Address: AddrROOK, Name: "ROOK", Symbol: "ROOK", Decimals: 18, Price: dec("100"),
				Holders: map[common.Address]math.Int{AddrROOKWhale: units(100_000, 18)},
			},
		},
		Markets: []MarketSpec{
			{
				Address: AddrAnYFI, Name: "Anchor YFI", Underlying: AddrYFI,
				CollateralFactor: dec("0.6"), SupplyAPR: dec("0.01"), BorrowAPR: dec("0.03"),
			},
			{
				Address: AddrAnETH, Name: "Anchor Ether", Underlying: AddrWETH,
				CollateralFactor: dec("0.75"), SupplyAPR: dec("0.005"), BorrowAPR: dec("0.02"),
			},
			{
				Address: AddrXINV, Name: "xINV", Underlying: AddrINV,
				CollateralFactor: dec("0.5"), SupplyAPR: math.LegacyZeroDec(), BorrowAPR: math.LegacyZeroDec(),
			},
		},
		Delegated: DelegatedSpec{
			Address:    AddrYvWETH,
			Want:       AddrWETH,
			Governance: AddrGovernance,
			APR:        dec("0.08"),
		},
		Weth:             AddrWETH,
		CollateralMarket: AddrAnETH,
	}
}

// build lays out the genesis state. The delegated vault is initialised in
// place with its yield strategy added at full debt ratio.
func (g Genesis) build() *state {
	st := newState(g.StartTime)
	for _, ts := range g.Tokens {
		t := newToken(ts.Address, ts.Name, ts.Symbol, ts.Decimals, ts.Price)
		t.wrapsNative = ts.WrapsNative
		for holder, amt := range ts.Holders {
			t.mint(holder, amt)
		}
		st.contracts[ts.Address] = t
	}
	for _, ms := range g.Markets {
		st.contracts[ms.Address] = newMarket(ms.Address, ms.Name, ms.Underlying,
			ms.CollateralFactor, ms.SupplyAPR, ms.BorrowAPR, g.StartTime)
	}

	d := g.Delegated
	if d.Address == (common.Address{}) {
		return st
	}
	want := st.tokenAt(d.Want)
	dv := newVault(d.Address)
	dv.want = d.Want
	dv.initialized = true
	dv.governance = d.Governance
	dv.management = d.Governance
	dv.guardian = d.Governance
	dv.rewards = d.Governance
	dv.depositLimit = maxUint256()
	dv.lastReport = g.StartTime
	dv.shares.name = want.symbol + " yVault"
	dv.shares.symbol = "yv" + want.symbol
	dv.shares.decimals = want.decimals
	st.contracts[d.Address] = dv

	ys := &yieldStrategy{
		self:        crypto.CreateAddress(d.Address, 1),
		vault:       d.Address,
		want:        d.Want,
		apr:         d.APR,
		keeper:      d.Governance,
		lastHarvest: g.StartTime,
	}
	st.contracts[ys.self] = ys
	dv.strategies[ys.self] = strategyParams{
		activation:        g.StartTime,
		debtRatio:         maxBPS,
		minDebtPerHarvest: math.ZeroInt(),
		maxDebtPerHarvest: maxUint256(),
		lastReport:        g.StartTime,
		totalDebt:         math.ZeroInt(),
		totalGain:         math.ZeroInt(),
		totalLoss:         math.ZeroInt(),
	}
	dv.debtRatio = maxBPS
	dv.queue = append(dv.queue, ys.self)
	return st
}
