package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is a handle on a pooled vault. Its shares are an ERC-20, so
// BalanceOf and TotalSupply come from Token.
type Vault struct {
	*Token
}

// NewVault binds a vault at addr.
func NewVault(b Backend, name string, addr common.Address) *Vault {
	return &Vault{Token: &Token{Contract: NewContract(b, name, addr, VaultABI())}}
}

// Initialize sets the vault's want token and roles. Empty name and symbol
// overrides let the vault derive its own.
func (v *Vault) Initialize(ctx context.Context, from, want, governance, rewards, guardian common.Address) (*Receipt, error) {
	return v.Transact(ctx, from, "initialize", want, governance, rewards, "", "", guardian)
}

func (v *Vault) SetDepositLimit(ctx context.Context, from common.Address, limit *big.Int) (*Receipt, error) {
	return v.Transact(ctx, from, "setDepositLimit", limit)
}

func (v *Vault) SetManagement(ctx context.Context, from, management common.Address) (*Receipt, error) {
	return v.Transact(ctx, from, "setManagement", management)
}

// AddStrategy registers strategy with a debt ratio in basis points, per
// harvest debt bounds and a performance fee in basis points.
func (v *Vault) AddStrategy(ctx context.Context, from, strategy common.Address, debtRatio, minDebt, maxDebt, perfFee *big.Int) (*Receipt, error) {
	return v.Transact(ctx, from, "addStrategy", strategy, debtRatio, minDebt, maxDebt, perfFee)
}

func (v *Vault) UpdateStrategyDebtRatio(ctx context.Context, from, strategy common.Address, debtRatio *big.Int) (*Receipt, error) {
	return v.Transact(ctx, from, "updateStrategyDebtRatio", strategy, debtRatio)
}

func (v *Vault) Deposit(ctx context.Context, from common.Address, amount *big.Int) (*Receipt, error) {
	return v.Transact(ctx, from, "deposit", amount)
}

// WithdrawAll redeems every share held by from.
func (v *Vault) WithdrawAll(ctx context.Context, from common.Address) (*Receipt, error) {
	return v.Transact(ctx, from, "withdraw")
}

func (v *Vault) Want(ctx context.Context) (common.Address, error) {
	return v.CallAddress(ctx, "token")
}

func (v *Vault) Governance(ctx context.Context) (common.Address, error) {
	return v.CallAddress(ctx, "governance")
}

func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	return v.CallBig(ctx, "totalAssets")
}

func (v *Vault) PricePerShare(ctx context.Context) (*big.Int, error) {
	return v.CallBig(ctx, "pricePerShare")
}

func (v *Vault) WithdrawalQueue(ctx context.Context, i int64) (common.Address, error) {
	return v.CallAddress(ctx, "withdrawalQueue", big.NewInt(i))
}

func (v *Vault) StrategyTotalDebt(ctx context.Context, strategy common.Address) (*big.Int, error) {
	return v.CallBig(ctx, "strategyTotalDebt", strategy)
}
