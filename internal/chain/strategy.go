package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy is a handle on the leveraged lending strategy.
type Strategy struct {
	*Contract
}

// NewStrategy binds a strategy at addr.
func NewStrategy(b Backend, name string, addr common.Address) *Strategy {
	return &Strategy{Contract: NewContract(b, name, addr, StrategyABI())}
}

func (s *Strategy) Harvest(ctx context.Context, from common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "harvest")
}

func (s *Strategy) Tend(ctx context.Context, from common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "tend")
}

func (s *Strategy) SetKeeper(ctx context.Context, from, keeper common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "setKeeper", keeper)
}

func (s *Strategy) SetBorrowLimit(ctx context.Context, from common.Address, limit *big.Int) (*Receipt, error) {
	return s.Transact(ctx, from, "setBorrowLimit", limit)
}

func (s *Strategy) SetEmergencyExit(ctx context.Context, from common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "setEmergencyExit")
}

func (s *Strategy) SetTargetCollateralFactor(ctx context.Context, from common.Address, factor *big.Int) (*Receipt, error) {
	return s.Transact(ctx, from, "setTargetCollateralFactor", factor)
}

func (s *Strategy) SupplyCollateral(ctx context.Context, from common.Address, amount *big.Int) (*Receipt, error) {
	return s.Transact(ctx, from, "supplyCollateral", amount)
}

func (s *Strategy) RemoveCollateral(ctx context.Context, from common.Address, amount *big.Int) (*Receipt, error) {
	return s.Transact(ctx, from, "removeCollateral", amount)
}

func (s *Strategy) Sweep(ctx context.Context, from, token common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "sweep", token)
}

func (s *Strategy) Migrate(ctx context.Context, from, newStrategy common.Address) (*Receipt, error) {
	return s.Transact(ctx, from, "migrate", newStrategy)
}

func (s *Strategy) HarvestTrigger(ctx context.Context, callCost *big.Int) (bool, error) {
	return s.CallBool(ctx, "harvestTrigger", callCost)
}

func (s *Strategy) TendTrigger(ctx context.Context, callCost *big.Int) (bool, error) {
	return s.CallBool(ctx, "tendTrigger", callCost)
}

func (s *Strategy) EstimatedTotalAssets(ctx context.Context) (*big.Int, error) {
	return s.CallBig(ctx, "estimatedTotalAssets")
}

// View runs any zero-argument integer view by name, e.g. "valueOfDelegated".
func (s *Strategy) View(ctx context.Context, name string) (*big.Int, error) {
	return s.CallBig(ctx, name)
}
