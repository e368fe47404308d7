// Package inspect reads the observable state of a strategy and its vault.
//
// Everything here is a view call; nothing mutates the chain. The values
// returned are the same ones scenario assertions check.
package inspect

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"cosmossdk.io/math"

	"github.com/roach88/vaultharness/internal/chain"
)

// StrategySnapshot holds the strategy's accessors. Fields ending in USD
// are dollars scaled by 1e18; the rest are in want or token units.
type StrategySnapshot struct {
	Decimals uint8

	BalanceOfWant          *big.Int
	BalanceOfReward        *big.Int
	BalanceOfEth           *big.Int
	ValueOfCWant           *big.Int
	ValueOfCSuppliedUSD    *big.Int
	ValueOfxInvUSD         *big.Int
	ValueOfTotalCollateral *big.Int
	ValueOfBorrowedOwedUSD *big.Int
	ValueOfDelegatedUSD    *big.Int
	EstimatedTotalAssets   *big.Int
	DelegatedAssets        *big.Int
}

// strategyViews maps each snapshot field to its accessor, in print order.
func (s *StrategySnapshot) strategyViews() []field {
	return []field{
		{"balanceOfWant", &s.BalanceOfWant, scaleRaw},
		{"balanceOfReward", &s.BalanceOfReward, scaleRaw},
		{"balanceOfEth", &s.BalanceOfEth, scaleRaw},
		{"valueOfCWant", &s.ValueOfCWant, scaleWant},
		{"valueOfCSupplied", &s.ValueOfCSuppliedUSD, scaleUSD},
		{"valueOfxInv", &s.ValueOfxInvUSD, scaleUSD},
		{"valueOfTotalCollateral", &s.ValueOfTotalCollateral, scaleUSD},
		{"valueOfBorrowedOwed", &s.ValueOfBorrowedOwedUSD, scaleUSD},
		{"valueOfDelegated", &s.ValueOfDelegatedUSD, scaleUSD},
		{"estimatedTotalAssets", &s.EstimatedTotalAssets, scaleWant},
		{"delegatedAssets", &s.DelegatedAssets, scaleWant},
	}
}

// VaultSnapshot holds the vault-level view of one strategy.
type VaultSnapshot struct {
	Decimals uint8

	TotalAssets          *big.Int
	PricePerShare        *big.Int
	WantInVault          *big.Int
	EstimatedTotalAssets *big.Int
}

func (v *VaultSnapshot) vaultViews() []field {
	return []field{
		{"totalAssets", &v.TotalAssets, scaleWant},
		{"pricePerShare", &v.PricePerShare, scaleWant},
		{"wantInVault", &v.WantInVault, scaleWant},
		{"strategyTotalAssets", &v.EstimatedTotalAssets, scaleWant},
	}
}

type scale int

const (
	scaleRaw scale = iota
	scaleUSD
	scaleWant
)

type field struct {
	name  string
	dst   **big.Int
	scale scale
}

// Strategy reads every accessor of strategy. want supplies the decimals
// used when printing.
func Strategy(ctx context.Context, strategy *chain.Strategy, want *chain.Token) (*StrategySnapshot, error) {
	dec, err := want.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect strategy: %w", err)
	}
	snap := &StrategySnapshot{Decimals: dec}
	for _, f := range snap.strategyViews() {
		v, err := strategy.View(ctx, f.name)
		if err != nil {
			return nil, fmt.Errorf("inspect strategy: %w", err)
		}
		*f.dst = v
	}
	return snap, nil
}

// Vault reads the vault's totals, the want it holds idle and the
// strategy's estimate.
func Vault(ctx context.Context, vault *chain.Vault, strategy *chain.Strategy, want *chain.Token) (*VaultSnapshot, error) {
	dec, err := want.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect vault: %w", err)
	}
	snap := &VaultSnapshot{Decimals: dec}
	if snap.TotalAssets, err = vault.TotalAssets(ctx); err != nil {
		return nil, fmt.Errorf("inspect vault: %w", err)
	}
	if snap.PricePerShare, err = vault.PricePerShare(ctx); err != nil {
		return nil, fmt.Errorf("inspect vault: %w", err)
	}
	if snap.WantInVault, err = want.BalanceOf(ctx, vault.Address); err != nil {
		return nil, fmt.Errorf("inspect vault: %w", err)
	}
	if snap.EstimatedTotalAssets, err = strategy.EstimatedTotalAssets(ctx); err != nil {
		return nil, fmt.Errorf("inspect vault: %w", err)
	}
	return snap, nil
}

// Metrics flattens a snapshot into raw integer values keyed by accessor
// name, for the run log.
func Metrics(snap any) map[string]any {
	out := make(map[string]any)
	for _, f := range fieldsOf(snap) {
		if *f.dst != nil {
			out[f.name] = new(big.Int).Set(*f.dst)
		}
	}
	return out
}

func fieldsOf(snap any) []field {
	switch s := snap.(type) {
	case *StrategySnapshot:
		return s.strategyViews()
	case *VaultSnapshot:
		return s.vaultViews()
	}
	return nil
}

func decimalsOf(snap any) uint8 {
	switch s := snap.(type) {
	case *StrategySnapshot:
		return s.Decimals
	case *VaultSnapshot:
		return s.Decimals
	}
	return 0
}

// Print writes a human-readable dump. USD values are divided by 1e18 and
// want values by 10^decimals.
func Print(w io.Writer, snap any) error {
	title := "State of Strat"
	if _, ok := snap.(*VaultSnapshot); ok {
		title = "State of Vault"
	}
	if _, err := fmt.Fprintf(w, "----- %s -----\n", title); err != nil {
		return err
	}
	dec := decimalsOf(snap)
	for _, f := range fieldsOf(snap) {
		if _, err := fmt.Fprintf(w, "%-24s %s\n", f.name+":", format(*f.dst, f.scale, dec)); err != nil {
			return err
		}
	}
	return nil
}

// format renders v for the given scale. Raw values print as integers.
func format(v *big.Int, s scale, decimals uint8) string {
	if v == nil {
		return "-"
	}
	switch s {
	case scaleUSD:
		return fixed(v, 18) + " USD"
	case scaleWant:
		return fixed(v, decimals)
	}
	return v.String()
}

// fixed prints v / 10^places with trailing zeros trimmed.
func fixed(v *big.Int, places uint8) string {
	if places > math.LegacyPrecision {
		v = new(big.Int).Quo(v, chain.Pow10(places-math.LegacyPrecision))
		places = math.LegacyPrecision
	}
	d := math.LegacyNewDecFromBigIntWithPrec(v, int64(places))
	s := d.String()
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return trimDot(s)
}

func trimDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
