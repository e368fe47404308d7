package inspect

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"cosmossdk.io/math"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultharness/internal/chain/simchain"
	"github.com/roach88/vaultharness/internal/env"
	"github.com/roach88/vaultharness/internal/oracle"
)

func wad(s string) *big.Int {
	return math.LegacyMustNewDecFromStr(s).BigInt()
}

func TestPrint_Strategy(t *testing.T) {
	snap := &StrategySnapshot{
		Decimals:               18,
		BalanceOfWant:          big.NewInt(1_500_000_000_000_000_000),
		BalanceOfReward:        big.NewInt(0),
		ValueOfCWant:           wad("10"),
		ValueOfCSuppliedUSD:    wad("3000"),
		ValueOfxInvUSD:         big.NewInt(0),
		ValueOfTotalCollateral: wad("181500"),
		ValueOfBorrowedOwedUSD: wad("1234.5"),
		ValueOfDelegatedUSD:    wad("1234.5"),
		EstimatedTotalAssets:   wad("10.000001"),
		DelegatedAssets:        wad("0.4115"),
	}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, snap))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "strategy_print", buf.Bytes())
}

func TestPrint_Vault(t *testing.T) {
	snap := &VaultSnapshot{
		Decimals:             18,
		TotalAssets:          wad("10"),
		PricePerShare:        wad("1.05"),
		WantInVault:          big.NewInt(0),
		EstimatedTotalAssets: wad("10.5"),
	}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, snap))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "vault_print", buf.Bytes())
}

func TestFixed(t *testing.T) {
	tests := []struct {
		v      *big.Int
		places uint8
		want   string
	}{
		{big.NewInt(0), 18, "0"},
		{wad("1"), 18, "1"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(1_234_500), 6, "1.2345"},
		{big.NewInt(100), 0, "100"},
		// beyond 18 places the extra digits are truncated
		{new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil), 24, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, fixed(tt.v, tt.places))
		})
	}
}

func TestMetrics(t *testing.T) {
	snap := &VaultSnapshot{
		TotalAssets:   big.NewInt(10),
		PricePerShare: big.NewInt(1),
	}
	m := Metrics(snap)

	assert.Equal(t, map[string]any{
		"totalAssets":   big.NewInt(10),
		"pricePerShare": big.NewInt(1),
	}, m)

	// values are copies
	m["totalAssets"].(*big.Int).SetInt64(0)
	assert.Equal(t, int64(10), snap.TotalAssets.Int64())

	assert.Empty(t, Metrics("not a snapshot"))
}

func TestStrategyAndVault_AfterHarvest(t *testing.T) {
	ctx := context.Background()
	f, err := env.LoadFixture("../../testdata/fixtures/inverse.cue")
	require.NoError(t, err)
	e, err := env.Provision(ctx, simchain.New(), f)
	require.NoError(t, err)

	user := e.Actors[env.RoleUser]
	_, err = e.Want.Approve(ctx, user, e.Vault.Address, e.Amount)
	require.NoError(t, err)
	_, err = e.Vault.Deposit(ctx, user, e.Amount)
	require.NoError(t, err)
	_, err = e.Strategy.Harvest(ctx, e.Actors[env.RoleStrategist])
	require.NoError(t, err)

	tol := math.LegacyMustNewDecFromStr("0.001")

	strat, err := Strategy(ctx, e.Strategy, e.Want)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), strat.Decimals)
	require.NotNil(t, strat.EstimatedTotalAssets)
	assert.NoError(t, oracle.Approx(strat.EstimatedTotalAssets, e.Amount, tol))
	// with no borrow limit nothing is borrowed or delegated
	assert.Zero(t, strat.ValueOfBorrowedOwedUSD.Sign())
	assert.Zero(t, strat.DelegatedAssets.Sign())

	vault, err := Vault(ctx, e.Vault, e.Strategy, e.Want)
	require.NoError(t, err)
	assert.NoError(t, oracle.Approx(vault.TotalAssets, e.Amount, tol))
	assert.Zero(t, vault.WantInVault.Sign())
	assert.Equal(t, strat.EstimatedTotalAssets.String(), vault.EstimatedTotalAssets.String())

	m := Metrics(strat)
	assert.Len(t, m, 11)
	assert.Contains(t, m, "valueOfTotalCollateral")

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, vault))
	assert.Contains(t, buf.String(), "totalAssets:")
}
