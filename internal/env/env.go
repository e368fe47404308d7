// Package env provisions a chain for a scenario run: it resolves the named
// actors, binds token handles, funds the user from a whale and deploys and
// registers a fresh vault and strategy.
package env

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultharness/internal/chain"
	"github.com/roach88/vaultharness/internal/oracle"
)

// Actor roles.
const (
	RoleGov        = "gov"
	RoleUser       = "user"
	RoleRewards    = "rewards"
	RoleGuardian   = "guardian"
	RoleManagement = "management"
	RoleStrategist = "strategist"
	RoleKeeper     = "keeper"
)

// Roles lists every actor role in a stable order.
var Roles = []string{RoleGov, RoleUser, RoleRewards, RoleGuardian, RoleManagement, RoleStrategist, RoleKeeper}

// Well-known token keys.
const (
	TokenWant = "want"
	TokenWeth = "weth"
)

// Contract names bound by Provision.
const (
	NameVault          = "vault"
	NameStrategy       = "strategy"
	NameDelegatedVault = "delegated_vault"
)

// gasStipend is the native balance given to impersonated accounts that
// have none, so they can pay for transactions on a real node.
var gasStipend = new(big.Int).Mul(big.NewInt(100), chain.Pow10(18))

// Environment is a provisioned chain: actors, handles and run parameters.
type Environment struct {
	Backend chain.Backend
	Fixture *Fixture

	Actors  map[string]common.Address
	Whales  map[string]common.Address
	Tokens  map[string]*chain.Token
	Markets map[string]common.Address

	Want           *chain.Token
	Vault          *chain.Vault
	Strategy       *chain.Strategy
	DelegatedVault *chain.Vault

	// Amount is the want sent to the user, in token units.
	Amount *big.Int
	// WethAmount is the wrapped native the user holds, in wei.
	WethAmount *big.Int
	Tolerance  math.LegacyDec

	strategyArtifact *chain.Artifact
}

type options struct {
	logger *slog.Logger
}

// Option configures Provision.
type Option func(*options)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Provision sets up f on b. Any revert raised by the external contracts is
// returned unchanged, wrapped with the step that hit it.
func Provision(ctx context.Context, b chain.Backend, f *Fixture, opts ...Option) (*Environment, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	tol, err := oracle.ParseTolerance(f.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
	}
	e := &Environment{
		Backend:   b,
		Fixture:   f,
		Actors:    make(map[string]common.Address, len(Roles)),
		Whales:    make(map[string]common.Address, len(f.Whales)),
		Tokens:    make(map[string]*chain.Token, len(f.Tokens)),
		Markets:   make(map[string]common.Address, 3),
		Tolerance: tol,
	}

	if err := e.resolveActors(ctx); err != nil {
		return nil, err
	}
	if err := e.bindTokens(ctx); err != nil {
		return nil, err
	}
	if err := e.fundUser(ctx); err != nil {
		return nil, err
	}
	o.logger.Debug("actors funded", "user", e.Actors[RoleUser].Hex(), "amount", e.Amount)

	if err := e.deployVault(ctx); err != nil {
		return nil, err
	}
	o.logger.Debug("vault deployed", "address", e.Vault.Address.Hex())

	if err := e.deployStrategy(ctx); err != nil {
		return nil, err
	}
	o.logger.Debug("strategy registered", "address", e.Strategy.Address.Hex())
	return e, nil
}

func (e *Environment) impersonate(ctx context.Context, addr common.Address) error {
	if err := e.Backend.Impersonate(ctx, addr); err != nil {
		return fmt.Errorf("impersonate %s: %w", addr.Hex(), err)
	}
	bal, err := e.Backend.BalanceAt(ctx, addr)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	if bal.Sign() == 0 {
		if err := e.Backend.SetBalance(ctx, addr, gasStipend); err != nil {
			return fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func (e *Environment) resolveActors(ctx context.Context) error {
	accounts, err := e.Backend.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, role := range Roles {
		a, ok := e.Fixture.Actors[role]
		if !ok {
			return fmt.Errorf("fixture %s: no actor %q", e.Fixture.Name, role)
		}
		switch {
		case a.Account != nil:
			if *a.Account >= len(accounts) {
				return fmt.Errorf("actor %s: account %d out of range (node has %d)", role, *a.Account, len(accounts))
			}
			e.Actors[role] = accounts[*a.Account]
		default:
			addr, err := address("actor "+role, a.Address)
			if err != nil {
				return err
			}
			if err := e.impersonate(ctx, addr); err != nil {
				return fmt.Errorf("actor %s: %w", role, err)
			}
			e.Actors[role] = addr
		}
	}
	return nil
}

func (e *Environment) bindTokens(ctx context.Context) error {
	for _, name := range e.Fixture.TokenNames() {
		addr, err := address("token "+name, e.Fixture.Tokens[name])
		if err != nil {
			return err
		}
		tok := chain.NewToken(e.Backend, name, addr)
		if _, err := tok.Decimals(ctx); err != nil {
			return fmt.Errorf("bind token %s: %w", name, err)
		}
		e.Tokens[name] = tok
	}
	e.Want = e.Tokens[TokenWant]

	for name, raw := range map[string]string{
		"cWant":     e.Fixture.Markets.CWant,
		"cBorrowed": e.Fixture.Markets.CBorrowed,
		"cReward":   e.Fixture.Markets.CReward,
	} {
		addr, err := address("market "+name, raw)
		if err != nil {
			return err
		}
		e.Markets[name] = addr
	}

	dv, err := address(NameDelegatedVault, e.Fixture.DelegatedVault)
	if err != nil {
		return err
	}
	e.DelegatedVault = chain.NewVault(e.Backend, NameDelegatedVault, dv)
	return nil
}

func (e *Environment) fundUser(ctx context.Context) error {
	for name, raw := range e.Fixture.Whales {
		addr, err := address("whale "+name, raw)
		if err != nil {
			return err
		}
		if err := e.impersonate(ctx, addr); err != nil {
			return fmt.Errorf("whale %s: %w", name, err)
		}
		e.Whales[name] = addr
	}

	unit, err := e.Want.Unit(ctx)
	if err != nil {
		return fmt.Errorf("fund user: %w", err)
	}
	e.Amount = new(big.Int).Mul(big.NewInt(e.Fixture.Amount), unit)
	user := e.Actors[RoleUser]
	if _, err := e.Want.Transfer(ctx, e.Whales[TokenWant], user, e.Amount); err != nil {
		return fmt.Errorf("fund user from want whale: %w", err)
	}

	e.WethAmount = new(big.Int)
	if e.Fixture.WethAmount > 0 {
		weth := e.Tokens[TokenWeth]
		e.WethAmount.Mul(big.NewInt(e.Fixture.WethAmount), chain.Pow10(18))
		if _, err := e.Backend.SendValue(ctx, user, weth.Address, e.WethAmount); err != nil {
			return fmt.Errorf("wrap native for user: %w", err)
		}
	}
	return nil
}

func (e *Environment) deployVault(ctx context.Context) error {
	artifact, err := e.Fixture.artifact(e.Fixture.Artifacts.Vault)
	if err != nil {
		return fmt.Errorf("vault artifact: %w", err)
	}
	guardian, gov := e.Actors[RoleGuardian], e.Actors[RoleGov]

	addr, _, err := e.Backend.Deploy(ctx, guardian, artifact)
	if err != nil {
		return fmt.Errorf("deploy vault: %w", err)
	}
	e.Vault = chain.NewVault(e.Backend, NameVault, addr)

	if _, err := e.Vault.Initialize(ctx, guardian, e.Want.Address, gov, e.Actors[RoleRewards], guardian); err != nil {
		return fmt.Errorf("initialize vault: %w", err)
	}
	if _, err := e.Vault.SetDepositLimit(ctx, gov, chain.MaxUint256()); err != nil {
		return fmt.Errorf("set deposit limit: %w", err)
	}
	if _, err := e.Vault.SetManagement(ctx, gov, e.Actors[RoleManagement]); err != nil {
		return fmt.Errorf("set management: %w", err)
	}
	return nil
}

func (e *Environment) deployStrategy(ctx context.Context) error {
	artifact, err := e.Fixture.artifact(e.Fixture.Artifacts.Strategy)
	if err != nil {
		return fmt.Errorf("strategy artifact: %w", err)
	}
	e.strategyArtifact = artifact

	strategist := e.Actors[RoleStrategist]
	s, err := DeployStrategy(ctx, e, strategist)
	if err != nil {
		return err
	}
	e.Strategy = s

	if _, err := s.SetKeeper(ctx, strategist, e.Actors[RoleKeeper]); err != nil {
		return fmt.Errorf("set keeper: %w", err)
	}

	reg := e.Fixture.Registration
	minDebt, maxDebt, err := reg.amounts()
	if err != nil {
		return err
	}
	if _, err := e.Vault.AddStrategy(ctx, e.Actors[RoleGov], s.Address,
		big.NewInt(reg.DebtRatio), minDebt, maxDebt, big.NewInt(reg.PerformanceFee)); err != nil {
		return fmt.Errorf("add strategy: %w", err)
	}
	return nil
}

// DeployStrategy deploys another strategy against the same vault and
// markets, for example as a migration target. It is not registered.
func DeployStrategy(ctx context.Context, e *Environment, from common.Address) (*chain.Strategy, error) {
	artifact := e.strategyArtifact
	if artifact == nil {
		var err error
		if artifact, err = e.Fixture.artifact(e.Fixture.Artifacts.Strategy); err != nil {
			return nil, fmt.Errorf("strategy artifact: %w", err)
		}
	}
	addr, _, err := e.Backend.Deploy(ctx, from, artifact,
		e.Vault.Address, e.Markets["cWant"], e.Markets["cBorrowed"], e.Markets["cReward"], e.DelegatedVault.Address)
	if err != nil {
		return nil, fmt.Errorf("deploy strategy: %w", err)
	}
	return chain.NewStrategy(e.Backend, NameStrategy, addr), nil
}

// Names maps every name a scenario may use to an address: actors, tokens,
// markets, whales as "<token>_whale", the vault, the strategy and the
// delegated vault.
func (e *Environment) Names() map[string]common.Address {
	out := make(map[string]common.Address)
	for role, addr := range e.Actors {
		out[role] = addr
	}
	for name, tok := range e.Tokens {
		out[name] = tok.Address
	}
	for name, addr := range e.Markets {
		out[name] = addr
	}
	for name, addr := range e.Whales {
		out[name+"_whale"] = addr
	}
	out[NameDelegatedVault] = e.DelegatedVault.Address
	if e.Vault != nil {
		out[NameVault] = e.Vault.Address
	}
	if e.Strategy != nil {
		out[NameStrategy] = e.Strategy.Address
	}
	return out
}

// Kind returns the contract kind of a bound name, or "" for plain
// addresses such as actors and markets.
func (e *Environment) Kind(name string) string {
	switch name {
	case NameVault, NameDelegatedVault:
		return chain.KindVault
	case NameStrategy:
		return chain.KindStrategy
	}
	if _, ok := e.Tokens[name]; ok {
		return chain.KindToken
	}
	return ""
}
