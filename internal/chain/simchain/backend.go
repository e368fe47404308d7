package simchain

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/vaultharness/internal/chain"
)

// Backend is an in-process chain.Backend and chain.Snapshotter.
type Backend struct {
	mu sync.Mutex

	st           *state
	accounts     []common.Address
	impersonated map[common.Address]bool
	snapshots    map[string]*state
	nextSnapshot uint64
	txCount      uint64

	genesis Genesis
	logger  *slog.Logger
}

var (
	_ chain.Backend     = (*Backend)(nil)
	_ chain.Snapshotter = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithGenesis replaces DefaultGenesis.
func WithGenesis(g Genesis) Option {
	return func(b *Backend) { b.genesis = g }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a simulated chain at genesis.
func New(opts ...Option) *Backend {
	b := &Backend{
		genesis:      DefaultGenesis(),
		impersonated: make(map[common.Address]bool),
		snapshots:    make(map[string]*state),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.st = b.genesis.build()
	for i := range b.genesis.Accounts {
		addr := accountAddress(i)
		b.accounts = append(b.accounts, addr)
		b.st.native[addr] = b.genesis.AccountBalance
	}
	return b
}

func accountAddress(i int) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("simchain/account/" + strconv.Itoa(i))))
}

// Accounts returns the unlocked accounts.
func (b *Backend) Accounts(ctx context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(b.accounts))
	copy(out, b.accounts)
	return out, nil
}

// Impersonate unlocks addr.
func (b *Backend) Impersonate(ctx context.Context, addr common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.impersonated[addr] = true
	return nil
}

// SetBalance overwrites the native balance of addr.
func (b *Backend) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.native[addr] = math.NewIntFromBigInt(wei)
	return nil
}

// BalanceAt returns the native balance of addr.
func (b *Backend) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.nativeBalance(addr).BigInt(), nil
}

func (b *Backend) unlocked(addr common.Address) bool {
	if b.impersonated[addr] {
		return true
	}
	for _, a := range b.accounts {
		if a == addr {
			return true
		}
	}
	return false
}

// resolve checks that msg names a method of its ABI with arguments that
// encode, as they would for a real node, and that the target has code.
// It returns the Solidity method name.
func (b *Backend) resolve(msg chain.CallMsg) (string, error) {
	if msg.ABI == nil {
		return "", fmt.Errorf("%s: no abi", msg.Method)
	}
	m, err := chain.ResolveMethod(msg.ABI, msg.Method, len(msg.Args))
	if err != nil {
		return "", err
	}
	if _, err := msg.ABI.Pack(m.Name, msg.Args...); err != nil {
		return "", fmt.Errorf("encode %s: %w", m.Sig, err)
	}
	if _, ok := b.st.contracts[msg.To]; !ok {
		return "", fmt.Errorf("%s at %s: %w", msg.Method, msg.To.Hex(), chain.ErrNoCode)
	}
	return m.RawName, nil
}

// Call executes a view against a throwaway copy of the state.
func (b *Backend) Call(ctx context.Context, msg chain.CallMsg) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	method, err := b.resolve(msg)
	if err != nil {
		return nil, err
	}
	st := b.st.clone()
	x := &execCtx{st: st, from: msg.From, self: msg.To, method: method, view: true}
	return call(st.contracts[msg.To], x, method, msg.Args)
}

// Transact executes msg and commits its effects only if it succeeds.
func (b *Backend) Transact(ctx context.Context, msg chain.CallMsg) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.unlocked(msg.From) {
		return nil, fmt.Errorf("%s from %s: %w", msg.Method, msg.From.Hex(), chain.ErrSenderLocked)
	}
	method, err := b.resolve(msg)
	if err != nil {
		return nil, err
	}

	st := b.st.clone()
	x := &execCtx{st: st, from: msg.From, self: msg.To, method: method}
	if _, err := call(st.contracts[msg.To], x, method, msg.Args); err != nil {
		b.logger.Debug("transaction failed", "method", method, "from", msg.From.Hex(), "error", err)
		return nil, err
	}
	return b.commit(st, msg.From, msg.To, method, common.Address{}), nil
}

// Deploy instantiates a builtin model. Bytecode is ignored: the simulator
// knows contracts by artifact name only.
func (b *Backend) Deploy(ctx context.Context, from common.Address, artifact *chain.Artifact, args ...any) (common.Address, *chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.unlocked(from) {
		return common.Address{}, nil, fmt.Errorf("deploy %s from %s: %w", artifact.Name, from.Hex(), chain.ErrSenderLocked)
	}
	if _, err := artifact.ABI.Pack("", args...); err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", artifact.Name, err)
	}

	st := b.st.clone()
	addr := crypto.CreateAddress(from, st.nonces[from])
	x := &execCtx{st: st, from: from, self: addr, method: "constructor"}

	switch artifact.Name {
	case chain.ArtifactVault:
		st.contracts[addr] = newVault(addr)
	case chain.ArtifactStrategy:
		if len(args) != 5 {
			return common.Address{}, nil, fmt.Errorf("deploy %s: want 5 constructor arguments, got %d", artifact.Name, len(args))
		}
		s, err := newLendingStrategy(x, addr, b.genesis.Weth, b.genesis.CollateralMarket, args)
		if err != nil {
			return common.Address{}, nil, err
		}
		st.contracts[addr] = s
	default:
		return common.Address{}, nil, fmt.Errorf("simchain has no model for artifact %q", artifact.Name)
	}

	b.logger.Debug("deployed", "artifact", artifact.Name, "address", addr.Hex())
	return addr, b.commit(st, from, common.Address{}, "constructor", addr), nil
}

// SendValue moves native currency. Sending to the wrapped-native token
// mints the wrapped token to the sender.
func (b *Backend) SendValue(ctx context.Context, from, to common.Address, wei *big.Int) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.unlocked(from) {
		return nil, fmt.Errorf("send from %s: %w", from.Hex(), chain.ErrSenderLocked)
	}
	amt := math.NewIntFromBigInt(wei)
	st := b.st.clone()
	bal := st.nativeBalance(from)
	if bal.LT(amt) {
		return nil, fmt.Errorf("send %s wei from %s: insufficient funds", wei, from.Hex())
	}
	st.native[from] = bal.Sub(amt)

	if c, ok := st.contracts[to]; ok {
		t, isToken := c.(*token)
		if !isToken || !t.wrapsNative {
			return nil, &chain.RevertError{Method: "receive"}
		}
		t.mint(from, amt)
	}
	st.native[to] = st.nativeBalance(to).Add(amt)
	return b.commit(st, from, to, "transfer", common.Address{}), nil
}

// commit installs st as the new head and builds the receipt.
func (b *Backend) commit(st *state, from, to common.Address, method string, created common.Address) *chain.Receipt {
	st.block++
	st.nonces[from]++
	b.st = st
	b.txCount++

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], b.txCount)
	hash := crypto.Keccak256Hash(from.Bytes(), to.Bytes(), []byte(method), n[:])
	return &chain.Receipt{
		TxHash:          hash,
		BlockNumber:     st.block,
		ContractAddress: created,
	}
}

// AdvanceTime moves the clock. Interest and profit unlocks are computed
// from it lazily.
func (b *Backend) AdvanceTime(ctx context.Context, seconds uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.now += seconds
	return nil
}

// Mine produces empty blocks. The clock does not move.
func (b *Backend) Mine(ctx context.Context, blocks uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.block += blocks
	return nil
}

// Now returns the chain time.
func (b *Backend) Now(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.now, nil
}

// BlockNumber returns the head block.
func (b *Backend) BlockNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.block
}

// Snapshot saves the current state. Ids are hex counters like a node's.
func (b *Backend) Snapshot(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSnapshot++
	id := hexutil.EncodeUint64(b.nextSnapshot)
	b.snapshots[id] = b.st.clone()
	return id, nil
}

// Revert restores a snapshot and consumes it.
func (b *Backend) Revert(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.snapshots[id]
	if !ok {
		return fmt.Errorf("unknown snapshot %s", id)
	}
	delete(b.snapshots, id)
	b.st = st
	return nil
}
