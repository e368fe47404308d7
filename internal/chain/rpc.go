package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// NodeFlavor selects the namespace of the node's test-control methods.
type NodeFlavor string

const (
	FlavorAnvil   NodeFlavor = "anvil"
	FlavorHardhat NodeFlavor = "hardhat"
)

// ParseNodeFlavor validates a flavor name.
func ParseNodeFlavor(s string) (NodeFlavor, error) {
	switch NodeFlavor(s) {
	case FlavorAnvil, FlavorHardhat:
		return NodeFlavor(s), nil
	default:
		return "", fmt.Errorf("unknown node flavor %q (want anvil or hardhat)", s)
	}
}

// RPCBackend drives a forked development node over JSON-RPC. Transactions
// go through eth_sendTransaction, so senders must be node accounts or
// impersonated.
type RPCBackend struct {
	rpc    *rpc.Client
	eth    *ethclient.Client
	flavor NodeFlavor

	txTimeout    time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// RPCOption configures an RPCBackend.
type RPCOption func(*RPCBackend)

// WithNodeFlavor sets the test-control namespace (default anvil).
func WithNodeFlavor(f NodeFlavor) RPCOption {
	return func(b *RPCBackend) { b.flavor = f }
}

// WithTxTimeout bounds how long Transact waits for a receipt.
func WithTxTimeout(d time.Duration) RPCOption {
	return func(b *RPCBackend) { b.txTimeout = d }
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) RPCOption {
	return func(b *RPCBackend) { b.pollInterval = d }
}

// WithRPCLogger sets the logger.
func WithRPCLogger(l *slog.Logger) RPCOption {
	return func(b *RPCBackend) { b.logger = l }
}

// DialRPC connects to a node at url.
func DialRPC(ctx context.Context, url string, opts ...RPCOption) (*RPCBackend, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	b := &RPCBackend{
		rpc:          c,
		eth:          ethclient.NewClient(c),
		flavor:       FlavorAnvil,
		txTimeout:    30 * time.Second,
		pollInterval: 100 * time.Millisecond,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close releases the connection.
func (b *RPCBackend) Close() {
	b.rpc.Close()
}

func (b *RPCBackend) Accounts(ctx context.Context) ([]common.Address, error) {
	var accts []common.Address
	if err := b.rpc.CallContext(ctx, &accts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accts, nil
}

func (b *RPCBackend) Impersonate(ctx context.Context, addr common.Address) error {
	method := string(b.flavor) + "_impersonateAccount"
	if err := b.rpc.CallContext(ctx, nil, method, addr); err != nil {
		return fmt.Errorf("%s %s: %w", method, addr.Hex(), err)
	}
	return nil
}

func (b *RPCBackend) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	method := string(b.flavor) + "_setBalance"
	if err := b.rpc.CallContext(ctx, nil, method, addr, (*hexutil.Big)(wei)); err != nil {
		return fmt.Errorf("%s %s: %w", method, addr.Hex(), err)
	}
	return nil
}

func (b *RPCBackend) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return b.eth.BalanceAt(ctx, addr, nil)
}

func (b *RPCBackend) Call(ctx context.Context, msg CallMsg) ([]any, error) {
	m, err := ResolveMethod(msg.ABI, msg.Method, len(msg.Args))
	if err != nil {
		return nil, err
	}
	input, err := msg.ABI.Pack(m.Name, msg.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", msg.Method, err)
	}
	to := msg.To
	out, err := b.eth.CallContract(ctx, ethereum.CallMsg{From: msg.From, To: &to, Data: input}, nil)
	if err != nil {
		return nil, revertFromRPC(msg.Method, err)
	}
	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, fmt.Errorf("%s: %w", msg.Method, errNoCode(msg.To))
	}
	values, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", msg.Method, err)
	}
	return values, nil
}

func (b *RPCBackend) Transact(ctx context.Context, msg CallMsg) (*Receipt, error) {
	m, err := ResolveMethod(msg.ABI, msg.Method, len(msg.Args))
	if err != nil {
		return nil, err
	}
	input, err := msg.ABI.Pack(m.Name, msg.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", msg.Method, err)
	}
	to := msg.To
	return b.send(ctx, msg.Method, txArgs{From: msg.From, To: &to, Data: input})
}

func (b *RPCBackend) Deploy(ctx context.Context, from common.Address, artifact *Artifact, args ...any) (common.Address, *Receipt, error) {
	code, err := artifact.Code(args...)
	if err != nil {
		return common.Address{}, nil, err
	}
	rcpt, err := b.send(ctx, "deploy "+artifact.Name, txArgs{From: from, Data: code})
	if err != nil {
		return common.Address{}, nil, err
	}
	return rcpt.ContractAddress, rcpt, nil
}

func (b *RPCBackend) SendValue(ctx context.Context, from, to common.Address, wei *big.Int) (*Receipt, error) {
	return b.send(ctx, "transfer", txArgs{From: from, To: &to, Value: wei})
}

func (b *RPCBackend) AdvanceTime(ctx context.Context, seconds uint64) error {
	var res any
	if err := b.rpc.CallContext(ctx, &res, "evm_increaseTime", seconds); err != nil {
		return fmt.Errorf("evm_increaseTime: %w", err)
	}
	return nil
}

func (b *RPCBackend) Mine(ctx context.Context, blocks uint64) error {
	for i := uint64(0); i < blocks; i++ {
		if err := b.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
			return fmt.Errorf("evm_mine: %w", err)
		}
	}
	return nil
}

func (b *RPCBackend) Now(ctx context.Context) (uint64, error) {
	head, err := b.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return head.Time, nil
}

// Snapshot checkpoints node state with evm_snapshot.
func (b *RPCBackend) Snapshot(ctx context.Context) (string, error) {
	var id string
	if err := b.rpc.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return "", fmt.Errorf("evm_snapshot: %w", err)
	}
	return id, nil
}

// Revert restores a checkpoint. Nodes consume the snapshot on revert.
func (b *RPCBackend) Revert(ctx context.Context, id string) error {
	var ok bool
	if err := b.rpc.CallContext(ctx, &ok, "evm_revert", id); err != nil {
		return fmt.Errorf("evm_revert %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("evm_revert %s: node refused", id)
	}
	return nil
}

type txArgs struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

type txArgsJSON struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

func (b *RPCBackend) send(ctx context.Context, label string, tx txArgs) (*Receipt, error) {
	wire := txArgsJSON{From: tx.From, To: tx.To, Data: tx.Data}
	if tx.Value != nil {
		wire.Value = (*hexutil.Big)(tx.Value)
	}

	var hash common.Hash
	if err := b.rpc.CallContext(ctx, &hash, "eth_sendTransaction", wire); err != nil {
		return nil, revertFromRPC(label, err)
	}

	rcpt, err := b.waitReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	b.logger.Debug("transaction mined",
		"label", label,
		"tx", hash.Hex(),
		"block", rcpt.BlockNumber,
		"gas", rcpt.GasUsed)

	if rcpt.Status == types.ReceiptStatusFailed {
		return nil, b.replayRevert(ctx, label, wire, rcpt.BlockNumber)
	}

	out := &Receipt{
		TxHash:          rcpt.TxHash,
		GasUsed:         rcpt.GasUsed,
		ContractAddress: rcpt.ContractAddress,
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	return out, nil
}

func (b *RPCBackend) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, b.txTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := b.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a failed transaction as a call against the
// parent block to recover the revert reason.
func (b *RPCBackend) replayRevert(ctx context.Context, label string, tx txArgsJSON, block *big.Int) error {
	msg := ethereum.CallMsg{From: tx.From, To: tx.To, Data: tx.Data}
	if tx.Value != nil {
		msg.Value = tx.Value.ToInt()
	}
	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, big.NewInt(1))
	}
	_, err := b.eth.CallContract(ctx, msg, at)
	if err != nil {
		if re := revertFromRPC(label, err); IsRevert(re) {
			return re
		}
	}
	return &RevertError{Method: label}
}

func errNoCode(addr common.Address) error {
	return fmt.Errorf("%w at %s", ErrNoCode, addr.Hex())
}
