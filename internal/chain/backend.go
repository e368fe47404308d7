package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is a chain the harness can drive.
//
// Call never changes state. Transact either applies all of a transaction's
// effects or none of them; a revert is reported as *RevertError.
type Backend interface {
	// Accounts returns the node's unlocked accounts in index order.
	Accounts(ctx context.Context) ([]common.Address, error)

	// Impersonate lets Transact send from addr without its key.
	Impersonate(ctx context.Context, addr common.Address) error

	// SetBalance overwrites the native balance of addr.
	SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error

	// BalanceAt returns the native balance of addr.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// Call executes a read-only method and returns its decoded outputs.
	Call(ctx context.Context, msg CallMsg) ([]any, error)

	// Transact sends a state-changing call from msg.From.
	Transact(ctx context.Context, msg CallMsg) (*Receipt, error)

	// Deploy creates a contract from artifact with constructor args.
	Deploy(ctx context.Context, from common.Address, artifact *Artifact, args ...any) (common.Address, *Receipt, error)

	// SendValue transfers native currency.
	SendValue(ctx context.Context, from, to common.Address, wei *big.Int) (*Receipt, error)

	// AdvanceTime moves the chain clock forward.
	AdvanceTime(ctx context.Context, seconds uint64) error

	// Mine produces blocks.
	Mine(ctx context.Context, blocks uint64) error

	// Now returns the timestamp of the latest block.
	Now(ctx context.Context) (uint64, error)
}

// Snapshotter is implemented by backends that can checkpoint and restore
// the whole chain state. The harness uses it to isolate scenarios.
type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
	Revert(ctx context.Context, id string) error
}

// CallMsg names a method on a contract. Method is the Solidity name;
// overloads are told apart by len(Args).
type CallMsg struct {
	From   common.Address
	To     common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
}

// Receipt is the subset of a transaction receipt the harness records.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
}
