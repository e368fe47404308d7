package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeRevert is a revert as a node reports it: code 3 with the ABI-encoded
// reason in the error data.
type nodeRevert struct{ data string }

func (e *nodeRevert) Error() string  { return "execution reverted" }
func (e *nodeRevert) ErrorCode() int { return 3 }
func (e *nodeRevert) ErrorData() any { return e.data }

// fakeNode holds the state shared by the eth, evm and flavor services.
type fakeNode struct {
	mu sync.Mutex

	accounts []common.Address
	balances map[common.Address]*big.Int

	sent          []txArgsJSON
	sendErr       error
	pendingPolls  int // receipt lookups answered with null before the receipt
	neverMine     bool
	receiptStatus uint64
	receiptPolls  int

	callOutput hexutil.Bytes
	callErr    error
	callBlocks []string

	increases  []uint64
	mined      int
	snapshots  map[string]bool
	nextSnapID int
	timestamp  uint64

	control map[string][]string // flavor -> methods called
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		balances:      map[common.Address]*big.Int{},
		receiptStatus: types.ReceiptStatusSuccessful,
		snapshots:     map[string]bool{},
		timestamp:     1_700_000_000,
		control:       map[string][]string{},
	}
}

type ethService struct{ n *fakeNode }

func (s *ethService) Accounts() []common.Address {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return s.n.accounts
}

func (s *ethService) SendTransaction(args txArgsJSON) (common.Hash, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if s.n.sendErr != nil {
		return common.Hash{}, s.n.sendErr
	}
	s.n.sent = append(s.n.sent, args)
	return common.BigToHash(big.NewInt(int64(len(s.n.sent)))), nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.receiptPolls++
	if s.n.neverMine || s.n.receiptPolls <= s.n.pendingPolls {
		return nil, nil
	}
	return &types.Receipt{
		Status:            s.n.receiptStatus,
		CumulativeGasUsed: 21000,
		Logs:              []*types.Log{},
		TxHash:            hash,
		GasUsed:           21000,
		BlockNumber:       big.NewInt(12),
		ContractAddress:   common.HexToAddress("0xc0de"),
	}, nil
}

func (s *ethService) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.callBlocks = append(s.n.callBlocks, block)
	if s.n.callErr != nil {
		return nil, s.n.callErr
	}
	return s.n.callOutput, nil
}

func (s *ethService) GetBalance(addr common.Address, block string) (*hexutil.Big, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	bal, ok := s.n.balances[addr]
	if !ok {
		bal = new(big.Int)
	}
	return (*hexutil.Big)(bal), nil
}

func (s *ethService) GetBlockByNumber(number string, full bool) (*types.Header, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return &types.Header{
		Difficulty: new(big.Int),
		Number:     big.NewInt(12),
		GasLimit:   30_000_000,
		Time:       s.n.timestamp,
		Extra:      []byte{},
	}, nil
}

type evmService struct{ n *fakeNode }

func (s *evmService) IncreaseTime(seconds uint64) (uint64, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.increases = append(s.n.increases, seconds)
	s.n.timestamp += seconds
	return seconds, nil
}

func (s *evmService) Mine() error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.mined++
	return nil
}

func (s *evmService) Snapshot() string {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.nextSnapID++
	id := hexutil.EncodeUint64(uint64(s.n.nextSnapID))
	s.n.snapshots[id] = true
	return id
}

func (s *evmService) Revert(id string) bool {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if !s.n.snapshots[id] {
		return false
	}
	delete(s.n.snapshots, id)
	return true
}

// controlService answers <flavor>_impersonateAccount and <flavor>_setBalance.
type controlService struct {
	n      *fakeNode
	flavor string
}

func (s *controlService) ImpersonateAccount(addr common.Address) error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.control[s.flavor] = append(s.n.control[s.flavor], "impersonateAccount")
	return nil
}

func (s *controlService) SetBalance(addr common.Address, wei *hexutil.Big) error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.control[s.flavor] = append(s.n.control[s.flavor], "setBalance")
	s.n.balances[addr] = new(big.Int).Set(wei.ToInt())
	return nil
}

func newTestRPCBackend(t *testing.T, flavor NodeFlavor) (*RPCBackend, *fakeNode) {
	t.Helper()
	n := newFakeNode()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", &ethService{n}))
	require.NoError(t, srv.RegisterName("evm", &evmService{n}))
	require.NoError(t, srv.RegisterName("anvil", &controlService{n, "anvil"}))
	require.NoError(t, srv.RegisterName("hardhat", &controlService{n, "hardhat"}))

	c := rpc.DialInProc(srv)
	t.Cleanup(func() {
		c.Close()
		srv.Stop()
	})

	b := &RPCBackend{
		rpc:          c,
		eth:          ethclient.NewClient(c),
		flavor:       flavor,
		txTimeout:    time.Second,
		pollInterval: time.Millisecond,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, n
}

func TestRPCBackend_ControlMethodsFollowFlavor(t *testing.T) {
	addr := common.HexToAddress("0xbeef")

	for _, flavor := range []NodeFlavor{FlavorAnvil, FlavorHardhat} {
		t.Run(string(flavor), func(t *testing.T) {
			b, n := newTestRPCBackend(t, flavor)
			ctx := context.Background()

			require.NoError(t, b.Impersonate(ctx, addr))
			require.NoError(t, b.SetBalance(ctx, addr, big.NewInt(5e18)))

			assert.Equal(t, []string{"impersonateAccount", "setBalance"}, n.control[string(flavor)])
			assert.Len(t, n.control, 1, "only the %s namespace is used", flavor)

			bal, err := b.BalanceAt(ctx, addr)
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(5e18), bal)
		})
	}
}

func TestRPCBackend_Accounts(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	n.accounts = []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")}

	accts, err := b.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n.accounts, accts)
}

func TestRPCBackend_TimeAndMining(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	ctx := context.Background()

	before, err := b.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), before)

	require.NoError(t, b.AdvanceTime(ctx, 86400))
	require.NoError(t, b.Mine(ctx, 3))

	after, err := b.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+86400, after)
	assert.Equal(t, []uint64{86400}, n.increases)
	assert.Equal(t, 3, n.mined)

	require.NoError(t, b.Mine(ctx, 0))
	assert.Equal(t, 3, n.mined)
}

func TestRPCBackend_SnapshotRevert(t *testing.T) {
	b, _ := newTestRPCBackend(t, FlavorAnvil)
	ctx := context.Background()

	id, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x1", id)

	require.NoError(t, b.Revert(ctx, id))

	// the node consumed the snapshot
	err = b.Revert(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evm_revert 0x1: node refused")

	err = b.Revert(ctx, "0x99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node refused")
}

func TestRPCBackend_SendPollsUntilMined(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	n.pendingPolls = 3
	from, to := common.HexToAddress("0xa1"), common.HexToAddress("0xb2")

	rcpt, err := b.SendValue(context.Background(), from, to, big.NewInt(1e18))
	require.NoError(t, err)

	assert.Equal(t, 4, n.receiptPolls)
	assert.Equal(t, uint64(12), rcpt.BlockNumber)
	assert.Equal(t, uint64(21000), rcpt.GasUsed)
	assert.Equal(t, common.BigToHash(big.NewInt(1)), rcpt.TxHash)

	require.Len(t, n.sent, 1)
	assert.Equal(t, from, n.sent[0].From)
	assert.Equal(t, &to, n.sent[0].To)
	assert.Equal(t, big.NewInt(1e18), n.sent[0].Value.ToInt())
	assert.Empty(t, n.sent[0].Data)
}

func TestRPCBackend_TransactEncodesCall(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorHardhat)
	token := common.HexToAddress("0x7070")
	spender := common.HexToAddress("0xc5")

	_, err := b.Transact(context.Background(), CallMsg{
		From:   common.HexToAddress("0xa1"),
		To:     token,
		ABI:    ERC20ABI(),
		Method: "approve",
		Args:   []any{spender, big.NewInt(10)},
	})
	require.NoError(t, err)

	require.Len(t, n.sent, 1)
	want, err := ERC20ABI().Pack("approve", spender, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(want), n.sent[0].Data)
	assert.Nil(t, n.sent[0].Value)
}

func TestRPCBackend_ReceiptTimeout(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	b.txTimeout = 30 * time.Millisecond
	n.neverMine = true

	_, err := b.SendValue(context.Background(), common.HexToAddress("0xa1"), common.HexToAddress("0xb2"), big.NewInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Contains(t, err.Error(), "transfer: receipt ")
	assert.Greater(t, n.receiptPolls, 1)
}

func TestRPCBackend_FailedReceiptReplaysAtParent(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	n.receiptStatus = types.ReceiptStatusFailed
	n.callErr = &nodeRevert{data: encodeRevert(t, "!authorized")}

	_, err := b.SendValue(context.Background(), common.HexToAddress("0xa1"), common.HexToAddress("0xb2"), big.NewInt(1))
	require.Error(t, err)

	reason, ok := RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "!authorized", reason)
	// mined in block 12, replayed against block 11
	assert.Equal(t, []string{"0xb"}, n.callBlocks)
}

func TestRPCBackend_FailedReceiptWithoutReason(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	n.receiptStatus = types.ReceiptStatusFailed

	// the replay succeeds, so nothing explains the failure
	_, err := b.SendValue(context.Background(), common.HexToAddress("0xa1"), common.HexToAddress("0xb2"), big.NewInt(1))
	require.Error(t, err)
	assert.True(t, IsRevert(err))

	var re *RevertError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "transfer", re.Method)
	assert.Empty(t, re.Reason)
}

func TestRPCBackend_SendRejectedByNode(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	n.sendErr = &nodeRevert{data: encodeRevert(t, "paused")}

	_, err := b.SendValue(context.Background(), common.HexToAddress("0xa1"), common.HexToAddress("0xb2"), big.NewInt(1))
	reason, ok := RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "paused", reason)
	assert.Zero(t, n.receiptPolls)
}

func TestRPCBackend_Call(t *testing.T) {
	b, n := newTestRPCBackend(t, FlavorAnvil)
	token := common.HexToAddress("0x7070")
	msg := CallMsg{To: token, ABI: ERC20ABI(), Method: "balanceOf", Args: []any{common.HexToAddress("0xa1")}}

	out, err := ERC20ABI().Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	n.callOutput = out

	values, err := b.Call(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, big.NewInt(42), values[0])
	assert.Equal(t, []string{"latest"}, n.callBlocks)

	n.callOutput = nil
	_, err = b.Call(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNoCode)

	n.callErr = &nodeRevert{data: encodeRevert(t, "nope")}
	_, err = b.Call(context.Background(), msg)
	reason, ok := RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "nope", reason)
}
