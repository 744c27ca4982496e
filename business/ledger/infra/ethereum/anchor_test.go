package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

// mockLogger implements logger.LoggerInterface for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var _ logger.LoggerInterface = (*mockLogger)(nil)

type fakeRPC struct {
	mu        sync.Mutex
	nonce     uint64
	sent      []*types.Transaction
	sendErr   error
	receipts  map[common.Hash]*types.Receipt
	blockTime uint64
	headers   int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{receipts: make(map[common.Hash]*types.Receipt), blockTime: 1767225600}
}

func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeRPC) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(100), nil
}

func (f *fakeRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers++
	return &types.Header{Number: big.NewInt(42), BaseFee: big.NewInt(10_000_000_000), Time: f.blockTime}, nil
}

func (f *fakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000 + uint64(len(msg.Data))*16, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return 42, nil
}

func (f *fakeRPC) include(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(42),
		GasUsed:     30000,
	}
}

var anchorAddr = common.HexToAddress("0x00000000000000000000000000000000000a0c40")

func newTestAnchor(t *testing.T) (*Anchor, *fakeRPC) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	cfg := DefaultAnchorConfig("http://unused", "0x"+hex.EncodeToString(crypto.FromECDSA(key)), anchorAddr, 11155111)
	cfg.PollInterval = 5 * time.Millisecond

	a, err := NewAnchor(cfg, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}
	rpc := newFakeRPC()
	a.setClient(rpc, nil)
	t.Cleanup(a.Close)
	return a, rpc
}

func testEvent(t *testing.T) domain.Event {
	t.Helper()
	e, err := domain.NewEvent(domain.EventProposalAccepted, "p-1:proposal_accepted", map[string]string{"proposal_id": "p-1"}, time.Now())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return e
}

func TestAnchor_SubmitSignsEventCalldata(t *testing.T) {
	a, rpc := newTestAnchor(t)
	event := testEvent(t)

	txID, err := a.Submit(context.Background(), event)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(rpc.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(rpc.sent))
	}
	tx := rpc.sent[0]
	if tx.Hash().Hex() != txID {
		t.Errorf("txID = %s, want %s", txID, tx.Hash().Hex())
	}
	if *tx.To() != anchorAddr {
		t.Errorf("to = %s", tx.To().Hex())
	}
	want, _ := event.Encode()
	if string(tx.Data()) != string(want) {
		t.Errorf("calldata = %s", tx.Data())
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("value = %s, want 0", tx.Value())
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	if err != nil || from != a.from {
		t.Errorf("sender = %s (%v), want %s", from.Hex(), err, a.from.Hex())
	}
	if tx.GasTipCap().Cmp(a.config.TipCapFloor) < 0 {
		t.Errorf("tip %s below floor", tx.GasTipCap())
	}
}

func TestAnchor_SubmitErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  apperror.Code
		retryable bool
	}{
		{name: "insufficient_funds", err: errors.New("insufficient funds for gas * price + value"), wantCode: apperror.CodeLedgerRejected},
		{name: "network", err: errors.New("connection refused"), wantCode: apperror.CodeEthereumRPCError, retryable: true},
		{name: "nonce_race", err: errors.New("nonce too low"), wantCode: apperror.CodeEthereumRPCError, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, rpc := newTestAnchor(t)
			rpc.sendErr = tt.err

			_, err := a.Submit(context.Background(), testEvent(t))
			if !apperror.HasCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}
			if apperror.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", apperror.IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestAnchor_AlreadyKnownIsSuccess(t *testing.T) {
	a, rpc := newTestAnchor(t)
	rpc.sendErr = errors.New("already known")

	txID, err := a.Submit(context.Background(), testEvent(t))
	if err != nil || txID == "" {
		t.Fatalf("Submit = %q, %v", txID, err)
	}
}

func TestAnchor_ConfirmReturnsBlockTime(t *testing.T) {
	a, rpc := newTestAnchor(t)

	txID, err := a.Submit(context.Background(), testEvent(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	go func() {
		time.Sleep(15 * time.Millisecond)
		rpc.include(common.HexToHash(txID), types.ReceiptStatusSuccessful)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ts, err := a.Confirm(ctx, txID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !ts.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("timestamp = %v", ts)
	}

	headers := rpc.headers
	if _, err := a.Confirm(ctx, txID); err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if rpc.headers != headers {
		t.Error("block timestamp should come from cache")
	}
}

func TestAnchor_ConfirmReverted(t *testing.T) {
	a, rpc := newTestAnchor(t)

	txID, _ := a.Submit(context.Background(), testEvent(t))
	rpc.include(common.HexToHash(txID), types.ReceiptStatusFailed)

	_, err := a.Confirm(context.Background(), txID)
	if !apperror.HasCode(err, apperror.CodeLedgerRejected) {
		t.Errorf("err = %v, want LEDGER_REJECTED", err)
	}
}

func TestAnchor_ConfirmTimesOut(t *testing.T) {
	a, _ := newTestAnchor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := a.Confirm(ctx, common.Hash{}.Hex()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestAnchor_NotConnected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	a, err := NewAnchor(DefaultAnchorConfig("http://unused", hex.EncodeToString(crypto.FromECDSA(key)), anchorAddr, 1), &mockLogger{})
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}
	defer a.Close()

	if err := a.Ping(context.Background()); !apperror.HasCode(err, apperror.CodeEthereumConnection) {
		t.Errorf("Ping err = %v", err)
	}
}

func TestNewAnchor_InvalidKey(t *testing.T) {
	_, err := NewAnchor(DefaultAnchorConfig("http://unused", "not-hex", anchorAddr, 1), &mockLogger{})
	if !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
}
