package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fd1az/swapengine/business/ledger/app"
	"github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/business/ledger/infra/memory"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/backoff"
	"github.com/fd1az/swapengine/internal/logger"
)

func testConfig() app.Config {
	return app.Config{
		Retry: backoff.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
		RequestTimeout:      time.Second,
		ConfirmationTimeout: time.Second,
		ReceiptTTL:          time.Hour,
	}
}

func newRecorder(t *testing.T, cfg app.Config) (*app.Recorder, *memory.Submitter) {
	t.Helper()
	sub := memory.NewSubmitter()
	r, err := app.NewRecorder(cfg, sub, logger.NewDiscard())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(r.Close)
	return r, sub
}

type acceptedPayload struct {
	ProposalID string `json:"proposal_id"`
	Amount     string `json:"amount"`
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	r, sub := newRecorder(t, testConfig())
	sub.FailTransient(2)

	key := domain.IdempotencyKey("prop-1", domain.EventProposalAccepted)
	receipt, err := r.Record(context.Background(), domain.EventProposalAccepted,
		acceptedPayload{ProposalID: "prop-1", Amount: "350.00"}, key)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if receipt.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", receipt.Attempts)
	}
	if !receipt.Confirmed() {
		t.Error("receipt should carry a consensus timestamp")
	}
	if receipt.IdempotencyKey != key || receipt.TransactionID == "" {
		t.Errorf("receipt = %+v", receipt)
	}

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].ID != receipt.EventID || events[0].Type != domain.EventProposalAccepted {
		t.Errorf("event = %+v", events[0])
	}
}

func TestRecorder_PermanentFailureStopsImmediately(t *testing.T) {
	r, sub := newRecorder(t, testConfig())
	sub.FailNext(apperror.New(apperror.CodeLedgerRejected))

	_, err := r.Record(context.Background(), domain.EventProposalCreated, map[string]string{"id": "p"}, "p:proposal_created")
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}
	if sub.Submits() != 1 {
		t.Errorf("submits = %d, want 1", sub.Submits())
	}
}

func TestRecorder_ExhaustsAttempts(t *testing.T) {
	r, sub := newRecorder(t, testConfig())
	sub.FailTransient(10)

	_, err := r.Record(context.Background(), domain.EventAuctionEnded, map[string]string{"id": "a"}, "a:auction_ended")
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}
	if sub.Submits() != 3 {
		t.Errorf("submits = %d, want 3", sub.Submits())
	}
	if len(sub.Events()) != 0 {
		t.Error("no event should be recorded")
	}
}

func TestRecorder_SameKeyRecordsOnce(t *testing.T) {
	r, sub := newRecorder(t, testConfig())
	ctx := context.Background()

	first, err := r.Record(ctx, domain.EventProposalRejected, map[string]string{"id": "p"}, "p:proposal_rejected")
	if err != nil {
		t.Fatalf("first Record: %v", err)
	}
	second, err := r.Record(ctx, domain.EventProposalRejected, map[string]string{"id": "p"}, "p:proposal_rejected")
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Errorf("transaction ids differ: %s vs %s", first.TransactionID, second.TransactionID)
	}
	if sub.Submits() != 1 {
		t.Errorf("submits = %d, want 1", sub.Submits())
	}
}

func TestRecorder_ConcurrentSameKey(t *testing.T) {
	r, sub := newRecorder(t, testConfig())

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := r.Record(context.Background(), domain.EventAuctionWinnerSelected,
				map[string]string{"auction": "a-1"}, "a-1:auction_winner_selected")
			if err != nil {
				t.Errorf("Record: %v", err)
				return
			}
			ids[i] = receipt.TransactionID
		}(i)
	}
	wg.Wait()

	if sub.Submits() != 1 {
		t.Errorf("submits = %d, want 1", sub.Submits())
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Errorf("transaction id %s != %s", id, ids[0])
		}
	}
}

func TestRecorder_UnconfirmedReceipt(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTimeout = 20 * time.Millisecond
	r, sub := newRecorder(t, cfg)
	sub.SetUnconfirmed(true)

	receipt, err := r.Record(context.Background(), domain.EventProposalExpired, map[string]string{"id": "p"}, "p:proposal_expired")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if receipt.Confirmed() {
		t.Error("receipt should be unconfirmed")
	}
	if receipt.TransactionID == "" {
		t.Error("transaction id should still be returned")
	}
}

func TestRecorder_CancelledContext(t *testing.T) {
	r, sub := newRecorder(t, testConfig())
	sub.FailTransient(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, domain.EventProposalWithdrawn, map[string]string{"id": "p"}, "p:proposal_withdrawn")
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}
}
