package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ledgerDomain "github.com/fd1az/swapengine/business/ledger/domain"
	paymentDomain "github.com/fd1az/swapengine/business/payment/domain"
	paymentMemory "github.com/fd1az/swapengine/business/payment/infra/memory"
	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

func TestCreateProposal_Booking(t *testing.T) {
	f := newFixture(t)

	p := f.offerBooking(t, "bob", "swap-b", "swap-a")

	if p.Status != domain.ProposalPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.TargetOwnerID != "alice" {
		t.Errorf("target owner = %s, want alice", p.TargetOwnerID)
	}
	if p.CompatibilityScore <= 0 || p.CompatibilityScore > 100 {
		t.Errorf("score = %d, want within (0, 100]", p.CompatibilityScore)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(start.Add(72*time.Hour)) {
		t.Errorf("expires at = %v, want %v", p.ExpiresAt, start.Add(72*time.Hour))
	}

	stored := f.proposal(t, p.ID)
	if stored.LedgerCreatedTx == "" {
		t.Error("ledger transaction not stored")
	}
	if got := len(f.ledger.EventsOfType(ledgerDomain.EventProposalCreated)); got != 1 {
		t.Errorf("created events = %d, want 1", got)
	}
	if !f.index.WouldCycle("swap-a", "swap-b") {
		t.Error("target index missing the new edge")
	}

	f.svc.Wait()
	if f.notifier.count("proposal_created") != 1 {
		t.Error("owner not notified")
	}
}

func TestCreateProposal_CashHoldsEscrow(t *testing.T) {
	f := newFixture(t)

	p := f.offerCash(t, "carol", "swap-a", "300.00")

	e := f.escrow(t, p)
	if e.Status != paymentDomain.EscrowFunded {
		t.Errorf("escrow status = %s, want funded", e.Status)
	}
	if e.PayerID != "carol" || e.RecipientID != "alice" {
		t.Errorf("escrow parties = %s -> %s, want carol -> alice", e.PayerID, e.RecipientID)
	}
	if p.SourceSwapID != "" {
		t.Errorf("cash offer source = %q, want empty", p.SourceSwapID)
	}
}

func TestCreateProposal_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *fixture)
		req      app.CreateRequest
		wantCode apperror.Code
	}{
		{
			name:     "own swap",
			req:      app.CreateRequest{ProposerID: "alice", SourceSwapID: "swap-a", TargetSwapID: "swap-a", Type: domain.ProposalBooking},
			wantCode: apperror.CodeCannotProposeOwnSwap,
		},
		{
			name: "cash not accepted",
			req: app.CreateRequest{ProposerID: "carol", TargetSwapID: "swap-b", Type: domain.ProposalCash,
				CashAmount: usd("500.00"), PaymentMethodID: "pm-carol"},
			wantCode: apperror.CodeCashNotAccepted,
		},
		{
			name: "below owner minimum",
			req: app.CreateRequest{ProposerID: "carol", TargetSwapID: "swap-a", Type: domain.ProposalCash,
				CashAmount: usd("50.00"), PaymentMethodID: "pm-carol"},
			wantCode: apperror.CodeCashOfferTooLow,
		},
		{
			name: "someone else's payment method",
			req: app.CreateRequest{ProposerID: "carol", TargetSwapID: "swap-a", Type: domain.ProposalCash,
				CashAmount: usd("500.00"), PaymentMethodID: "pm-dave"},
			wantCode: apperror.CodePaymentMethodInvalid,
		},
		{
			name:     "source owned by someone else",
			req:      app.CreateRequest{ProposerID: "bob", SourceSwapID: "swap-c", TargetSwapID: "swap-a", Type: domain.ProposalBooking},
			wantCode: apperror.CodeNotSwapOwner,
		},
		{
			name:     "booking offer without source",
			req:      app.CreateRequest{ProposerID: "bob", TargetSwapID: "swap-a", Type: domain.ProposalBooking},
			wantCode: apperror.CodeRequiredField,
		},
		{
			name:     "unknown target",
			req:      app.CreateRequest{ProposerID: "bob", SourceSwapID: "swap-b", TargetSwapID: "swap-x", Type: domain.ProposalBooking},
			wantCode: apperror.CodeSwapNotFound,
		},
		{
			name: "circular",
			setup: func(t *testing.T, f *fixture) {
				f.offerBooking(t, "bob", "swap-b", "swap-a")
			},
			req:      app.CreateRequest{ProposerID: "alice", SourceSwapID: "swap-a", TargetSwapID: "swap-b", Type: domain.ProposalBooking},
			wantCode: apperror.CodeCircularProposal,
		},
		{
			name: "duplicate pair",
			setup: func(t *testing.T, f *fixture) {
				f.offerBooking(t, "bob", "swap-b", "swap-a")
			},
			req:      app.CreateRequest{ProposerID: "bob", SourceSwapID: "swap-b", TargetSwapID: "swap-a", Type: domain.ProposalBooking},
			wantCode: apperror.CodeProposalAlreadyExists,
		},
		{
			name: "target already swapped",
			setup: func(t *testing.T, f *fixture) {
				s := f.swap(t, "swap-c")
				s.Status = domain.SwapSwapped
				_ = f.swaps.Update(context.Background(), s)
			},
			req:      app.CreateRequest{ProposerID: "bob", SourceSwapID: "swap-b", TargetSwapID: "swap-c", Type: domain.ProposalBooking},
			wantCode: apperror.CodeSwapNotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			pendingBefore, _ := f.proposals.ListPending(context.Background())

			_, err := f.svc.CreateProposal(context.Background(), tt.req)
			if !apperror.HasCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}

			pendingAfter, _ := f.proposals.ListPending(context.Background())
			if len(pendingAfter) != len(pendingBefore) {
				t.Errorf("pending proposals = %d, want %d", len(pendingAfter), len(pendingBefore))
			}
			if calls := f.gateway.Calls(paymentMemory.OpHold); calls != 0 {
				t.Errorf("gateway holds = %d, want 0", calls)
			}
		})
	}
}

func TestCreateProposal_LedgerFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.ledger.FailNext(errors.New("ledger rejected event"))

	_, err := f.svc.CreateProposal(context.Background(), app.CreateRequest{
		ProposerID:      "carol",
		TargetSwapID:    "swap-a",
		Type:            domain.ProposalCash,
		CashAmount:      usd("300.00"),
		PaymentMethodID: "pm-carol",
	})
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}

	if got := f.gateway.Calls(paymentMemory.OpHold); got != 1 {
		t.Errorf("holds = %d, want 1", got)
	}
	if got := f.gateway.Calls(paymentMemory.OpRefund); got != 1 {
		t.Errorf("refunds = %d, want 1", got)
	}
	pending, _ := f.proposals.ListPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending proposals = %d, want 0", len(pending))
	}

	// The pair is free again.
	f.offerCash(t, "carol", "swap-a", "300.00")
}

func TestCreateProposal_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateProposal(context.Background(), app.CreateRequest{
				ProposerID:   "bob",
				SourceSwapID: "swap-b",
				TargetSwapID: "swap-a",
				Type:         domain.ProposalBooking,
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.HasCode(err, apperror.CodeProposalAlreadyExists):
			dup++
		default:
			t.Errorf("unexpected err: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Errorf("ok = %d, duplicates = %d, want 1 and 1", ok, dup)
	}
}

func TestAcceptProposal_CompletesExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.offerBooking(t, "bob", "swap-b", "swap-a")
	sibling := f.offerBooking(t, "carol", "swap-c", "swap-a")
	cash := f.offerCash(t, "dave", "swap-a", "400.00")
	offered := f.offerBooking(t, "bob", "swap-b", "swap-c")

	res, err := f.svc.AcceptProposal(ctx, "alice", p.ID)
	if err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}

	if res.Proposal.Status != domain.ProposalAccepted {
		t.Errorf("status = %s, want accepted", res.Proposal.Status)
	}
	for _, id := range []string{"swap-a", "swap-b"} {
		if s := f.swap(t, id); s.Status != domain.SwapSwapped {
			t.Errorf("%s status = %s, want swapped", id, s.Status)
		}
	}
	if f.swap(t, "swap-c").Status != domain.SwapAvailable {
		t.Error("uninvolved swap changed")
	}
	if f.bookings.Holder("booking-a") != p.ID || f.bookings.Holder("booking-b") != p.ID {
		t.Error("bookings not locked for the exchange")
	}

	if got := f.proposal(t, sibling.ID); got.Status != domain.ProposalRejected || got.RejectionReason != app.ReasonSwapUnavailable {
		t.Errorf("sibling = %s (%q), want rejected", got.Status, got.RejectionReason)
	}
	if got := f.proposal(t, cash.ID); got.Status != domain.ProposalRejected {
		t.Errorf("cash sibling = %s, want rejected", got.Status)
	} else if e := f.escrow(t, got); e.Status != paymentDomain.EscrowRefunded {
		t.Errorf("cash sibling escrow = %s, want refunded", e.Status)
	}
	if got := f.proposal(t, offered.ID); got.Status != domain.ProposalWithdrawn {
		t.Errorf("proposal offering the swapped source = %s, want withdrawn", got.Status)
	}
	if f.index.Len() != 0 {
		t.Errorf("index edges = %d, want 0", f.index.Len())
	}
}

func TestAcceptProposal_Twice(t *testing.T) {
	f := newFixture(t)
	p := f.offerCash(t, "carol", "swap-a", "300.00")

	if _, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID)
	if !apperror.HasCode(err, apperror.CodeInvalidProposalStatus) {
		t.Fatalf("second accept err = %v, want INVALID_PROPOSAL_STATUS", err)
	}

	if got := f.gateway.Calls(paymentMemory.OpRelease); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
	if e := f.escrow(t, f.proposal(t, p.ID)); e.Status != paymentDomain.EscrowReleased {
		t.Errorf("escrow = %s, want released", e.Status)
	}
}

func TestAcceptProposal_LedgerFailureCompensates(t *testing.T) {
	f := newFixture(t)
	p := f.offerCash(t, "carol", "swap-a", "300.00")

	f.ledger.FailNext(errors.New("ledger rejected event"))
	_, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID)
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}

	got := f.proposal(t, p.ID)
	if got.Status != domain.ProposalPending {
		t.Errorf("proposal = %s, want pending", got.Status)
	}
	if s := f.swap(t, "swap-a"); s.Status != domain.SwapAvailable {
		t.Errorf("swap = %s, want available", s.Status)
	}
	if e := f.escrow(t, got); e.Status != paymentDomain.EscrowRefunded {
		t.Errorf("escrow = %s, want refunded", e.Status)
	}
	if f.gateway.Calls(paymentMemory.OpReverse) != 1 {
		t.Error("release not reversed")
	}
	if h := f.bookings.Holder("booking-a"); h != "" {
		t.Errorf("booking still held by %s", h)
	}
}

func TestAcceptProposal_BookingLockFailed(t *testing.T) {
	f := newFixture(t)
	p := f.offerBooking(t, "bob", "swap-b", "swap-a")

	f.bookings.FailLock("booking-b", apperror.New(apperror.CodeBookingLockFailed, apperror.WithContext("booking-b")))
	_, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID)
	if !apperror.HasCode(err, apperror.CodeBookingLockFailed) {
		t.Fatalf("err = %v, want BOOKING_LOCK_FAILED", err)
	}

	if got := f.proposal(t, p.ID); got.Status != domain.ProposalPending {
		t.Errorf("proposal = %s, want pending", got.Status)
	}
	if h := f.bookings.Holder("booking-a"); h != "" {
		t.Errorf("booking-a still held by %s", h)
	}
	if got := len(f.ledger.EventsOfType(ledgerDomain.EventProposalAccepted)); got != 0 {
		t.Errorf("accepted events = %d, want 0", got)
	}

	f.bookings.FailLock("booking-b", nil)
	if _, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID); err != nil {
		t.Fatalf("retry accept: %v", err)
	}
}

func TestRespond_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.offerBooking(t, "bob", "swap-b", "swap-a")

	tests := []struct {
		name string
		call func() error
	}{
		{"proposer accepts", func() error { _, err := f.svc.AcceptProposal(ctx, "bob", p.ID); return err }},
		{"stranger rejects", func() error { _, err := f.svc.RejectProposal(ctx, "carol", p.ID, ""); return err }},
		{"owner withdraws", func() error { _, err := f.svc.WithdrawProposal(ctx, "alice", p.ID); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !apperror.HasCode(err, apperror.CodeNotProposalParty) {
				t.Errorf("err = %v, want NOT_PROPOSAL_PARTY", err)
			}
		})
	}

	if got := f.proposal(t, p.ID); got.Status != domain.ProposalPending {
		t.Errorf("proposal = %s, want pending", got.Status)
	}
}

func TestRejectAndWithdraw_RefundCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rejected := f.offerCash(t, "carol", "swap-a", "300.00")
	withdrawn := f.offerCash(t, "dave", "swap-a", "250.00")

	res, err := f.svc.RejectProposal(ctx, "alice", rejected.ID, "too low")
	if err != nil {
		t.Fatalf("RejectProposal: %v", err)
	}
	if res.Proposal.RejectionReason != "too low" {
		t.Errorf("reason = %q, want %q", res.Proposal.RejectionReason, "too low")
	}
	if _, err := f.svc.WithdrawProposal(ctx, "dave", withdrawn.ID); err != nil {
		t.Fatalf("WithdrawProposal: %v", err)
	}

	for _, p := range []*domain.Proposal{rejected, withdrawn} {
		if e := f.escrow(t, f.proposal(t, p.ID)); e.Status != paymentDomain.EscrowRefunded {
			t.Errorf("escrow of %s = %s, want refunded", p.ProposerID, e.Status)
		}
	}
	if s := f.swap(t, "swap-a"); s.Status != domain.SwapAvailable {
		t.Errorf("swap = %s, want available", s.Status)
	}

	f.svc.Wait()
	if f.notifier.count("proposal_rejected") != 1 || f.notifier.count("proposal_withdrawn") != 1 {
		t.Error("responses not notified")
	}
}

func TestCreateProposal_SourceBookingHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.bookings.Lock(ctx, "booking-b", "other-flow"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	req := app.CreateRequest{ProposerID: "bob", SourceSwapID: "swap-b", TargetSwapID: "swap-a", Type: domain.ProposalBooking}
	_, err := f.svc.CreateProposal(ctx, req)
	if !apperror.HasCode(err, apperror.CodeBookingLockFailed) {
		t.Fatalf("err = %v, want BOOKING_LOCK_FAILED", err)
	}

	pending, _ := f.proposals.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending proposals = %d, want 0", len(pending))
	}
	if f.index.Len() != 0 {
		t.Errorf("index edges = %d, want 0", f.index.Len())
	}
	if got := len(f.ledger.EventsOfType(ledgerDomain.EventProposalCreated)); got != 0 {
		t.Errorf("created events = %d, want 0", got)
	}
	if h := f.bookings.Holder("booking-b"); h != "other-flow" {
		t.Errorf("booking-b holder = %q, want other-flow", h)
	}

	if err := f.bookings.Unlock(ctx, "booking-b", "other-flow"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := f.svc.CreateProposal(ctx, req); err != nil {
		t.Fatalf("create after release: %v", err)
	}
	if h := f.bookings.Holder("booking-b"); h != "" {
		t.Errorf("booking-b still held by %q after create", h)
	}
}

func TestRejectProposal_LedgerFailureKeepsFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.offerCash(t, "carol", "swap-a", "300.00")

	f.ledger.FailNext(errors.New("ledger rejected event"))
	_, err := f.svc.RejectProposal(ctx, "alice", p.ID, "too low")
	if !apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		t.Fatalf("err = %v, want LEDGER_RECORDING_FAILED", err)
	}

	got := f.proposal(t, p.ID)
	if got.Status != domain.ProposalPending || got.NeedsRefund() {
		t.Errorf("proposal = %s (refund pending %v), want pending without refund", got.Status, got.NeedsRefund())
	}
	if e := f.escrow(t, got); e.Status != paymentDomain.EscrowFunded {
		t.Errorf("escrow = %s, want funded", e.Status)
	}
	if calls := f.gateway.Calls(paymentMemory.OpRefund); calls != 0 {
		t.Errorf("refunds = %d, want 0", calls)
	}

	// The funds still back the offer, so the owner can take it.
	if _, err := f.svc.AcceptProposal(ctx, "alice", p.ID); err != nil {
		t.Fatalf("accept after failed reject: %v", err)
	}
	if e := f.escrow(t, f.proposal(t, p.ID)); e.Status != paymentDomain.EscrowReleased {
		t.Errorf("escrow = %s, want released", e.Status)
	}
}

func TestRejectProposal_RefundFailureRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.offerCash(t, "carol", "swap-a", "300.00")

	f.gateway.FailNext(paymentMemory.OpRefund, errors.New("gateway unavailable"))
	res, err := f.svc.RejectProposal(ctx, "alice", p.ID, "too low")
	if err != nil {
		t.Fatalf("RejectProposal: %v", err)
	}
	if res.Proposal.Status != domain.ProposalRejected {
		t.Errorf("status = %s, want rejected", res.Proposal.Status)
	}

	got := f.proposal(t, p.ID)
	if !got.NeedsRefund() {
		t.Error("failed refund not marked for retry")
	}
	if e := f.escrow(t, got); e.Status != paymentDomain.EscrowFunded {
		t.Errorf("escrow = %s, want funded", e.Status)
	}
	if got := len(f.ledger.EventsOfType(ledgerDomain.EventProposalRejected)); got != 1 {
		t.Errorf("rejected events = %d, want 1", got)
	}

	report, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Refunded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want one refund", report)
	}

	got = f.proposal(t, p.ID)
	if got.NeedsRefund() {
		t.Error("refund still pending after reconcile")
	}
	if e := f.escrow(t, got); e.Status != paymentDomain.EscrowRefunded {
		t.Errorf("escrow = %s, want refunded", e.Status)
	}

	if report, _ = f.svc.Reconcile(ctx); report.Refunded != 0 {
		t.Errorf("second pass refunded = %d, want 0", report.Refunded)
	}
}

func TestReconcile_ExpiresPendingProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.offerCash(t, "carol", "swap-a", "300.00")
	f.offerBooking(t, "bob", "swap-b", "swap-a")

	f.clock.Advance(71 * time.Hour)
	report, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Expired != 0 {
		t.Errorf("expired before deadline = %d, want 0", report.Expired)
	}

	f.clock.Advance(2 * time.Hour)
	report, err = f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Expired != 2 {
		t.Errorf("expired = %d, want 2", report.Expired)
	}

	got := f.proposal(t, p.ID)
	if got.Status != domain.ProposalExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if e := f.escrow(t, got); e.Status != paymentDomain.EscrowRefunded {
		t.Errorf("escrow = %s, want refunded", e.Status)
	}

	_, err = f.svc.AcceptProposal(ctx, "alice", p.ID)
	if !apperror.HasCode(err, apperror.CodeInvalidProposalStatus) {
		t.Errorf("accept expired err = %v, want INVALID_PROPOSAL_STATUS", err)
	}
}

func TestAcceptProposal_ExpiredNotYetReconciled(t *testing.T) {
	f := newFixture(t)
	p := f.offerBooking(t, "bob", "swap-b", "swap-a")

	f.clock.Advance(73 * time.Hour)
	_, err := f.svc.AcceptProposal(context.Background(), "alice", p.ID)
	if !apperror.HasCode(err, apperror.CodeInvalidProposalStatus) {
		t.Fatalf("err = %v, want INVALID_PROPOSAL_STATUS", err)
	}
	if s := f.swap(t, "swap-a"); s.Status != domain.SwapAvailable {
		t.Errorf("swap = %s, want available", s.Status)
	}
}

func TestReconciler_RunsPasses(t *testing.T) {
	f := newFixture(t)
	p := f.offerBooking(t, "bob", "swap-b", "swap-a")
	f.clock.Advance(73 * time.Hour)

	r := app.NewReconciler(f.svc, 5*time.Millisecond, logger.NewDiscard())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.proposal(t, p.ID).Status != domain.ProposalExpired {
		if time.Now().After(deadline) {
			t.Fatal("proposal not expired by reconciler")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
