package app

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ledgerDomain "github.com/fd1az/swapengine/business/ledger/domain"
	paymentDomain "github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
)

const (
	tracerName = "github.com/fd1az/swapengine/business/swap/app"
	meterName  = "github.com/fd1az/swapengine/business/swap/app"
)

// Operation is a proposal transaction kind.
type Operation string

const (
	OpCreate   Operation = "create"
	OpAccept   Operation = "accept"
	OpReject   Operation = "reject"
	OpWithdraw Operation = "withdraw"
	OpExpire   Operation = "expire"
)

// SystemActor is the actor id used for engine-initiated transitions.
const SystemActor = "system"

// CreateRequest describes a new proposal.
type CreateRequest struct {
	ProposerID      string
	SourceSwapID    string
	TargetSwapID    string
	Type            domain.ProposalType
	CashAmount      *money.Money
	PaymentMethodID string
	Message         string
	Conditions      []string
}

// Command is one proposal transaction.
type Command struct {
	Op         Operation
	ProposalID string
	ActorID    string
	Reason     string
	Create     *CreateRequest
	// Score is stored on created proposals.
	Score int

	// winnerOf is the auction whose winner this accept selects.
	winnerOf string
	system   bool
}

// Result is the outcome of a committed transaction.
type Result struct {
	Proposal *domain.Proposal
	Swaps    []*domain.Swap
	Escrow   *paymentDomain.EscrowAccount
	Receipt  ledgerDomain.Receipt
}

// TxConfig holds transaction timing.
type TxConfig struct {
	LockTimeout   time.Duration
	NotifyTimeout time.Duration
	// DefaultExpiry bounds how long a first-match proposal stays pending.
	DefaultExpiry time.Duration
}

// Dependencies are the collaborators of the transaction manager.
type Dependencies struct {
	Swaps     SwapRepository
	Proposals ProposalRepository
	Auctions  AuctionRepository
	Tx        TxRunner
	Bookings  BookingService
	Locks     SwapLocker
	Escrow    EscrowService
	Ledger    Ledger
	Notifier  Notifier
	Index     *domain.TargetIndex
}

type txMetrics struct {
	operations           metric.Int64Counter
	compensations        metric.Int64Counter
	compensationFailures metric.Int64Counter
	notifyFailures       metric.Int64Counter
	refundsDeferred      metric.Int64Counter
	duration             metric.Float64Histogram
}

// TransactionManager applies proposal operations across the database, escrow
// and ledger. Each step that fails undoes the steps before it.
type TransactionManager struct {
	cfg TxConfig
	Dependencies
	logger logger.LoggerInterface
	now    func() time.Time

	wg sync.WaitGroup

	tracer  trace.Tracer
	metrics *txMetrics
}

// NewTransactionManager creates a TransactionManager.
func NewTransactionManager(cfg TxConfig, deps Dependencies, log logger.LoggerInterface) (*TransactionManager, error) {
	t := &TransactionManager{
		cfg:          cfg,
		Dependencies: deps,
		logger:       log,
		now:          time.Now,
		tracer:       otel.Tracer(tracerName),
	}

	if err := t.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return t, nil
}

// SetClock replaces the time source.
func (t *TransactionManager) SetClock(now func() time.Time) {
	t.now = now
}

func (t *TransactionManager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	t.metrics = &txMetrics{}

	t.metrics.operations, err = meter.Int64Counter(
		"swap_proposal_operations_total",
		metric.WithDescription("Proposal transactions by operation and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	t.metrics.compensations, err = meter.Int64Counter(
		"swap_compensations_total",
		metric.WithDescription("Transactions rolled back by compensation"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	t.metrics.compensationFailures, err = meter.Int64Counter(
		"swap_compensation_failures_total",
		metric.WithDescription("Compensation steps that failed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return err
	}

	t.metrics.notifyFailures, err = meter.Int64Counter(
		"swap_notification_failures_total",
		metric.WithDescription("Notifications that could not be delivered"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	t.metrics.refundsDeferred, err = meter.Int64Counter(
		"swap_refunds_deferred_total",
		metric.WithDescription("Escrow refunds left for the reconciler"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return err
	}

	t.metrics.duration, err = meter.Float64Histogram(
		"swap_proposal_operation_duration_seconds",
		metric.WithDescription("Proposal transaction latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Execute runs cmd to completion or rolls it back.
func (t *TransactionManager) Execute(ctx context.Context, cmd Command) (*Result, error) {
	ctx, span := t.tracer.Start(ctx, "swap.tx."+string(cmd.Op),
		trace.WithAttributes(
			attribute.String("proposal_id", cmd.ProposalID),
			attribute.String("actor_id", cmd.ActorID),
		),
	)
	defer span.End()

	start := time.Now()

	var (
		res *Result
		err error
	)
	switch cmd.Op {
	case OpCreate:
		res, err = t.create(ctx, cmd)
	case OpAccept, OpReject, OpWithdraw, OpExpire:
		res, err = t.respond(ctx, cmd)
	default:
		err = apperror.Validation(apperror.CodeInvalidInput, "unknown operation "+string(cmd.Op))
	}

	outcome := "ok"
	if err != nil {
		outcome = string(apperror.GetCode(err))
	}
	attrs := metric.WithAttributes(
		attribute.String("op", string(cmd.Op)),
		attribute.String("outcome", outcome),
	)
	t.metrics.operations.Add(ctx, 1, attrs)
	t.metrics.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	span.SetAttributes(attribute.String("proposal_id", res.Proposal.ID))
	span.SetStatus(codes.Ok, "committed")
	return res, nil
}

// Wait blocks until dispatched notifications finish.
func (t *TransactionManager) Wait() {
	t.wg.Wait()
}

func (t *TransactionManager) create(ctx context.Context, cmd Command) (*Result, error) {
	req := cmd.Create
	if req == nil {
		return nil, apperror.Validation(apperror.CodeRequiredField, "create request")
	}

	unlock, err := t.lock(ctx, createSwapIDs(req)...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := t.now()
	target, auction, err := t.validateCreate(ctx, req, now)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if req.SourceSwapID != "" {
		if err := t.checkBookingFree(ctx, id, req.SourceSwapID); err != nil {
			return nil, err
		}
	}

	p := &domain.Proposal{
		ID:                 id,
		SourceSwapID:       req.SourceSwapID,
		TargetSwapID:       target.ID,
		ProposerID:         req.ProposerID,
		TargetOwnerID:      target.OwnerID,
		Type:               req.Type,
		Message:            req.Message,
		Conditions:         req.Conditions,
		CompatibilityScore: cmd.Score,
		Status:             domain.ProposalPending,
		CreatedAt:          now,
	}
	if req.Type == domain.ProposalCash {
		p.Cash = &domain.CashOffer{Amount: *req.CashAmount, PaymentMethodID: req.PaymentMethodID}
	}
	if auction != nil {
		p.AuctionID = auction.ID
	} else if t.cfg.DefaultExpiry > 0 {
		exp := now.Add(t.cfg.DefaultExpiry)
		if target.ExpiresAt != nil && target.ExpiresAt.Before(exp) {
			exp = *target.ExpiresAt
		}
		p.ExpiresAt = &exp
	}

	indexed, err := t.Index.AddEdge(p.SourceSwapID, p.TargetSwapID)
	if err != nil {
		return nil, err
	}
	unindex := func(context.Context) error {
		if indexed {
			t.Index.Remove(p.SourceSwapID, p.TargetSwapID)
		}
		return nil
	}

	var auctionSnap *domain.Auction
	undoCreate := func(ctx context.Context) error {
		return t.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := t.Proposals.Delete(ctx, p.ID); err != nil {
				return err
			}
			if auctionSnap != nil {
				return t.Auctions.Update(ctx, auctionSnap)
			}
			return nil
		})
	}

	err = t.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := t.Proposals.Create(ctx, p); err != nil {
			return err
		}
		if auction == nil {
			return nil
		}
		auctionSnap = auction.Clone()
		if err := auction.Submit(domain.AuctionProposal{
			ProposalID:         p.ID,
			ProposerID:         p.ProposerID,
			Type:               p.Type,
			CashAmount:         cashAmount(p),
			CompatibilityScore: p.CompatibilityScore,
			SubmittedAt:        now,
		}, now); err != nil {
			return err
		}
		return t.Auctions.Update(ctx, auction)
	})
	if err != nil {
		if auctionSnap != nil {
			t.compensate(ctx, cmd.Op, p.ID, undoCreate, unindex)
		} else {
			unindex(ctx)
		}
		return nil, err
	}

	res := &Result{Proposal: p, Swaps: []*domain.Swap{target}}

	if p.Type == domain.ProposalCash {
		escrow, err := t.Escrow.CreateEscrow(ctx, paymentDomain.EscrowRequest{
			SwapID:          target.ID,
			ProposalID:      p.ID,
			PayerID:         p.ProposerID,
			RecipientID:     p.TargetOwnerID,
			Amount:          p.Cash.Amount,
			PaymentMethodID: p.Cash.PaymentMethodID,
		})
		if err != nil {
			t.compensate(ctx, cmd.Op, p.ID, undoCreate, unindex)
			return nil, paymentFailed(err)
		}
		res.Escrow = escrow

		p.Cash.EscrowID = escrow.ID
		if err := t.Proposals.Update(ctx, p); err != nil {
			t.compensate(ctx, cmd.Op, p.ID, t.refundStep(escrow.ID, "proposal not persisted"), undoCreate, unindex)
			return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "store escrow reference")
		}
	}

	receipt, err := t.Ledger.Record(ctx, ledgerDomain.EventProposalCreated, proposalPayload(p),
		ledgerDomain.IdempotencyKey(p.ID, ledgerDomain.EventProposalCreated))
	if err != nil {
		var steps []compensation
		if res.Escrow != nil {
			steps = append(steps, t.refundStep(res.Escrow.ID, "ledger recording failed"))
		}
		steps = append(steps, undoCreate, unindex)
		t.compensate(ctx, cmd.Op, p.ID, steps...)
		return nil, ledgerFailed(err)
	}
	res.Receipt = receipt

	p.LedgerCreatedTx = receipt.TransactionID
	if err := t.Proposals.Update(ctx, p); err != nil {
		t.logger.Warn(ctx, "ledger reference not stored", "proposal_id", p.ID, "error", err)
	}

	t.logger.Info(ctx, "proposal created",
		"proposal_id", p.ID,
		"type", p.Type,
		"target_swap_id", p.TargetSwapID,
		"auction_id", p.AuctionID)

	t.notify(ctx, "proposal_created", []string{p.TargetOwnerID}, proposalPayload(p))
	return res, nil
}

// checkBookingFree takes and drops the booking lock of the offered swap. An
// offer is refused while another flow holds that booking.
func (t *TransactionManager) checkBookingFree(ctx context.Context, holder, swapID string) error {
	s, err := t.Swaps.Get(ctx, swapID)
	if err != nil {
		return err
	}
	if s.BookingID == "" {
		return nil
	}

	locked, err := t.lockBookings(ctx, holder, []*domain.Swap{s})
	if err != nil {
		return err
	}
	if err := t.unlockBookings(ctx, holder, locked); err != nil {
		t.logger.Warn(ctx, "booking unlock failed", "holder", holder, "error", err)
	}
	return nil
}

// validateCreate runs every check that needs no side effect.
func (t *TransactionManager) validateCreate(ctx context.Context, req *CreateRequest, now time.Time) (*domain.Swap, *domain.Auction, error) {
	if req.ProposerID == "" {
		return nil, nil, apperror.Validation(apperror.CodeRequiredField, "proposer_id")
	}
	if req.Type != domain.ProposalBooking && req.Type != domain.ProposalCash {
		return nil, nil, apperror.Validation(apperror.CodeInvalidInput, "proposal type "+string(req.Type))
	}

	target, err := t.Swaps.Get(ctx, req.TargetSwapID)
	if err != nil {
		return nil, nil, err
	}
	if target.OwnerID == req.ProposerID {
		return nil, nil, apperror.Validation(apperror.CodeCannotProposeOwnSwap, target.ID)
	}
	if err := swapOpen(target, now); err != nil {
		return nil, nil, err
	}

	if !target.Payment.Accepts(req.Type) {
		if req.Type == domain.ProposalCash {
			return nil, nil, apperror.New(apperror.CodeCashNotAccepted,
				apperror.WithContext(target.ID),
				apperror.WithSuggestion("Offer one of your bookings instead"))
		}
		return nil, nil, apperror.New(apperror.CodeBookingNotAccepted,
			apperror.WithContext(target.ID),
			apperror.WithSuggestion("Make a cash offer instead"))
	}

	if req.Type == domain.ProposalBooking && req.SourceSwapID == "" {
		return nil, nil, apperror.Validation(apperror.CodeRequiredField, "source_swap_id")
	}
	if req.SourceSwapID != "" {
		source, err := t.Swaps.Get(ctx, req.SourceSwapID)
		if err != nil {
			return nil, nil, err
		}
		if source.OwnerID != req.ProposerID {
			return nil, nil, apperror.Forbidden(apperror.CodeNotSwapOwner, source.ID)
		}
		if err := swapOpen(source, now); err != nil {
			return nil, nil, err
		}
		if t.Index.WouldCycle(source.ID, target.ID) {
			return nil, nil, apperror.New(apperror.CodeCircularProposal,
				apperror.WithDetail("source_swap_id", source.ID),
				apperror.WithDetail("target_swap_id", target.ID))
		}
	}

	if req.Type == domain.ProposalCash {
		if req.CashAmount == nil || !req.CashAmount.IsPositive() {
			return nil, nil, apperror.Validation(apperror.CodeInvalidInput, "cash amount must be positive")
		}
		if req.PaymentMethodID == "" {
			return nil, nil, apperror.Validation(apperror.CodeRequiredField, "payment_method_id")
		}
		if floor := target.Payment.MinCash; floor != nil && req.CashAmount.Currency().Code() != floor.Currency().Code() {
			return nil, nil, apperror.New(apperror.CodeCurrencyMismatch,
				apperror.WithContext(target.ID),
				apperror.WithDetail("currency", floor.Currency().Code()),
				apperror.WithDetail("offered", req.CashAmount.Currency().Code()))
		}
		if floor := target.Payment.MinCash; floor != nil && req.CashAmount.LessThan(*floor) {
			return nil, nil, apperror.New(apperror.CodeCashOfferTooLow,
				apperror.WithContext(target.ID),
				apperror.WithDetail("minimum", floor.String()),
				apperror.WithDetail("offered", req.CashAmount.String()))
		}
	}

	existing, err := t.Proposals.PendingByPair(ctx, domain.PairKey(req.SourceSwapID, target.ID, req.ProposerID))
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, apperror.New(apperror.CodeProposalAlreadyExists,
			apperror.WithContext(target.ID),
			apperror.WithDetail("proposal_id", existing.ID),
			apperror.WithSuggestion("View the existing proposal"))
	}

	var auction *domain.Auction
	if target.InAuction() {
		auction, err = t.Auctions.Get(ctx, target.Acceptance.AuctionID)
		if err != nil {
			return nil, nil, err
		}
		if err := auction.CheckSubmission(req.Type, req.CashAmount, now); err != nil {
			return nil, nil, err
		}
	}

	if req.Type == domain.ProposalCash {
		if err := t.Escrow.Validate(ctx, req.ProposerID, req.PaymentMethodID, *req.CashAmount); err != nil {
			return nil, nil, err
		}
	}

	return target, auction, nil
}

type snapshot struct {
	proposal *domain.Proposal
	swaps    []*domain.Swap
	auction  *domain.Auction
}

func (t *TransactionManager) respond(ctx context.Context, cmd Command) (*Result, error) {
	p, err := t.Proposals.Get(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if err := authorize(cmd, p); err != nil {
		return nil, err
	}

	unlock, err := t.lock(ctx, p.SwapIDs()...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock; a concurrent call may have finished first.
	p, err = t.Proposals.Get(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	if err := checkRespond(cmd, p, now); err != nil {
		return nil, err
	}

	snap := snapshot{proposal: p.Clone()}
	var (
		swaps          []*domain.Swap
		auction        *domain.Auction
		lockedBookings []string
	)

	if cmd.Op == OpAccept {
		for _, id := range p.SwapIDs() {
			s, err := t.Swaps.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if !s.IsAvailable(now) {
				return nil, apperror.New(apperror.CodeSwapNotAvailable,
					apperror.WithContext(s.ID),
					apperror.WithDetail("status", string(s.Status)))
			}
			swaps = append(swaps, s)
			snap.swaps = append(snap.swaps, s.Clone())
		}

		if cmd.winnerOf != "" {
			auction, err = t.Auctions.Get(ctx, cmd.winnerOf)
			if err != nil {
				return nil, err
			}
			snap.auction = auction.Clone()
		}

		lockedBookings, err = t.lockBookings(ctx, p.ID, swaps)
		if err != nil {
			return nil, err
		}
	}

	releaseBookings := func(ctx context.Context) error {
		return t.unlockBookings(ctx, p.ID, lockedBookings)
	}
	restore := func(ctx context.Context) error {
		return t.restore(ctx, snap)
	}

	err = t.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := transition(p, cmd, now); err != nil {
			return err
		}
		if p.HasEscrow() && cmd.Op != OpAccept {
			p.Cash.RefundPending = true
		}
		if err := t.Proposals.Update(ctx, p); err != nil {
			return err
		}
		for _, s := range swaps {
			if err := s.MarkSwapped(now); err != nil {
				return err
			}
			if err := t.Swaps.Update(ctx, s); err != nil {
				return err
			}
		}
		if auction != nil {
			if err := auction.SelectWinner(p.ID, now); err != nil {
				return err
			}
			return t.Auctions.Update(ctx, auction)
		}
		return nil
	})
	if err != nil {
		t.compensate(ctx, cmd.Op, p.ID, restore, releaseBookings)
		return nil, err
	}

	res := &Result{Proposal: p, Swaps: swaps}

	released := false
	if p.HasEscrow() && cmd.Op == OpAccept {
		escrow, err := t.Escrow.ReleaseEscrow(ctx, p.Cash.EscrowID, p.TargetOwnerID)
		if err != nil {
			t.compensate(ctx, cmd.Op, p.ID, restore, releaseBookings)
			return nil, paymentFailed(err)
		}
		res.Escrow = escrow
		released = true
	}

	// Funds go back only once the ledger holds the outcome; a failed refund
	// after that point is retried by the reconciler.
	receipt, err := t.recordResponse(ctx, cmd.Op, p, auction)
	if err != nil {
		var steps []compensation
		if released {
			steps = append(steps, t.reverseStep(p.Cash.EscrowID))
		}
		steps = append(steps, restore, releaseBookings)
		t.compensate(ctx, cmd.Op, p.ID, steps...)
		return nil, ledgerFailed(err)
	}
	res.Receipt = receipt

	if p.NeedsRefund() {
		reason := cmd.Reason
		if reason == "" {
			reason = "proposal " + string(p.Status)
		}
		escrow, err := t.refund(ctx, p, reason)
		if err != nil {
			t.metrics.refundsDeferred.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(cmd.Op))))
			t.logger.Error(ctx, "escrow refund deferred",
				"proposal_id", p.ID,
				"escrow_id", p.Cash.EscrowID,
				"error", err)
		} else {
			res.Escrow = escrow
			p.Cash.RefundPending = false
		}
	}

	p.LedgerResponseTx = receipt.TransactionID
	if err := t.Proposals.Update(ctx, p); err != nil {
		t.logger.Warn(ctx, "ledger reference not stored", "proposal_id", p.ID, "error", err)
	}
	t.Index.Remove(p.SourceSwapID, p.TargetSwapID)

	t.logger.Info(ctx, "proposal "+string(p.Status),
		"proposal_id", p.ID,
		"actor_id", cmd.ActorID,
		"escrow", res.Escrow != nil,
		"ledger_tx", receipt.TransactionID)

	t.notify(ctx, "proposal_"+string(p.Status), []string{p.ProposerID, p.TargetOwnerID}, proposalPayload(p))
	return res, nil
}

// retryRefund returns the held funds of a closed proposal whose refund
// failed after the response was recorded.
func (t *TransactionManager) retryRefund(ctx context.Context, proposalID string) (bool, error) {
	p, err := t.Proposals.Get(ctx, proposalID)
	if err != nil {
		return false, err
	}

	unlock, err := t.lock(ctx, p.SwapIDs()...)
	if err != nil {
		return false, err
	}
	defer unlock()

	p, err = t.Proposals.Get(ctx, proposalID)
	if err != nil {
		return false, err
	}
	if !p.NeedsRefund() {
		return false, nil
	}

	reason := p.RejectionReason
	if reason == "" {
		reason = "proposal " + string(p.Status)
	}
	if _, err := t.refund(ctx, p, reason); err != nil {
		return false, paymentFailed(err)
	}

	p.Cash.RefundPending = false
	if err := t.Proposals.Update(ctx, p); err != nil {
		return false, err
	}

	t.logger.Info(ctx, "deferred escrow refund completed", "proposal_id", p.ID, "escrow_id", p.Cash.EscrowID)
	return true, nil
}

func authorize(cmd Command, p *domain.Proposal) error {
	if cmd.system {
		return nil
	}
	switch cmd.Op {
	case OpAccept, OpReject:
		if cmd.ActorID != p.TargetOwnerID {
			return apperror.Forbidden(apperror.CodeNotProposalParty, p.ID)
		}
	case OpWithdraw:
		if cmd.ActorID != p.ProposerID {
			return apperror.Forbidden(apperror.CodeNotProposalParty, p.ID)
		}
	case OpExpire:
		return apperror.Forbidden(apperror.CodeNotProposalParty, "expiry is engine initiated")
	}
	return nil
}

func checkRespond(cmd Command, p *domain.Proposal, now time.Time) error {
	if p.Status.IsTerminal() {
		return apperror.New(apperror.CodeInvalidProposalStatus,
			apperror.WithContext(p.ID),
			apperror.WithDetail("status", string(p.Status)))
	}

	switch cmd.Op {
	case OpAccept:
		if p.AuctionID != "" && cmd.winnerOf != p.AuctionID {
			return apperror.New(apperror.CodeAuctionNotEnded,
				apperror.WithContext(p.AuctionID),
				apperror.WithSuggestion("Select the auction winner once the auction has ended"))
		}
		if p.IsExpired(now) {
			return apperror.New(apperror.CodeInvalidProposalStatus,
				apperror.WithContext(p.ID),
				apperror.WithDetail("status", "expired"))
		}
	case OpExpire:
		if !p.IsExpired(now) {
			return apperror.New(apperror.CodeInvalidProposalStatus,
				apperror.WithContext("proposal has not expired"),
				apperror.WithDetail("proposal_id", p.ID))
		}
	}
	return nil
}

func transition(p *domain.Proposal, cmd Command, now time.Time) error {
	switch cmd.Op {
	case OpAccept:
		return p.Accept(now)
	case OpReject:
		return p.Reject(cmd.Reason, now)
	case OpWithdraw:
		return p.Withdraw(now)
	case OpExpire:
		return p.Expire(now)
	}
	return apperror.Validation(apperror.CodeInvalidInput, "unknown operation "+string(cmd.Op))
}

// refund returns held funds to the proposer. An escrow already refunded is
// left as is.
func (t *TransactionManager) refund(ctx context.Context, p *domain.Proposal, reason string) (*paymentDomain.EscrowAccount, error) {
	escrow, err := t.Escrow.GetEscrow(ctx, p.Cash.EscrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status == paymentDomain.EscrowRefunded {
		return escrow, nil
	}
	return t.Escrow.RefundEscrow(ctx, p.Cash.EscrowID, reason)
}

func (t *TransactionManager) lock(ctx context.Context, keys ...string) (func(), error) {
	lockCtx := ctx
	if t.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, t.cfg.LockTimeout)
		defer cancel()
	}

	unlock, err := t.Locks.Lock(lockCtx, keys...)
	if err != nil {
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeLockUnavailable,
			apperror.WithCause(err),
			apperror.WithDetail("swap_ids", keys))
	}
	return unlock, nil
}

func (t *TransactionManager) lockBookings(ctx context.Context, holder string, swaps []*domain.Swap) ([]string, error) {
	ids := make([]string, 0, len(swaps))
	for _, s := range swaps {
		ids = append(ids, s.BookingID)
	}
	sort.Strings(ids)

	var locked []string
	for _, id := range ids {
		if err := t.Bookings.Lock(ctx, id, holder); err != nil {
			if uerr := t.unlockBookings(ctx, holder, locked); uerr != nil {
				t.logger.Error(ctx, "booking unlock failed", "holder", holder, "error", uerr)
			}
			if apperror.HasCode(err, apperror.CodeBookingLockFailed) {
				return nil, err
			}
			return nil, apperror.New(apperror.CodeBookingLockFailed,
				apperror.WithContext(id),
				apperror.WithCause(err))
		}
		locked = append(locked, id)
	}
	return locked, nil
}

func (t *TransactionManager) unlockBookings(ctx context.Context, holder string, ids []string) error {
	var first error
	for _, id := range ids {
		if err := t.Bookings.Unlock(ctx, id, holder); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *TransactionManager) restore(ctx context.Context, snap snapshot) error {
	return t.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := t.Proposals.Update(ctx, snap.proposal); err != nil {
			return err
		}
		for _, s := range snap.swaps {
			if err := t.Swaps.Update(ctx, s); err != nil {
				return err
			}
		}
		if snap.auction != nil {
			return t.Auctions.Update(ctx, snap.auction)
		}
		return nil
	})
}

type compensation func(ctx context.Context) error

func (t *TransactionManager) refundStep(escrowID, reason string) compensation {
	return func(ctx context.Context) error {
		_, err := t.Escrow.RefundEscrow(ctx, escrowID, reason)
		return err
	}
}

func (t *TransactionManager) reverseStep(escrowID string) compensation {
	return func(ctx context.Context) error {
		_, err := t.Escrow.ReverseRelease(ctx, escrowID, "ledger recording failed")
		return err
	}
}

// compensate runs every step even if one fails. Steps run detached from the
// caller's cancellation.
func (t *TransactionManager) compensate(ctx context.Context, op Operation, proposalID string, steps ...compensation) {
	ctx = context.WithoutCancel(ctx)
	t.metrics.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))

	for i, step := range steps {
		if err := step(ctx); err != nil {
			t.metrics.compensationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
			t.logger.Error(ctx, "compensation step failed",
				"op", op,
				"proposal_id", proposalID,
				"step", i,
				"error", err)
		}
	}

	t.logger.Warn(ctx, "proposal transaction rolled back", "op", op, "proposal_id", proposalID)
}

// winnerEvent is the single ledger entry for an auction winner: the
// auction outcome and the accepted proposal together.
type winnerEvent struct {
	auctionEvent
	Proposal proposalEvent `json:"proposal"`
}

// recordResponse writes one ledger event for the response.
func (t *TransactionManager) recordResponse(ctx context.Context, op Operation, p *domain.Proposal, auction *domain.Auction) (ledgerDomain.Receipt, error) {
	if auction != nil {
		payload := winnerEvent{auctionEvent: auctionPayload(auction, ""), Proposal: proposalPayload(p)}
		return t.Ledger.Record(ctx, ledgerDomain.EventAuctionWinnerSelected, payload,
			ledgerDomain.IdempotencyKey(auction.ID, ledgerDomain.EventAuctionWinnerSelected))
	}

	eventType := responseEvent(op)
	return t.Ledger.Record(ctx, eventType, proposalPayload(p), ledgerDomain.IdempotencyKey(p.ID, eventType))
}

func (t *TransactionManager) notify(ctx context.Context, eventType string, recipients []string, payload any) {
	if t.Notifier == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		if t.cfg.NotifyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.NotifyTimeout)
			defer cancel()
		}

		if err := t.Notifier.Notify(ctx, eventType, recipients, payload); err != nil {
			t.metrics.notifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
			t.logger.Warn(ctx, "notification failed", "event", eventType, "error", err)
		}
	}()
}

func responseEvent(op Operation) ledgerDomain.EventType {
	switch op {
	case OpAccept:
		return ledgerDomain.EventProposalAccepted
	case OpReject:
		return ledgerDomain.EventProposalRejected
	case OpWithdraw:
		return ledgerDomain.EventProposalWithdrawn
	default:
		return ledgerDomain.EventProposalExpired
	}
}

func swapOpen(s *domain.Swap, now time.Time) error {
	if s.Status != domain.SwapAvailable {
		return apperror.New(apperror.CodeSwapNotAvailable,
			apperror.WithContext(s.ID),
			apperror.WithDetail("status", string(s.Status)))
	}
	if !s.IsAvailable(now) {
		return apperror.New(apperror.CodeSwapExpired, apperror.WithContext(s.ID))
	}
	return nil
}

func createSwapIDs(req *CreateRequest) []string {
	if req.SourceSwapID == "" {
		return []string{req.TargetSwapID}
	}
	return []string{req.SourceSwapID, req.TargetSwapID}
}

func cashAmount(p *domain.Proposal) *money.Money {
	if p.Cash == nil {
		return nil
	}
	m := p.Cash.Amount
	return &m
}

func paymentFailed(err error) error {
	return apperror.New(apperror.CodePaymentProcessingFailed,
		apperror.WithDetail("cause_code", string(apperror.GetCode(err))),
		apperror.WithCause(err))
}

func ledgerFailed(err error) error {
	if apperror.HasCode(err, apperror.CodeLedgerRecordingFailed) {
		return err
	}
	return apperror.New(apperror.CodeLedgerRecordingFailed, apperror.WithCause(err))
}

type proposalEvent struct {
	ProposalID    string       `json:"proposal_id"`
	Type          string       `json:"type"`
	Status        string       `json:"status"`
	SourceSwapID  string       `json:"source_swap_id,omitempty"`
	TargetSwapID  string       `json:"target_swap_id"`
	ProposerID    string       `json:"proposer_id"`
	TargetOwnerID string       `json:"target_owner_id"`
	CashAmount    *money.Money `json:"cash_amount,omitempty"`
	EscrowID      string       `json:"escrow_id,omitempty"`
	AuctionID     string       `json:"auction_id,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Score         int          `json:"compatibility_score"`
}

func proposalPayload(p *domain.Proposal) proposalEvent {
	e := proposalEvent{
		ProposalID:    p.ID,
		Type:          string(p.Type),
		Status:        string(p.Status),
		SourceSwapID:  p.SourceSwapID,
		TargetSwapID:  p.TargetSwapID,
		ProposerID:    p.ProposerID,
		TargetOwnerID: p.TargetOwnerID,
		CashAmount:    cashAmount(p),
		AuctionID:     p.AuctionID,
		Reason:        p.RejectionReason,
		Score:         p.CompatibilityScore,
	}
	if p.Cash != nil {
		e.EscrowID = p.Cash.EscrowID
	}
	return e
}

// closeSiblings closes pending proposals that involve the swaps of an
// accepted proposal. Proposals targeting those swaps are rejected with reason
// and proposals offering them are withdrawn.
func (t *TransactionManager) closeSiblings(ctx context.Context, accepted *domain.Proposal, reason string) int {
	involved := accepted.SwapIDs()
	seen := map[string]bool{accepted.ID: true}
	closed := 0

	for _, swapID := range involved {
		pending, err := t.Proposals.ListPendingBySwap(ctx, swapID)
		if err != nil {
			t.logger.Error(ctx, "list pending proposals failed", "swap_id", swapID, "error", err)
			continue
		}

		for _, p := range pending {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true

			cmd := Command{Op: OpWithdraw, ProposalID: p.ID, ActorID: SystemActor, system: true}
			if slices.Contains(involved, p.TargetSwapID) {
				cmd.Op = OpReject
				cmd.Reason = reason
			}
			if _, err := t.Execute(ctx, cmd); err != nil {
				t.logger.Error(ctx, "close sibling proposal failed",
					"proposal_id", p.ID,
					"accepted_id", accepted.ID,
					"error", err)
				continue
			}
			closed++
		}
	}
	return closed
}
