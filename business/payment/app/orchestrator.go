package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
)

const (
	tracerName = "github.com/fd1az/swapengine/business/payment/app"
	meterName  = "github.com/fd1az/swapengine/business/payment/app"
)

// Config holds escrow and payment policy.
type Config struct {
	FeeRate   decimal.Decimal
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Velocity  VelocityLimits
}

type orchestratorMetrics struct {
	escrowsCreated  metric.Int64Counter
	escrowsReleased metric.Int64Counter
	escrowsRefunded metric.Int64Counter
	releaseReversed metric.Int64Counter
	gatewayFailures metric.Int64Counter
	rejections      metric.Int64Counter
}

// Orchestrator owns every escrow mutation and gateway movement.
type Orchestrator struct {
	cfg        Config
	gateway    Gateway
	escrows    EscrowRepository
	txs        TransactionRepository
	currencies *money.Registry
	velocity   *VelocityCheck
	logger     logger.LoggerInterface
	now        func() time.Time

	tracer  trace.Tracer
	metrics *orchestratorMetrics
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	cfg Config,
	gateway Gateway,
	escrows EscrowRepository,
	txs TransactionRepository,
	currencies *money.Registry,
	log logger.LoggerInterface,
) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:        cfg,
		gateway:    gateway,
		escrows:    escrows,
		txs:        txs,
		currencies: currencies,
		logger:     log,
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
	}
	o.velocity = NewVelocityCheck(cfg.Velocity, txs, func() time.Time { return o.now() })

	if err := o.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return o, nil
}

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	o.metrics = &orchestratorMetrics{}

	o.metrics.escrowsCreated, err = meter.Int64Counter(
		"escrow_created_total",
		metric.WithDescription("Escrow accounts funded"),
		metric.WithUnit("{escrow}"),
	)
	if err != nil {
		return err
	}

	o.metrics.escrowsReleased, err = meter.Int64Counter(
		"escrow_released_total",
		metric.WithDescription("Escrow accounts released to recipients"),
		metric.WithUnit("{escrow}"),
	)
	if err != nil {
		return err
	}

	o.metrics.escrowsRefunded, err = meter.Int64Counter(
		"escrow_refunded_total",
		metric.WithDescription("Escrow accounts refunded to payers"),
		metric.WithUnit("{escrow}"),
	)
	if err != nil {
		return err
	}

	o.metrics.releaseReversed, err = meter.Int64Counter(
		"escrow_release_reversed_total",
		metric.WithDescription("Escrow releases reversed by compensation"),
		metric.WithUnit("{escrow}"),
	)
	if err != nil {
		return err
	}

	o.metrics.gatewayFailures, err = meter.Int64Counter(
		"payment_gateway_failures_total",
		metric.WithDescription("Gateway calls that failed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	o.metrics.rejections, err = meter.Int64Counter(
		"payment_rejections_total",
		metric.WithDescription("Payments rejected by validation or fraud checks"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Validate runs every check that must pass before funds move: amount bounds,
// currency support, payment method ownership and verification, and velocity.
func (o *Orchestrator) Validate(ctx context.Context, payerID, methodID string, amount money.Money) error {
	ctx, span := o.tracer.Start(ctx, "payment.validate",
		trace.WithAttributes(attribute.String("payer_id", payerID)),
	)
	defer span.End()

	err := o.validate(ctx, payerID, methodID, amount)
	if err != nil {
		o.metrics.rejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", string(apperror.GetCode(err))),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		return err
	}

	span.SetStatus(codes.Ok, "valid")
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, payerID, methodID string, amount money.Money) error {
	if !o.currencies.Supports(amount.Currency().Code()) {
		return apperror.New(apperror.CodeUnsupportedCurrency,
			apperror.WithDetail("currency", amount.Currency().Code()),
			apperror.WithDetail("supported", o.currencies.Codes()))
	}

	if amount.Amount().LessThan(o.cfg.MinAmount) || amount.Amount().GreaterThan(o.cfg.MaxAmount) {
		return apperror.New(apperror.CodeAmountOutOfRange,
			apperror.WithDetail("amount", amount.String()),
			apperror.WithDetail("min", o.cfg.MinAmount.String()),
			apperror.WithDetail("max", o.cfg.MaxAmount.String()))
	}

	if methodID == "" {
		return apperror.Validation(apperror.CodePaymentMethodInvalid, "payment method is required")
	}

	method, err := o.gateway.VerifyMethod(ctx, methodID)
	if err != nil {
		return err
	}
	if method.UserID != payerID {
		return apperror.New(apperror.CodePaymentMethodInvalid,
			apperror.WithContext("payment method belongs to another user"),
			apperror.WithDetail("payment_method_id", methodID))
	}
	if !method.Verified {
		return apperror.New(apperror.CodePaymentMethodInvalid,
			apperror.WithContext("payment method is not verified"),
			apperror.WithDetail("payment_method_id", methodID))
	}

	return o.velocity.Check(ctx, payerID, amount)
}

// CreateEscrow validates the request, records the escrow and holds the funds.
// On a failed hold the escrow is closed as refunded and the gateway error returned.
func (o *Orchestrator) CreateEscrow(ctx context.Context, req domain.EscrowRequest) (*domain.EscrowAccount, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.create",
		trace.WithAttributes(
			attribute.String("proposal_id", req.ProposalID),
			attribute.String("amount", req.Amount.String()),
		),
	)
	defer span.End()

	if err := o.Validate(ctx, req.PayerID, req.PaymentMethodID, req.Amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	now := o.now()
	escrow := domain.NewEscrowAccount(uuid.NewString(), req.ProposalID, req.PayerID, req.RecipientID, req.Amount, now)
	if err := o.escrows.Create(ctx, escrow); err != nil {
		span.RecordError(err)
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "create escrow")
	}

	tx := o.newTransaction(domain.KindEscrowHold, escrow, req.SwapID, escrow.Amount, money.Zero(escrow.Amount.Currency()))
	if err := o.txs.Create(ctx, tx); err != nil {
		span.RecordError(err)
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "create hold transaction")
	}

	holdRef, err := o.gateway.Hold(ctx, HoldRequest{
		PayerID:         req.PayerID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		IdempotencyKey:  escrow.ID + ":hold",
	})
	if err != nil {
		o.gatewayFailed(ctx, "hold", err)
		o.failTransaction(ctx, tx, err)

		closed := escrow.Clone()
		if rerr := closed.CloseUnfunded(o.now()); rerr == nil {
			if cerr := o.escrows.CompareAndSwap(ctx, closed, domain.EscrowCreated); cerr != nil {
				o.logger.Error(ctx, "close unfunded escrow", "escrow_id", escrow.ID, "error", cerr)
			}
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "hold failed")
		return nil, err
	}

	funded := escrow.Clone()
	if err := funded.MarkFunded(holdRef, o.now()); err != nil {
		return nil, err
	}
	if err := o.escrows.CompareAndSwap(ctx, funded, domain.EscrowCreated); err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.completeTransaction(ctx, tx, holdRef)

	o.metrics.escrowsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("currency", funded.Amount.Currency().Code()),
	))
	o.logger.Info(ctx, "escrow funded",
		"escrow_id", funded.ID,
		"proposal_id", funded.ProposalID,
		"amount", funded.Amount.String())

	span.SetAttributes(attribute.String("escrow_id", funded.ID))
	span.SetStatus(codes.Ok, "funded")
	return funded, nil
}

// ReleaseEscrow pays a funded escrow to its recipient, net of the platform fee.
// The status guard runs before the gateway call so a second release fails
// with INVALID_ESCROW_STATUS without moving money.
func (o *Orchestrator) ReleaseEscrow(ctx context.Context, escrowID, recipientID string) (*domain.EscrowAccount, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.release",
		trace.WithAttributes(attribute.String("escrow_id", escrowID)),
	)
	defer span.End()

	current, err := o.escrows.Get(ctx, escrowID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if current.RecipientID != recipientID {
		err := apperror.Forbidden(apperror.CodeNotProposalParty, "escrow recipient mismatch")
		span.RecordError(err)
		return nil, err
	}

	fee, net, err := current.Amount.SplitFee(o.cfg.FeeRate)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeInternalError, "split platform fee", err)
	}

	released := current.Clone()
	if err := released.MarkReleased(fee, net, o.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.escrows.CompareAndSwap(ctx, released, domain.EscrowFunded); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tx := o.newTransaction(domain.KindRelease, released, "", released.Amount, fee)
	tx.NetAmount = net
	if err := o.txs.Create(ctx, tx); err != nil {
		o.logger.Warn(ctx, "record release transaction", "escrow_id", escrowID, "error", err)
	}

	transferRef, err := o.gateway.Release(ctx, ReleaseRequest{
		HoldRef:        current.TransactionID,
		RecipientID:    recipientID,
		Net:            net,
		Fee:            fee,
		IdempotencyKey: escrowID + ":release",
	})
	if err != nil {
		o.gatewayFailed(ctx, "release", err)
		o.failTransaction(ctx, tx, err)
		if rerr := o.escrows.CompareAndSwap(ctx, current, domain.EscrowReleased); rerr != nil {
			o.logger.Error(ctx, "restore escrow after failed release", "escrow_id", escrowID, "error", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return nil, err
	}

	released.ReleaseRef = transferRef
	if err := o.escrows.CompareAndSwap(ctx, released, domain.EscrowReleased); err != nil {
		o.logger.Error(ctx, "store release reference", "escrow_id", escrowID, "error", err)
	}
	o.completeTransaction(ctx, tx, transferRef)

	o.metrics.escrowsReleased.Add(ctx, 1)
	o.logger.Info(ctx, "escrow released",
		"escrow_id", escrowID,
		"net", net.String(),
		"fee", fee.String())

	span.SetStatus(codes.Ok, "released")
	return released, nil
}

// RefundEscrow returns the full amount of a funded escrow to the payer. Any
// other status fails with INVALID_ESCROW_STATUS.
func (o *Orchestrator) RefundEscrow(ctx context.Context, escrowID, reason string) (*domain.EscrowAccount, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.refund",
		trace.WithAttributes(
			attribute.String("escrow_id", escrowID),
			attribute.String("reason", reason),
		),
	)
	defer span.End()

	current, err := o.escrows.Get(ctx, escrowID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	refunded := current.Clone()
	if err := refunded.MarkRefunded(o.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.escrows.CompareAndSwap(ctx, refunded, domain.EscrowFunded); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tx := o.newTransaction(domain.KindRefund, refunded, "", refunded.Amount, money.Zero(refunded.Amount.Currency()))
	tx.FailureReason = reason
	if err := o.txs.Create(ctx, tx); err != nil {
		o.logger.Warn(ctx, "record refund transaction", "escrow_id", escrowID, "error", err)
	}

	ref, err := o.gateway.Refund(ctx, current.TransactionID, escrowID+":refund")
	if err != nil {
		o.gatewayFailed(ctx, "refund", err)
		o.failTransaction(ctx, tx, err)
		if rerr := o.escrows.CompareAndSwap(ctx, current, domain.EscrowRefunded); rerr != nil {
			o.logger.Error(ctx, "restore escrow after failed refund", "escrow_id", escrowID, "error", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		return nil, err
	}
	o.completeTransaction(ctx, tx, ref)

	o.metrics.escrowsRefunded.Add(ctx, 1)
	o.logger.Info(ctx, "escrow refunded", "escrow_id", escrowID, "reason", reason)

	span.SetStatus(codes.Ok, "refunded")
	return refunded, nil
}

// ReverseRelease claws back a released escrow to the payer. It is the only
// released -> refunded path and is reserved for saga compensation.
func (o *Orchestrator) ReverseRelease(ctx context.Context, escrowID, reason string) (*domain.EscrowAccount, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.reverse_release",
		trace.WithAttributes(
			attribute.String("escrow_id", escrowID),
			attribute.String("reason", reason),
		),
	)
	defer span.End()

	current, err := o.escrows.Get(ctx, escrowID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reversed := current.Clone()
	if err := reversed.MarkReversed(o.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.escrows.CompareAndSwap(ctx, reversed, domain.EscrowReleased); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tx := o.newTransaction(domain.KindReversal, reversed, "", current.NetAmount, money.Zero(current.Amount.Currency()))
	tx.FailureReason = reason
	if err := o.txs.Create(ctx, tx); err != nil {
		o.logger.Warn(ctx, "record reversal transaction", "escrow_id", escrowID, "error", err)
	}

	ref, err := o.gateway.Reverse(ctx, current.ReleaseRef, escrowID+":reverse")
	if err != nil {
		o.gatewayFailed(ctx, "reverse", err)
		o.failTransaction(ctx, tx, err)
		if rerr := o.escrows.CompareAndSwap(ctx, current, domain.EscrowRefunded); rerr != nil {
			o.logger.Error(ctx, "restore escrow after failed reversal", "escrow_id", escrowID, "error", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reversal failed")
		return nil, err
	}
	o.completeTransaction(ctx, tx, ref)

	o.metrics.releaseReversed.Add(ctx, 1)
	o.logger.Warn(ctx, "escrow release reversed", "escrow_id", escrowID, "reason", reason)

	span.SetStatus(codes.Ok, "reversed")
	return reversed, nil
}

// ProcessPayment charges the payer directly, outside escrow.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentTransaction, error) {
	ctx, span := o.tracer.Start(ctx, "payment.process",
		trace.WithAttributes(
			attribute.String("proposal_id", req.ProposalID),
			attribute.String("amount", req.Amount.String()),
		),
	)
	defer span.End()

	if err := o.Validate(ctx, req.PayerID, req.PaymentMethodID, req.Amount); err != nil {
		span.RecordError(err)
		return nil, err
	}

	fee, net, err := req.Amount.SplitFee(o.cfg.FeeRate)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeInternalError, "split platform fee", err)
	}

	tx := &domain.PaymentTransaction{
		ID:          uuid.NewString(),
		Kind:        domain.KindDirectCharge,
		SwapID:      req.SwapID,
		ProposalID:  req.ProposalID,
		PayerID:     req.PayerID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		PlatformFee: fee,
		NetAmount:   net,
		Status:      domain.TxProcessing,
		CreatedAt:   o.now(),
	}
	if err := o.txs.Create(ctx, tx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "create charge transaction")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = tx.ID + ":charge"
	}

	ref, err := o.gateway.Charge(ctx, ChargeRequest{
		PayerID:         req.PayerID,
		RecipientID:     req.RecipientID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		Fee:             fee,
		IdempotencyKey:  key,
	})
	if err != nil {
		o.gatewayFailed(ctx, "charge", err)
		o.failTransaction(ctx, tx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		return nil, err
	}
	o.completeTransaction(ctx, tx, ref)

	span.SetStatus(codes.Ok, "charged")
	return tx, nil
}

// GetEscrow returns an escrow account.
func (o *Orchestrator) GetEscrow(ctx context.Context, escrowID string) (*domain.EscrowAccount, error) {
	return o.escrows.Get(ctx, escrowID)
}

func (o *Orchestrator) newTransaction(kind domain.TransactionKind, e *domain.EscrowAccount, swapID string, amount, fee money.Money) *domain.PaymentTransaction {
	net, err := amount.Sub(fee)
	if err != nil {
		net = amount
	}
	return &domain.PaymentTransaction{
		ID:          uuid.NewString(),
		Kind:        kind,
		SwapID:      swapID,
		ProposalID:  e.ProposalID,
		EscrowID:    e.ID,
		PayerID:     e.PayerID,
		RecipientID: e.RecipientID,
		Amount:      amount,
		PlatformFee: fee,
		NetAmount:   net,
		Status:      domain.TxProcessing,
		CreatedAt:   o.now(),
	}
}

func (o *Orchestrator) completeTransaction(ctx context.Context, tx *domain.PaymentTransaction, ref string) {
	tx.Complete(ref, o.now())
	if err := o.txs.Update(ctx, tx); err != nil {
		o.logger.Warn(ctx, "update payment transaction", "transaction_id", tx.ID, "error", err)
	}
}

func (o *Orchestrator) failTransaction(ctx context.Context, tx *domain.PaymentTransaction, cause error) {
	tx.Fail(string(apperror.GetCode(cause)), o.now())
	if err := o.txs.Update(ctx, tx); err != nil {
		o.logger.Warn(ctx, "update payment transaction", "transaction_id", tx.ID, "error", err)
	}
}

func (o *Orchestrator) gatewayFailed(ctx context.Context, op string, err error) {
	o.metrics.gatewayFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("code", string(apperror.GetCode(err))),
	))
	o.logger.Warn(ctx, "gateway call failed", "operation", op, "error", err)
}
