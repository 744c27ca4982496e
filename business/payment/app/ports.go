// Package app contains the escrow orchestrator and port definitions for the payment context.
package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/money"
)

// HoldRequest asks the gateway to authorize and hold funds.
type HoldRequest struct {
	PayerID         string
	PaymentMethodID string
	Amount          money.Money
	IdempotencyKey  string
}

// ReleaseRequest asks the gateway to capture a hold and pay the recipient.
type ReleaseRequest struct {
	HoldRef        string
	RecipientID    string
	Net            money.Money
	Fee            money.Money
	IdempotencyKey string
}

// ChargeRequest asks the gateway for a direct capture.
type ChargeRequest struct {
	PayerID         string
	RecipientID     string
	PaymentMethodID string
	Amount          money.Money
	Fee             money.Money
	IdempotencyKey  string
}

// Gateway is the payment processor.
type Gateway interface {
	// VerifyMethod returns the stored instrument. Unknown ids fail with
	// PAYMENT_METHOD_INVALID.
	VerifyMethod(ctx context.Context, methodID string) (*domain.PaymentMethod, error)

	// Hold authorizes funds and returns the hold reference.
	Hold(ctx context.Context, req HoldRequest) (string, error)

	// Release captures a hold and returns the transfer reference.
	Release(ctx context.Context, req ReleaseRequest) (string, error)

	// Refund voids a hold.
	Refund(ctx context.Context, holdRef, idempotencyKey string) (string, error)

	// Reverse claws back a completed transfer to the payer.
	Reverse(ctx context.Context, transferRef, idempotencyKey string) (string, error)

	// Charge captures funds immediately.
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// EscrowRepository persists escrow accounts.
type EscrowRepository interface {
	Create(ctx context.Context, e *domain.EscrowAccount) error

	// Get fails with ESCROW_NOT_FOUND for unknown ids.
	Get(ctx context.Context, id string) (*domain.EscrowAccount, error)

	// CompareAndSwap writes e only if the stored status equals from;
	// otherwise it fails with INVALID_ESCROW_STATUS.
	CompareAndSwap(ctx context.Context, e *domain.EscrowAccount, from domain.EscrowStatus) error
}

// TransactionRepository persists payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.PaymentTransaction) error
	Update(ctx context.Context, t *domain.PaymentTransaction) error

	// VelocitySince counts the payer's non-failed holds and charges in
	// currency created at or after since, and sums their amounts.
	VelocitySince(ctx context.Context, payerID, currency string, since time.Time) (int, decimal.Decimal, error)
}
