package domain

import (
	"time"

	"github.com/fd1az/swapengine/internal/money"
)

// TransactionKind identifies the money movement a transaction records.
type TransactionKind string

const (
	KindEscrowHold   TransactionKind = "escrow_hold"
	KindRelease      TransactionKind = "release"
	KindRefund       TransactionKind = "refund"
	KindReversal     TransactionKind = "reversal"
	KindDirectCharge TransactionKind = "direct_charge"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxRefunded   TransactionStatus = "refunded"
)

// PaymentTransaction is an auditable record of one gateway movement.
type PaymentTransaction struct {
	ID            string
	Kind          TransactionKind
	SwapID        string
	ProposalID    string
	EscrowID      string
	PayerID       string
	RecipientID   string
	Amount        money.Money
	PlatformFee   money.Money
	NetAmount     money.Money
	GatewayRef    string
	LedgerRef     string
	Status        TransactionStatus
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Complete marks the transaction as settled by the gateway.
func (t *PaymentTransaction) Complete(gatewayRef string, now time.Time) {
	t.GatewayRef = gatewayRef
	t.Status = TxCompleted
	t.CompletedAt = &now
}

// Fail marks the transaction as rejected.
func (t *PaymentTransaction) Fail(reason string, now time.Time) {
	t.Status = TxFailed
	t.FailureReason = reason
	t.CompletedAt = &now
}

// PaymentMethod is a payer's instrument as reported by the gateway.
type PaymentMethod struct {
	ID       string
	UserID   string
	Kind     string
	Verified bool
}

// EscrowRequest asks for funds to be held against a proposal.
type EscrowRequest struct {
	SwapID          string
	ProposalID      string
	PayerID         string
	RecipientID     string
	Amount          money.Money
	PaymentMethodID string
}

// PaymentRequest asks for a direct charge outside escrow.
type PaymentRequest struct {
	SwapID          string
	ProposalID      string
	PayerID         string
	RecipientID     string
	Amount          money.Money
	PaymentMethodID string
	IdempotencyKey  string
}
