// Package domain contains the core domain types for the payment context.
package domain

import (
	"time"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

// EscrowStatus is the lifecycle state of an escrow account.
type EscrowStatus string

const (
	EscrowCreated  EscrowStatus = "created"
	EscrowFunded   EscrowStatus = "funded"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// IsTerminal reports whether no further release or refund is possible.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// EscrowAccount holds a payer's funds until a proposal resolves.
type EscrowAccount struct {
	ID            string
	TransactionID string // gateway hold reference
	ReleaseRef    string // gateway transfer reference, set on release
	ProposalID    string
	PayerID       string
	RecipientID   string
	Amount        money.Money
	PlatformFee   money.Money
	NetAmount     money.Money
	Status        EscrowStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEscrowAccount creates an escrow in the created state.
func NewEscrowAccount(id, proposalID, payerID, recipientID string, amount money.Money, now time.Time) *EscrowAccount {
	zero := money.Zero(amount.Currency())
	return &EscrowAccount{
		ID:          id,
		ProposalID:  proposalID,
		PayerID:     payerID,
		RecipientID: recipientID,
		Amount:      amount,
		PlatformFee: zero,
		NetAmount:   zero,
		Status:      EscrowCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// transitions lists the allowed status moves. created -> refunded is only
// reachable by closing an escrow whose hold failed, and released -> refunded
// only through a release reversal.
var transitions = map[EscrowStatus][]EscrowStatus{
	EscrowCreated:  {EscrowFunded, EscrowRefunded},
	EscrowFunded:   {EscrowReleased, EscrowRefunded},
	EscrowReleased: {EscrowRefunded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to EscrowStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to mutate.
func (e *EscrowAccount) Clone() *EscrowAccount {
	c := *e
	return &c
}

// MarkFunded records the gateway hold.
func (e *EscrowAccount) MarkFunded(holdRef string, now time.Time) error {
	if e.Status != EscrowCreated {
		return invalidStatus(e, EscrowFunded)
	}
	e.TransactionID = holdRef
	e.Status = EscrowFunded
	e.UpdatedAt = now
	return nil
}

// MarkReleased moves funded funds to the recipient, net of fee.
func (e *EscrowAccount) MarkReleased(fee, net money.Money, now time.Time) error {
	if e.Status != EscrowFunded {
		return invalidStatus(e, EscrowReleased)
	}
	e.PlatformFee = fee
	e.NetAmount = net
	e.Status = EscrowReleased
	e.UpdatedAt = now
	return nil
}

// MarkRefunded returns the full amount of a funded escrow to the payer with
// zero fee.
func (e *EscrowAccount) MarkRefunded(now time.Time) error {
	if e.Status != EscrowFunded {
		return invalidStatus(e, EscrowRefunded)
	}
	e.refund(now)
	return nil
}

// CloseUnfunded closes an escrow whose hold never succeeded. No money moved,
// so it ends refunded with nothing to return.
func (e *EscrowAccount) CloseUnfunded(now time.Time) error {
	if e.Status != EscrowCreated {
		return invalidStatus(e, EscrowRefunded)
	}
	e.refund(now)
	return nil
}

// MarkReversed undoes a release.
func (e *EscrowAccount) MarkReversed(now time.Time) error {
	if e.Status != EscrowReleased {
		return invalidStatus(e, EscrowRefunded)
	}
	e.refund(now)
	return nil
}

func (e *EscrowAccount) refund(now time.Time) {
	zero := money.Zero(e.Amount.Currency())
	e.PlatformFee = zero
	e.NetAmount = zero
	e.Status = EscrowRefunded
	e.UpdatedAt = now
}

func invalidStatus(e *EscrowAccount, to EscrowStatus) error {
	return apperror.New(apperror.CodeInvalidEscrowStatus,
		apperror.WithContext("escrow "+e.ID),
		apperror.WithDetail("status", string(e.Status)),
		apperror.WithDetail("requested", string(to)))
}
