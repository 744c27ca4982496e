package domain

import (
	"time"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

// ProposalType is what the proposer offers.
type ProposalType string

const (
	ProposalBooking ProposalType = "booking"
	ProposalCash    ProposalType = "cash"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
	ProposalWithdrawn ProposalStatus = "withdrawn"
)

// IsTerminal reports whether no further transition is possible.
func (s ProposalStatus) IsTerminal() bool {
	return s != ProposalPending
}

// CashOffer is the cash component of a proposal.
type CashOffer struct {
	Amount          money.Money
	PaymentMethodID string
	// EscrowID is set once funds are held.
	EscrowID string
	// RefundPending marks a closed proposal whose held funds still have to
	// go back to the proposer.
	RefundPending bool
}

// Proposal is an offer against a listed swap. TargetSwapID is the listing;
// SourceSwapID is the proposer's swap and is empty for pure cash offers.
type Proposal struct {
	ID                 string
	SourceSwapID       string
	TargetSwapID       string
	ProposerID         string
	TargetOwnerID      string
	Type               ProposalType
	Cash               *CashOffer
	Message            string
	Conditions         []string
	CompatibilityScore int
	Status             ProposalStatus
	RejectionReason    string
	AuctionID          string
	LedgerCreatedTx    string
	LedgerResponseTx   string
	CreatedAt          time.Time
	RespondedAt        *time.Time
	ExpiresAt          *time.Time
}

// PairKey identifies the (source, target) pair for the one-pending-proposal
// rule. Cash offers without a source swap pair on the proposer instead.
func PairKey(sourceSwapID, targetSwapID, proposerID string) string {
	if sourceSwapID == "" {
		return "cash:" + proposerID + ">" + targetSwapID
	}
	return sourceSwapID + ">" + targetSwapID
}

// PairKey returns the proposal's pair key.
func (p *Proposal) PairKey() string {
	return PairKey(p.SourceSwapID, p.TargetSwapID, p.ProposerID)
}

// SwapIDs returns the swaps the proposal touches.
func (p *Proposal) SwapIDs() []string {
	if p.SourceSwapID == "" {
		return []string{p.TargetSwapID}
	}
	return []string{p.SourceSwapID, p.TargetSwapID}
}

// HasEscrow reports whether funds are held for this proposal.
func (p *Proposal) HasEscrow() bool {
	return p.Cash != nil && p.Cash.EscrowID != ""
}

// NeedsRefund reports whether a closed proposal still holds funds.
func (p *Proposal) NeedsRefund() bool {
	return p.HasEscrow() && p.Cash.RefundPending
}

// IsExpired reports whether the response window has passed.
func (p *Proposal) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// Accept moves a pending proposal to accepted.
func (p *Proposal) Accept(now time.Time) error {
	return p.respond(ProposalAccepted, "", now)
}

// Reject moves a pending proposal to rejected.
func (p *Proposal) Reject(reason string, now time.Time) error {
	return p.respond(ProposalRejected, reason, now)
}

// Withdraw moves a pending proposal to withdrawn.
func (p *Proposal) Withdraw(now time.Time) error {
	return p.respond(ProposalWithdrawn, "", now)
}

// Expire moves a pending proposal to expired.
func (p *Proposal) Expire(now time.Time) error {
	return p.respond(ProposalExpired, "", now)
}

func (p *Proposal) respond(to ProposalStatus, reason string, now time.Time) error {
	if p.Status.IsTerminal() {
		return apperror.New(apperror.CodeInvalidProposalStatus,
			apperror.WithContext(p.ID),
			apperror.WithDetail("status", string(p.Status)),
			apperror.WithDetail("requested", string(to)))
	}
	p.Status = to
	p.RejectionReason = reason
	p.RespondedAt = &now
	return nil
}

// Clone returns a deep copy for snapshots.
func (p *Proposal) Clone() *Proposal {
	c := *p
	if p.Cash != nil {
		cash := *p.Cash
		c.Cash = &cash
	}
	if p.Conditions != nil {
		c.Conditions = append([]string(nil), p.Conditions...)
	}
	if p.RespondedAt != nil {
		t := *p.RespondedAt
		c.RespondedAt = &t
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
