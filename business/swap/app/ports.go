package app

import (
	"context"
	"time"

	ledgerDomain "github.com/fd1az/swapengine/business/ledger/domain"
	paymentDomain "github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/money"
)

// SwapRepository persists swaps.
type SwapRepository interface {
	Get(ctx context.Context, id string) (*domain.Swap, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Swap, error)
	Create(ctx context.Context, s *domain.Swap) error
	Update(ctx context.Context, s *domain.Swap) error
}

// ProposalRepository persists proposals. Create fails with
// PROPOSAL_ALREADY_EXISTS when the pair already has a pending proposal.
type ProposalRepository interface {
	Create(ctx context.Context, p *domain.Proposal) error
	Get(ctx context.Context, id string) (*domain.Proposal, error)
	Update(ctx context.Context, p *domain.Proposal) error
	Delete(ctx context.Context, id string) error
	// PendingByPair returns nil when the pair has no pending proposal.
	PendingByPair(ctx context.Context, pairKey string) (*domain.Proposal, error)
	ListPendingBySwap(ctx context.Context, swapID string) ([]*domain.Proposal, error)
	ListPending(ctx context.Context) ([]*domain.Proposal, error)
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Proposal, error)
	// ListRefundPending returns closed proposals whose refund has not gone
	// through yet.
	ListRefundPending(ctx context.Context) ([]*domain.Proposal, error)
}

// AuctionRepository persists auctions. Create fails with
// AUCTION_ALREADY_EXISTS when the swap already has a live auction.
type AuctionRepository interface {
	Create(ctx context.Context, a *domain.Auction) error
	Get(ctx context.Context, id string) (*domain.Auction, error)
	Update(ctx context.Context, a *domain.Auction) error
	// ListLive returns active and ended auctions.
	ListLive(ctx context.Context) ([]*domain.Auction, error)
}

// TxRunner runs fn atomically against the repositories.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingService is the booking lifecycle collaborator.
type BookingService interface {
	Get(ctx context.Context, bookingID string) (*domain.Booking, error)
	Lock(ctx context.Context, bookingID, holder string) error
	Unlock(ctx context.Context, bookingID, holder string) error
}

// SwapLocker serializes operations on swap ids.
type SwapLocker interface {
	// Lock acquires every key or none.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
	Held(ctx context.Context, key string) bool
}

// Notifier delivers events to users. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, eventType string, recipients []string, payload any) error
}

// EscrowService is the escrow orchestrator as seen by the swap engine.
type EscrowService interface {
	Validate(ctx context.Context, payerID, methodID string, amount money.Money) error
	CreateEscrow(ctx context.Context, req paymentDomain.EscrowRequest) (*paymentDomain.EscrowAccount, error)
	GetEscrow(ctx context.Context, escrowID string) (*paymentDomain.EscrowAccount, error)
	ReleaseEscrow(ctx context.Context, escrowID, recipientID string) (*paymentDomain.EscrowAccount, error)
	RefundEscrow(ctx context.Context, escrowID, reason string) (*paymentDomain.EscrowAccount, error)
	ReverseRelease(ctx context.Context, escrowID, reason string) (*paymentDomain.EscrowAccount, error)
}

// Ledger records engine events.
type Ledger interface {
	Record(ctx context.Context, eventType ledgerDomain.EventType, payload any, idempotencyKey string) (ledgerDomain.Receipt, error)
}
