package domain

import (
	"time"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

// SwapStatus is the lifecycle state of a listed swap.
type SwapStatus string

const (
	SwapAvailable SwapStatus = "available"
	SwapLocked    SwapStatus = "locked"
	SwapSwapped   SwapStatus = "swapped"
	SwapCancelled SwapStatus = "cancelled"
)

// Strategy decides how a swap picks among proposals.
type Strategy string

const (
	StrategyFirstMatch Strategy = "first_match"
	StrategyAuction    Strategy = "auction"
)

// PaymentPreference lists what the owner accepts in exchange.
type PaymentPreference struct {
	AcceptsBooking bool
	AcceptsCash    bool
	MinCash        *money.Money
	PreferredCash  *money.Money
}

// Accepts reports whether proposals of type t are allowed.
func (p PaymentPreference) Accepts(t ProposalType) bool {
	switch t {
	case ProposalBooking:
		return p.AcceptsBooking
	case ProposalCash:
		return p.AcceptsCash
	}
	return false
}

// AcceptanceStrategy is the active decision mode.
type AcceptanceStrategy struct {
	Type           Strategy
	AuctionEndDate *time.Time
	AuctionID      string
}

// Swap is a booking listed for exchange.
type Swap struct {
	ID         string
	OwnerID    string
	BookingID  string
	Status     SwapStatus
	Payment    PaymentPreference
	Acceptance AcceptanceStrategy
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsAvailable reports whether the swap can take part in a new exchange.
func (s *Swap) IsAvailable(now time.Time) bool {
	if s.Status != SwapAvailable {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// InAuction reports whether proposals are collected by an auction.
func (s *Swap) InAuction() bool {
	return s.Acceptance.Type == StrategyAuction && s.Acceptance.AuctionID != ""
}

// UseAuction switches the swap to auction mode.
func (s *Swap) UseAuction(auctionID string, endDate, now time.Time) {
	end := endDate
	s.Acceptance = AcceptanceStrategy{
		Type:           StrategyAuction,
		AuctionEndDate: &end,
		AuctionID:      auctionID,
	}
	s.UpdatedAt = now
}

// RevertToFirstMatch drops auction mode.
func (s *Swap) RevertToFirstMatch(now time.Time) {
	s.Acceptance = AcceptanceStrategy{Type: StrategyFirstMatch}
	s.UpdatedAt = now
}

// MarkSwapped completes the swap.
func (s *Swap) MarkSwapped(now time.Time) error {
	if s.Status != SwapAvailable {
		return apperror.Conflict(apperror.CodeSwapNotAvailable, s.ID)
	}
	s.Status = SwapSwapped
	s.UpdatedAt = now
	return nil
}

// Clone returns a deep copy for snapshots.
func (s *Swap) Clone() *Swap {
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	if s.Acceptance.AuctionEndDate != nil {
		t := *s.Acceptance.AuctionEndDate
		c.Acceptance.AuctionEndDate = &t
	}
	if s.Payment.MinCash != nil {
		m := *s.Payment.MinCash
		c.Payment.MinCash = &m
	}
	if s.Payment.PreferredCash != nil {
		m := *s.Payment.PreferredCash
		c.Payment.PreferredCash = &m
	}
	return &c
}
