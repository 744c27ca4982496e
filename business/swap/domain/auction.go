package domain

import (
	"slices"
	"sort"
	"time"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

// AuctionStatus is the auction lifecycle state.
type AuctionStatus string

const (
	AuctionActive         AuctionStatus = "active"
	AuctionEnded          AuctionStatus = "ended"
	AuctionWinnerSelected AuctionStatus = "winner_selected"
	AuctionCancelled      AuctionStatus = "cancelled"
)

// DefaultAutoSelectHours is the owner's window after an auction ends.
const DefaultAutoSelectHours = 24

// AuctionSettings are chosen by the owner at creation.
type AuctionSettings struct {
	EndDate              time.Time
	AllowedTypes         []ProposalType
	MinCash              *money.Money
	AutoSelectAfterHours int
}

// AuctionProposal is a proposal entered into an auction.
type AuctionProposal struct {
	ProposalID         string
	ProposerID         string
	Type               ProposalType
	CashAmount         *money.Money
	CompatibilityScore int
	SubmittedAt        time.Time
}

// Auction collects proposals for one swap until its end date.
type Auction struct {
	ID                string
	SwapID            string
	OwnerID           string
	Status            AuctionStatus
	Settings          AuctionSettings
	Proposals         []AuctionProposal
	WinningProposalID string
	EndedAt           *time.Time
	EventDate         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewAuction validates the timing rules and returns an active auction. The
// end date must leave at least minLead before the event.
func NewAuction(id string, swap *Swap, settings AuctionSettings, eventDate, now time.Time, minLead time.Duration) (*Auction, error) {
	if eventDate.Sub(now) < minLead {
		return nil, apperror.New(apperror.CodeAuctionTooCloseToEvent,
			apperror.WithContext(swap.ID),
			apperror.WithDetail("event_date", eventDate),
			apperror.WithSuggestion("Use first_match for events less than a week away"))
	}
	if !settings.EndDate.After(now) {
		return nil, apperror.New(apperror.CodeInvalidAuctionEndDate,
			apperror.WithContext("end date must be in the future"),
			apperror.WithDetail("end_date", settings.EndDate))
	}
	if eventDate.Sub(settings.EndDate) < minLead {
		latest := eventDate.Add(-minLead)
		return nil, apperror.New(apperror.CodeInvalidAuctionEndDate,
			apperror.WithContext("end date too close to the event"),
			apperror.WithDetail("end_date", settings.EndDate),
			apperror.WithDetail("latest_end_date", latest),
			apperror.WithSuggestion("Move the auction end date to "+latest.Format(time.RFC3339)+" or earlier"))
	}

	if settings.AutoSelectAfterHours <= 0 {
		settings.AutoSelectAfterHours = DefaultAutoSelectHours
	}
	if len(settings.AllowedTypes) == 0 {
		if swap.Payment.AcceptsBooking {
			settings.AllowedTypes = append(settings.AllowedTypes, ProposalBooking)
		}
		if swap.Payment.AcceptsCash {
			settings.AllowedTypes = append(settings.AllowedTypes, ProposalCash)
		}
	}
	if settings.MinCash == nil && swap.Payment.MinCash != nil {
		m := *swap.Payment.MinCash
		settings.MinCash = &m
	}

	return &Auction{
		ID:        id,
		SwapID:    swap.ID,
		OwnerID:   swap.OwnerID,
		Status:    AuctionActive,
		Settings:  settings,
		EventDate: eventDate,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CheckSubmission validates a proposal against the auction without adding it.
func (a *Auction) CheckSubmission(t ProposalType, cash *money.Money, now time.Time) error {
	if a.Status != AuctionActive || !now.Before(a.Settings.EndDate) {
		return apperror.New(apperror.CodeAuctionNotActive,
			apperror.WithContext(a.ID),
			apperror.WithDetail("status", string(a.Status)))
	}
	if !slices.Contains(a.Settings.AllowedTypes, t) {
		return apperror.Validation(apperror.CodeProposalTypeForbidden, string(t))
	}
	if t == ProposalCash && cash != nil {
		if code := a.Currency(); code != "" && cash.Currency().Code() != code {
			return apperror.New(apperror.CodeCurrencyMismatch,
				apperror.WithContext(a.ID),
				apperror.WithDetail("currency", code),
				apperror.WithDetail("offered", cash.Currency().Code()))
		}
	}
	if t == ProposalCash && a.Settings.MinCash != nil && cash != nil && cash.LessThan(*a.Settings.MinCash) {
		return apperror.New(apperror.CodeCashOfferTooLow,
			apperror.WithContext(a.ID),
			apperror.WithDetail("minimum", a.Settings.MinCash.String()),
			apperror.WithDetail("offered", cash.String()))
	}
	return nil
}

// Currency is the code every cash offer in the auction must use: the
// minimum's currency, else the first cash offer's. Empty means any.
func (a *Auction) Currency() string {
	if a.Settings.MinCash != nil {
		return a.Settings.MinCash.Currency().Code()
	}
	for _, p := range a.Proposals {
		if p.Type == ProposalCash && p.CashAmount != nil {
			return p.CashAmount.Currency().Code()
		}
	}
	return ""
}

// Submit adds a proposal.
func (a *Auction) Submit(p AuctionProposal, now time.Time) error {
	if err := a.CheckSubmission(p.Type, p.CashAmount, now); err != nil {
		return err
	}
	a.Proposals = append(a.Proposals, p)
	a.UpdatedAt = now
	return nil
}

// EndReason explains why an auction is due to end.
type EndReason string

const (
	EndNone    EndReason = ""
	EndReached EndReason = "end_date_reached"
	EndForced  EndReason = "event_too_close"
)

// DueToEnd reports whether an active auction must end at now.
func (a *Auction) DueToEnd(now time.Time, minLead time.Duration) EndReason {
	if a.Status != AuctionActive {
		return EndNone
	}
	if !now.Before(a.Settings.EndDate) {
		return EndReached
	}
	if a.EventDate.Sub(now) < minLead {
		return EndForced
	}
	return EndNone
}

// MoveEvent records a new event date for an active auction. It reports
// whether anything changed.
func (a *Auction) MoveEvent(eventDate, now time.Time) bool {
	if a.Status != AuctionActive || a.EventDate.Equal(eventDate) {
		return false
	}
	a.EventDate = eventDate
	a.UpdatedAt = now
	return true
}

// End moves an active auction to ended. It returns false when the auction
// was not active, so repeated calls are no-ops.
func (a *Auction) End(now time.Time) bool {
	if a.Status != AuctionActive {
		return false
	}
	a.Status = AuctionEnded
	a.EndedAt = &now
	a.UpdatedAt = now
	return true
}

// AutoSelectDue reports whether the owner's selection window has passed.
func (a *Auction) AutoSelectDue(now time.Time) bool {
	if a.Status != AuctionEnded || a.EndedAt == nil {
		return false
	}
	window := time.Duration(a.Settings.AutoSelectAfterHours) * time.Hour
	return !now.Before(a.EndedAt.Add(window))
}

// Find returns the entry for proposalID.
func (a *Auction) Find(proposalID string) (AuctionProposal, bool) {
	for _, p := range a.Proposals {
		if p.ProposalID == proposalID {
			return p, true
		}
	}
	return AuctionProposal{}, false
}

// SelectWinner records the winner of an ended auction.
func (a *Auction) SelectWinner(proposalID string, now time.Time) error {
	if a.Status != AuctionEnded {
		return apperror.New(apperror.CodeAuctionNotEnded,
			apperror.WithContext(a.ID),
			apperror.WithDetail("status", string(a.Status)))
	}
	if _, ok := a.Find(proposalID); !ok {
		return apperror.NotFound(apperror.CodeAuctionProposalNotFound, proposalID)
	}
	a.Status = AuctionWinnerSelected
	a.WinningProposalID = proposalID
	a.UpdatedAt = now
	return nil
}

// Cancel stops an active or ended auction.
func (a *Auction) Cancel(now time.Time) error {
	if a.Status != AuctionActive && a.Status != AuctionEnded {
		return apperror.New(apperror.CodeAuctionNotActive,
			apperror.WithContext(a.ID),
			apperror.WithDetail("status", string(a.Status)))
	}
	a.Status = AuctionCancelled
	a.UpdatedAt = now
	if a.EndedAt == nil {
		a.EndedAt = &now
	}
	return nil
}

// Ranked returns the entries best first: cash before booking, cash by amount
// and booking by compatibility score, then earliest submission, then id.
// Cash offers share one currency, enforced by CheckSubmission.
func (a *Auction) Ranked() []AuctionProposal {
	out := append([]AuctionProposal(nil), a.Proposals...)
	sort.SliceStable(out, func(i, j int) bool {
		return rankBefore(out[i], out[j])
	})
	return out
}

func rankBefore(x, y AuctionProposal) bool {
	if x.Type != y.Type {
		return x.Type == ProposalCash
	}
	if x.Type == ProposalCash && x.CashAmount != nil && y.CashAmount != nil {
		if c := x.CashAmount.Amount().Cmp(y.CashAmount.Amount()); c != 0 {
			return c > 0
		}
	}
	if x.Type == ProposalBooking && x.CompatibilityScore != y.CompatibilityScore {
		return x.CompatibilityScore > y.CompatibilityScore
	}
	if !x.SubmittedAt.Equal(y.SubmittedAt) {
		return x.SubmittedAt.Before(y.SubmittedAt)
	}
	return x.ProposalID < y.ProposalID
}

// Clone returns a deep copy for snapshots.
func (a *Auction) Clone() *Auction {
	c := *a
	c.Settings.AllowedTypes = append([]ProposalType(nil), a.Settings.AllowedTypes...)
	if a.Settings.MinCash != nil {
		m := *a.Settings.MinCash
		c.Settings.MinCash = &m
	}
	c.Proposals = make([]AuctionProposal, len(a.Proposals))
	for i, p := range a.Proposals {
		if p.CashAmount != nil {
			m := *p.CashAmount
			p.CashAmount = &m
		}
		c.Proposals[i] = p
	}
	if a.EndedAt != nil {
		t := *a.EndedAt
		c.EndedAt = &t
	}
	return &c
}
