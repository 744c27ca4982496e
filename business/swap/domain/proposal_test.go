package domain_test

import (
	"testing"
	"time"

	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

func TestProposal_Transitions(t *testing.T) {
	tests := []struct {
		name string
		do   func(p *domain.Proposal) error
		want domain.ProposalStatus
	}{
		{"accept", func(p *domain.Proposal) error { return p.Accept(t0) }, domain.ProposalAccepted},
		{"reject", func(p *domain.Proposal) error { return p.Reject("no thanks", t0) }, domain.ProposalRejected},
		{"withdraw", func(p *domain.Proposal) error { return p.Withdraw(t0) }, domain.ProposalWithdrawn},
		{"expire", func(p *domain.Proposal) error { return p.Expire(t0) }, domain.ProposalExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Proposal{ID: "p-1", Status: domain.ProposalPending}
			if err := tt.do(p); err != nil {
				t.Fatalf("transition: %v", err)
			}
			if p.Status != tt.want {
				t.Errorf("status = %s, want %s", p.Status, tt.want)
			}
			if p.RespondedAt == nil || !p.RespondedAt.Equal(t0) {
				t.Errorf("responded at = %v, want %v", p.RespondedAt, t0)
			}

			// Terminal states never move again.
			if err := p.Accept(t0); !apperror.HasCode(err, apperror.CodeInvalidProposalStatus) {
				t.Errorf("second transition err = %v, want INVALID_PROPOSAL_STATUS", err)
			}
			if p.Status != tt.want {
				t.Errorf("status changed to %s", p.Status)
			}
		})
	}
}

func TestProposal_PairKey(t *testing.T) {
	booking := &domain.Proposal{SourceSwapID: "s-1", TargetSwapID: "s-2", ProposerID: "bob"}
	cash := &domain.Proposal{TargetSwapID: "s-2", ProposerID: "bob"}
	otherCash := &domain.Proposal{TargetSwapID: "s-2", ProposerID: "carol"}

	if booking.PairKey() == cash.PairKey() {
		t.Error("booking and cash offers share a pair key")
	}
	if cash.PairKey() == otherCash.PairKey() {
		t.Error("cash offers from different proposers share a pair key")
	}
	if got := len(cash.SwapIDs()); got != 1 {
		t.Errorf("cash SwapIDs = %d, want 1", got)
	}
	if got := len(booking.SwapIDs()); got != 2 {
		t.Errorf("booking SwapIDs = %d, want 2", got)
	}
}

func TestProposal_IsExpired(t *testing.T) {
	exp := t0.Add(time.Hour)
	p := &domain.Proposal{ExpiresAt: &exp}

	if p.IsExpired(t0) {
		t.Error("expired before deadline")
	}
	if !p.IsExpired(exp) {
		t.Error("not expired at deadline")
	}
	if (&domain.Proposal{}).IsExpired(t0.Add(1000 * time.Hour)) {
		t.Error("proposal without deadline expired")
	}
}

func TestSwap_MarkSwapped(t *testing.T) {
	s := listedSwap()
	if err := s.MarkSwapped(t0); err != nil {
		t.Fatalf("MarkSwapped: %v", err)
	}
	if err := s.MarkSwapped(t0); !apperror.HasCode(err, apperror.CodeSwapNotAvailable) {
		t.Errorf("second MarkSwapped err = %v, want SWAP_NOT_AVAILABLE", err)
	}
	if s.IsAvailable(t0) {
		t.Error("swapped swap reported available")
	}
}
