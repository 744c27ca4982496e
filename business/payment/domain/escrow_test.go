package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to EscrowStatus
		want     bool
	}{
		{EscrowCreated, EscrowFunded, true},
		{EscrowCreated, EscrowRefunded, true},
		{EscrowCreated, EscrowReleased, false},
		{EscrowFunded, EscrowReleased, true},
		{EscrowFunded, EscrowRefunded, true},
		{EscrowReleased, EscrowRefunded, true},
		{EscrowReleased, EscrowFunded, false},
		{EscrowRefunded, EscrowReleased, false},
		{EscrowRefunded, EscrowFunded, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEscrowAccount_Transitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	amount := money.MustNew(decimal.RequireFromString("350.00"), money.USD)

	e := NewEscrowAccount("esc-1", "prop-1", "alice", "bob", amount, now)

	fee := money.MustNew(decimal.RequireFromString("17.50"), money.USD)
	net := money.MustNew(decimal.RequireFromString("332.50"), money.USD)

	if err := e.MarkReleased(fee, net, now); !apperror.HasCode(err, apperror.CodeInvalidEscrowStatus) {
		t.Fatalf("release from created: err = %v", err)
	}
	if err := e.MarkRefunded(now); !apperror.HasCode(err, apperror.CodeInvalidEscrowStatus) {
		t.Fatalf("refund from created: err = %v", err)
	}

	if err := e.MarkFunded("hold-1", now); err != nil {
		t.Fatalf("MarkFunded: %v", err)
	}
	if err := e.MarkFunded("hold-2", now); err == nil {
		t.Fatal("second MarkFunded should fail")
	}

	if err := e.MarkReleased(fee, net, now); err != nil {
		t.Fatalf("MarkReleased: %v", err)
	}
	if !e.Status.IsTerminal() {
		t.Error("released should be terminal")
	}
	if err := e.MarkRefunded(now); err == nil {
		t.Error("refund after release should fail")
	}

	if err := e.MarkReversed(now); err != nil {
		t.Fatalf("MarkReversed: %v", err)
	}
	if e.Status != EscrowRefunded || !e.NetAmount.IsZero() || !e.PlatformFee.IsZero() {
		t.Errorf("after reversal: %+v", e)
	}
	if err := e.MarkReversed(now); err == nil {
		t.Error("second reversal should fail")
	}
}

func TestEscrowAccount_CloseUnfunded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	amount := money.MustNew(decimal.RequireFromString("80.00"), money.USD)

	e := NewEscrowAccount("esc-2", "prop-2", "alice", "bob", amount, now)
	if err := e.CloseUnfunded(now); err != nil {
		t.Fatalf("CloseUnfunded: %v", err)
	}
	if e.Status != EscrowRefunded {
		t.Errorf("status = %s, want refunded", e.Status)
	}

	funded := NewEscrowAccount("esc-3", "prop-3", "alice", "bob", amount, now)
	_ = funded.MarkFunded("hold-3", now)
	if err := funded.CloseUnfunded(now); !apperror.HasCode(err, apperror.CodeInvalidEscrowStatus) {
		t.Errorf("close funded escrow: err = %v", err)
	}
}
