package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/money"
)

// VelocityLimits bounds a payer's activity over a trailing window.
// A zero MaxCount or MaxAmount disables that bound.
type VelocityLimits struct {
	Window    time.Duration
	MaxCount  int
	MaxAmount decimal.Decimal
}

// VelocityCheck rejects payers exceeding VelocityLimits.
type VelocityCheck struct {
	limits VelocityLimits
	txs    TransactionRepository
	now    func() time.Time
}

// NewVelocityCheck creates a VelocityCheck.
func NewVelocityCheck(limits VelocityLimits, txs TransactionRepository, now func() time.Time) *VelocityCheck {
	if now == nil {
		now = time.Now
	}
	return &VelocityCheck{limits: limits, txs: txs, now: now}
}

// Check fails with FRAUD_SUSPECTED when amount would push the payer past a limit.
func (v *VelocityCheck) Check(ctx context.Context, payerID string, amount money.Money) error {
	if v.limits.Window <= 0 {
		return nil
	}

	since := v.now().Add(-v.limits.Window)
	count, total, err := v.txs.VelocitySince(ctx, payerID, amount.Currency().Code(), since)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeDatabaseError, "velocity lookup")
	}

	if v.limits.MaxCount > 0 && count+1 > v.limits.MaxCount {
		return apperror.New(apperror.CodeFraudSuspected,
			apperror.WithContext("transaction count over window"),
			apperror.WithDetail("payer_id", payerID),
			apperror.WithDetail("count", count))
	}

	if v.limits.MaxAmount.IsPositive() && total.Add(amount.Amount()).GreaterThan(v.limits.MaxAmount) {
		return apperror.New(apperror.CodeFraudSuspected,
			apperror.WithContext("transaction amount over window"),
			apperror.WithDetail("payer_id", payerID),
			apperror.WithDetail("total", total.Add(amount.Amount()).String()))
	}

	return nil
}
