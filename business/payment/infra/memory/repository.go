// Package memory provides in-process payment repositories and a gateway double.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/business/payment/app"
	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

// EscrowRepository stores escrows in a map.
type EscrowRepository struct {
	mu      sync.RWMutex
	escrows map[string]*domain.EscrowAccount
}

var _ app.EscrowRepository = (*EscrowRepository)(nil)

// NewEscrowRepository creates an empty repository.
func NewEscrowRepository() *EscrowRepository {
	return &EscrowRepository{escrows: make(map[string]*domain.EscrowAccount)}
}

func (r *EscrowRepository) Create(_ context.Context, e *domain.EscrowAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.escrows[e.ID]; ok {
		return apperror.Conflict(apperror.CodeInvalidState, "escrow "+e.ID+" exists")
	}
	r.escrows[e.ID] = e.Clone()
	return nil
}

func (r *EscrowRepository) Get(_ context.Context, id string) (*domain.EscrowAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.escrows[id]
	if !ok {
		return nil, apperror.NotFound(apperror.CodeEscrowNotFound, "escrow "+id)
	}
	return e.Clone(), nil
}

func (r *EscrowRepository) CompareAndSwap(_ context.Context, e *domain.EscrowAccount, from domain.EscrowStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.escrows[e.ID]
	if !ok {
		return apperror.NotFound(apperror.CodeEscrowNotFound, "escrow "+e.ID)
	}
	if stored.Status != from {
		return apperror.New(apperror.CodeInvalidEscrowStatus,
			apperror.WithContext("escrow "+e.ID),
			apperror.WithDetail("status", string(stored.Status)),
			apperror.WithDetail("expected", string(from)))
	}
	r.escrows[e.ID] = e.Clone()
	return nil
}

// List returns copies of every stored escrow.
func (r *EscrowRepository) List() []*domain.EscrowAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.EscrowAccount, 0, len(r.escrows))
	for _, e := range r.escrows {
		out = append(out, e.Clone())
	}
	return out
}

// TransactionRepository stores payment transactions in a map.
type TransactionRepository struct {
	mu  sync.RWMutex
	txs map[string]domain.PaymentTransaction
}

var _ app.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates an empty repository.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{txs: make(map[string]domain.PaymentTransaction)}
}

func (r *TransactionRepository) Create(_ context.Context, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[t.ID] = *t
	return nil
}

func (r *TransactionRepository) Update(_ context.Context, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.txs[t.ID]; !ok {
		return apperror.NotFound(apperror.CodeNotFound, "payment transaction "+t.ID)
	}
	r.txs[t.ID] = *t
	return nil
}

func (r *TransactionRepository) VelocitySince(_ context.Context, payerID, currency string, since time.Time) (int, decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	total := decimal.Zero
	for _, t := range r.txs {
		if t.PayerID != payerID || t.Amount.Currency().Code() != currency || t.CreatedAt.Before(since) {
			continue
		}
		if t.Kind != domain.KindEscrowHold && t.Kind != domain.KindDirectCharge {
			continue
		}
		if t.Status == domain.TxFailed {
			continue
		}
		count++
		total = total.Add(t.Amount.Amount())
	}
	return count, total, nil
}

// ByEscrow returns the transactions recorded against an escrow.
func (r *TransactionRepository) ByEscrow(escrowID string) []domain.PaymentTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.PaymentTransaction
	for _, t := range r.txs {
		if t.EscrowID == escrowID {
			out = append(out, t)
		}
	}
	return out
}
