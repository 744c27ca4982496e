// Package postgres persists escrow accounts and payment transactions with pgx.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/business/payment/app"
	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/database"
	"github.com/fd1az/swapengine/internal/money"
)

// EscrowRepository stores escrows in escrow_accounts.
type EscrowRepository struct {
	pool       *pgxpool.Pool
	currencies *money.Registry
}

var _ app.EscrowRepository = (*EscrowRepository)(nil)

// NewEscrowRepository creates an EscrowRepository.
func NewEscrowRepository(pool *pgxpool.Pool, currencies *money.Registry) *EscrowRepository {
	return &EscrowRepository{pool: pool, currencies: currencies}
}

const insertEscrow = `
INSERT INTO escrow_accounts (
	id, transaction_id, release_ref, proposal_id, payer_id, recipient_id,
	amount, currency, platform_fee, net_amount, status, created_at, updated_at
) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func (r *EscrowRepository) Create(ctx context.Context, e *domain.EscrowAccount) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, insertEscrow,
		e.ID, e.TransactionID, e.ReleaseRef, e.ProposalID, e.PayerID, e.RecipientID,
		e.Amount.Amount(), e.Amount.Currency().Code(), e.PlatformFee.Amount(), e.NetAmount.Amount(),
		string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeInvalidState, "escrow "+e.ID+" exists")
		}
		return apperror.Internal(apperror.CodeDatabaseError, "insert escrow", err)
	}
	return nil
}

const selectEscrow = `
SELECT id, COALESCE(transaction_id, ''), COALESCE(release_ref, ''), proposal_id, payer_id, recipient_id,
	amount::text, currency, platform_fee::text, net_amount::text, status, created_at, updated_at
FROM escrow_accounts WHERE id = $1`

func (r *EscrowRepository) Get(ctx context.Context, id string) (*domain.EscrowAccount, error) {
	var (
		e                domain.EscrowAccount
		amount, fee, net string
		currency, status string
	)
	err := database.Conn(ctx, r.pool).QueryRow(ctx, selectEscrow, id).Scan(
		&e.ID, &e.TransactionID, &e.ReleaseRef, &e.ProposalID, &e.PayerID, &e.RecipientID,
		&amount, &currency, &fee, &net, &status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperror.NotFound(apperror.CodeEscrowNotFound, "escrow "+id)
		}
		return nil, apperror.Internal(apperror.CodeDatabaseError, "select escrow", err)
	}

	cur, ok := r.currencies.Lookup(currency)
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedCurrency, apperror.WithDetail("currency", currency))
	}
	if e.Amount, err = money.FromString(amount, cur); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "decode escrow amount", err)
	}
	if e.PlatformFee, err = money.FromString(fee, cur); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "decode escrow fee", err)
	}
	if e.NetAmount, err = money.FromString(net, cur); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "decode escrow net", err)
	}
	e.Status = domain.EscrowStatus(status)

	return &e, nil
}

const casEscrow = `
UPDATE escrow_accounts
SET transaction_id = NULLIF($2, ''), release_ref = NULLIF($3, ''), platform_fee = $4, net_amount = $5,
	status = $6, updated_at = $7
WHERE id = $1 AND status = $8`

func (r *EscrowRepository) CompareAndSwap(ctx context.Context, e *domain.EscrowAccount, from domain.EscrowStatus) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, casEscrow,
		e.ID, e.TransactionID, e.ReleaseRef, e.PlatformFee.Amount(), e.NetAmount.Amount(),
		string(e.Status), e.UpdatedAt, string(from),
	)
	if err != nil {
		return apperror.Internal(apperror.CodeDatabaseError, "update escrow", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	return apperror.New(apperror.CodeInvalidEscrowStatus,
		apperror.WithContext("escrow "+e.ID),
		apperror.WithDetail("status", string(current.Status)),
		apperror.WithDetail("expected", string(from)))
}

// TransactionRepository stores payment transactions in payment_transactions.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

var _ app.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates a TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const insertTransaction = `
INSERT INTO payment_transactions (
	id, swap_id, proposal_id, escrow_id, payer_id, recipient_id, kind,
	amount, platform_fee, net_amount, currency, gateway_ref, ledger_ref,
	status, failure_reason, created_at, completed_at
) VALUES (
	$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7,
	$8, $9, $10, $11, NULLIF($12, ''), NULLIF($13, ''),
	$14, NULLIF($15, ''), $16, $17
)`

func (r *TransactionRepository) Create(ctx context.Context, t *domain.PaymentTransaction) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, insertTransaction,
		t.ID, t.SwapID, t.ProposalID, t.EscrowID, t.PayerID, t.RecipientID, string(t.Kind),
		t.Amount.Amount(), t.PlatformFee.Amount(), t.NetAmount.Amount(), t.Amount.Currency().Code(),
		t.GatewayRef, t.LedgerRef, string(t.Status), t.FailureReason, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return apperror.Internal(apperror.CodeDatabaseError, "insert payment transaction", err)
	}
	return nil
}

const updateTransaction = `
UPDATE payment_transactions
SET gateway_ref = NULLIF($2, ''), ledger_ref = NULLIF($3, ''), status = $4,
	failure_reason = NULLIF($5, ''), completed_at = $6
WHERE id = $1`

func (r *TransactionRepository) Update(ctx context.Context, t *domain.PaymentTransaction) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, updateTransaction,
		t.ID, t.GatewayRef, t.LedgerRef, string(t.Status), t.FailureReason, t.CompletedAt,
	)
	if err != nil {
		return apperror.Internal(apperror.CodeDatabaseError, "update payment transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(apperror.CodeNotFound, "payment transaction "+t.ID)
	}
	return nil
}

const velocityQuery = `
SELECT COUNT(*), COALESCE(SUM(amount), 0)::text
FROM payment_transactions
WHERE payer_id = $1 AND currency = $2 AND created_at >= $3
	AND kind IN ('escrow_hold', 'direct_charge') AND status <> 'failed'`

func (r *TransactionRepository) VelocitySince(ctx context.Context, payerID, currency string, since time.Time) (int, decimal.Decimal, error) {
	var (
		count int
		sum   string
	)
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, velocityQuery, payerID, currency, since).Scan(&count, &sum); err != nil {
		return 0, decimal.Zero, apperror.Internal(apperror.CodeDatabaseError, "velocity query", err)
	}

	total, err := decimal.NewFromString(sum)
	if err != nil {
		return 0, decimal.Zero, apperror.Internal(apperror.CodeDatabaseError, "decode velocity sum", err)
	}
	return count, total, nil
}
