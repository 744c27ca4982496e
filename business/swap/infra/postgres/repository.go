// Package postgres persists swaps, proposals and auctions with pgx.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/database"
	"github.com/fd1az/swapengine/internal/money"
)

// SwapRepository stores swaps in swaps.
type SwapRepository struct {
	pool       *pgxpool.Pool
	currencies *money.Registry
}

var _ app.SwapRepository = (*SwapRepository)(nil)

// NewSwapRepository creates a SwapRepository.
func NewSwapRepository(pool *pgxpool.Pool, currencies *money.Registry) *SwapRepository {
	return &SwapRepository{pool: pool, currencies: currencies}
}

const swapColumns = `
	id, owner_id, booking_id, status, accepts_booking, accepts_cash,
	min_cash_amount::text, preferred_cash::text, cash_currency,
	strategy, auction_end_date, COALESCE(auction_id, ''), expires_at, created_at, updated_at`

const insertSwap = `
INSERT INTO swaps (
	id, owner_id, booking_id, status, accepts_booking, accepts_cash,
	min_cash_amount, preferred_cash, cash_currency,
	strategy, auction_end_date, auction_id, expires_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)`

func (r *SwapRepository) Create(ctx context.Context, s *domain.Swap) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, insertSwap, swapArgs(s)...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeInvalidState, "swap "+s.ID+" exists")
		}
		return apperror.Internal(apperror.CodeDatabaseError, "insert swap", err)
	}
	return nil
}

const updateSwap = `
UPDATE swaps
SET owner_id = $2, booking_id = $3, status = $4, accepts_booking = $5, accepts_cash = $6,
	min_cash_amount = $7, preferred_cash = $8, cash_currency = $9,
	strategy = $10, auction_end_date = $11, auction_id = NULLIF($12, ''), expires_at = $13,
	created_at = $14, updated_at = $15
WHERE id = $1`

func (r *SwapRepository) Update(ctx context.Context, s *domain.Swap) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, updateSwap, swapArgs(s)...)
	if err != nil {
		return apperror.Internal(apperror.CodeDatabaseError, "update swap", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(apperror.CodeSwapNotFound, "swap "+s.ID)
	}
	return nil
}

func swapArgs(s *domain.Swap) []any {
	currency := ""
	for _, m := range []*money.Money{s.Payment.MinCash, s.Payment.PreferredCash} {
		if m != nil {
			currency = m.Currency().Code()
		}
	}
	return []any{
		s.ID, s.OwnerID, s.BookingID, string(s.Status), s.Payment.AcceptsBooking, s.Payment.AcceptsCash,
		nullAmount(s.Payment.MinCash), nullAmount(s.Payment.PreferredCash), nullString(currency),
		string(s.Acceptance.Type), s.Acceptance.AuctionEndDate, s.Acceptance.AuctionID, s.ExpiresAt,
		s.CreatedAt, s.UpdatedAt,
	}
}

func (r *SwapRepository) Get(ctx context.Context, id string) (*domain.Swap, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
	s, err := r.scan(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperror.NotFound(apperror.CodeSwapNotFound, "swap "+id)
		}
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "select swap")
	}
	return s, nil
}

func (r *SwapRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Swap, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+swapColumns+` FROM swaps WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list swaps", err)
	}
	defer rows.Close()

	var out []*domain.Swap
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "scan swap")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list swaps", err)
	}
	return out, nil
}

func (r *SwapRepository) scan(row pgx.Row) (*domain.Swap, error) {
	var (
		s                  domain.Swap
		status, strategy   string
		minCash, preferred *string
		currency           *string
	)
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.BookingID, &status, &s.Payment.AcceptsBooking, &s.Payment.AcceptsCash,
		&minCash, &preferred, &currency,
		&strategy, &s.Acceptance.AuctionEndDate, &s.Acceptance.AuctionID, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SwapStatus(status)
	s.Acceptance.Type = domain.Strategy(strategy)

	if s.Payment.MinCash, err = decodeAmount(r.currencies, minCash, currency); err != nil {
		return nil, err
	}
	if s.Payment.PreferredCash, err = decodeAmount(r.currencies, preferred, currency); err != nil {
		return nil, err
	}
	return &s, nil
}

// ProposalRepository stores proposals in swap_proposals.
type ProposalRepository struct {
	pool       *pgxpool.Pool
	currencies *money.Registry
}

var _ app.ProposalRepository = (*ProposalRepository)(nil)

// NewProposalRepository creates a ProposalRepository.
func NewProposalRepository(pool *pgxpool.Pool, currencies *money.Registry) *ProposalRepository {
	return &ProposalRepository{pool: pool, currencies: currencies}
}

const proposalColumns = `
	id, COALESCE(source_swap_id, ''), target_swap_id, proposer_id, target_owner_id, proposal_type,
	cash_amount::text, cash_currency, COALESCE(payment_method_id, ''), COALESCE(escrow_id, ''),
	COALESCE(message, ''), conditions, compatibility_score, status, COALESCE(rejection_reason, ''),
	COALESCE(auction_id, ''), COALESCE(ledger_created_tx, ''), COALESCE(ledger_response_tx, ''),
	created_at, responded_at, expires_at, refund_pending`

const insertProposal = `
INSERT INTO swap_proposals (
	id, source_swap_id, target_swap_id, pair_key, proposer_id, target_owner_id, proposal_type,
	cash_amount, cash_currency, payment_method_id, escrow_id,
	message, conditions, compatibility_score, status, rejection_reason,
	auction_id, ledger_created_tx, ledger_response_tx, created_at, responded_at, expires_at,
	refund_pending
) VALUES (
	$1, NULLIF($2, ''), $3, $4, $5, $6, $7,
	$8, $9, NULLIF($10, ''), NULLIF($11, ''),
	NULLIF($12, ''), $13, $14, $15, NULLIF($16, ''),
	NULLIF($17, ''), NULLIF($18, ''), NULLIF($19, ''), $20, $21, $22,
	$23
)`

func (r *ProposalRepository) Create(ctx context.Context, p *domain.Proposal) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, insertProposal, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.New(apperror.CodeProposalAlreadyExists,
				apperror.WithContext(p.TargetSwapID),
				apperror.WithCause(err))
		}
		return apperror.Internal(apperror.CodeDatabaseError, "insert proposal", err)
	}
	return nil
}

const updateProposal = `
UPDATE swap_proposals
SET source_swap_id = NULLIF($2, ''), target_swap_id = $3, pair_key = $4, proposer_id = $5,
	target_owner_id = $6, proposal_type = $7, cash_amount = $8, cash_currency = $9,
	payment_method_id = NULLIF($10, ''), escrow_id = NULLIF($11, ''), message = NULLIF($12, ''),
	conditions = $13, compatibility_score = $14, status = $15, rejection_reason = NULLIF($16, ''),
	auction_id = NULLIF($17, ''), ledger_created_tx = NULLIF($18, ''), ledger_response_tx = NULLIF($19, ''),
	created_at = $20, responded_at = $21, expires_at = $22, refund_pending = $23
WHERE id = $1`

func (r *ProposalRepository) Update(ctx context.Context, p *domain.Proposal) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, updateProposal, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.New(apperror.CodeProposalAlreadyExists,
				apperror.WithContext(p.TargetSwapID),
				apperror.WithCause(err))
		}
		return apperror.Internal(apperror.CodeDatabaseError, "update proposal", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(apperror.CodeProposalNotFound, "proposal "+p.ID)
	}
	return nil
}

func proposalArgs(p *domain.Proposal) ([]any, error) {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "encode conditions", err)
	}

	var (
		amount             any
		currency           any
		methodID, escrowID string
		refundPending      bool
	)
	if p.Cash != nil {
		amount = p.Cash.Amount.Amount()
		currency = p.Cash.Amount.Currency().Code()
		methodID = p.Cash.PaymentMethodID
		escrowID = p.Cash.EscrowID
		refundPending = p.Cash.RefundPending
	}

	return []any{
		p.ID, p.SourceSwapID, p.TargetSwapID, p.PairKey(), p.ProposerID, p.TargetOwnerID, string(p.Type),
		amount, currency, methodID, escrowID,
		p.Message, conditions, p.CompatibilityScore, string(p.Status), p.RejectionReason,
		p.AuctionID, p.LedgerCreatedTx, p.LedgerResponseTx, p.CreatedAt, p.RespondedAt, p.ExpiresAt,
		refundPending,
	}, nil
}

func (r *ProposalRepository) Delete(ctx context.Context, id string) error {
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM swap_proposals WHERE id = $1`, id); err != nil {
		return apperror.Internal(apperror.CodeDatabaseError, "delete proposal", err)
	}
	return nil
}

func (r *ProposalRepository) Get(ctx context.Context, id string) (*domain.Proposal, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+proposalColumns+` FROM swap_proposals WHERE id = $1`, id)
	p, err := r.scan(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperror.NotFound(apperror.CodeProposalNotFound, "proposal "+id)
		}
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "select proposal")
	}
	return p, nil
}

func (r *ProposalRepository) PendingByPair(ctx context.Context, pairKey string) (*domain.Proposal, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM swap_proposals WHERE pair_key = $1 AND status = 'pending'`, pairKey)
	p, err := r.scan(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "select pending proposal")
	}
	return p, nil
}

func (r *ProposalRepository) ListPendingBySwap(ctx context.Context, swapID string) ([]*domain.Proposal, error) {
	return r.list(ctx, `status = 'pending' AND (source_swap_id = $1 OR target_swap_id = $1)`, swapID)
}

func (r *ProposalRepository) ListPending(ctx context.Context) ([]*domain.Proposal, error) {
	return r.list(ctx, `status = 'pending'`)
}

func (r *ProposalRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Proposal, error) {
	return r.list(ctx, `status = 'pending' AND expires_at <= $1`, now)
}

func (r *ProposalRepository) ListRefundPending(ctx context.Context) ([]*domain.Proposal, error) {
	return r.list(ctx, `refund_pending`)
}

func (r *ProposalRepository) list(ctx context.Context, where string, args ...any) ([]*domain.Proposal, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+proposalColumns+` FROM swap_proposals WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list proposals", err)
	}
	defer rows.Close()

	var out []*domain.Proposal
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "scan proposal")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list proposals", err)
	}
	return out, nil
}

func (r *ProposalRepository) scan(row pgx.Row) (*domain.Proposal, error) {
	var (
		p                  domain.Proposal
		kind, status       string
		amount, currency   *string
		methodID, escrowID string
		conditions         []byte
		refundPending      bool
	)
	err := row.Scan(
		&p.ID, &p.SourceSwapID, &p.TargetSwapID, &p.ProposerID, &p.TargetOwnerID, &kind,
		&amount, &currency, &methodID, &escrowID,
		&p.Message, &conditions, &p.CompatibilityScore, &status, &p.RejectionReason,
		&p.AuctionID, &p.LedgerCreatedTx, &p.LedgerResponseTx,
		&p.CreatedAt, &p.RespondedAt, &p.ExpiresAt, &refundPending,
	)
	if err != nil {
		return nil, err
	}
	p.Type = domain.ProposalType(kind)
	p.Status = domain.ProposalStatus(status)

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, apperror.Internal(apperror.CodeDatabaseError, "decode conditions", err)
		}
	}

	cash, err := decodeAmount(r.currencies, amount, currency)
	if err != nil {
		return nil, err
	}
	if cash != nil {
		p.Cash = &domain.CashOffer{Amount: *cash, PaymentMethodID: methodID, EscrowID: escrowID, RefundPending: refundPending}
	}
	return &p, nil
}

// AuctionRepository stores auctions in swap_auctions. Entries are kept as a
// JSONB array.
type AuctionRepository struct {
	pool       *pgxpool.Pool
	currencies *money.Registry
}

var _ app.AuctionRepository = (*AuctionRepository)(nil)

// NewAuctionRepository creates an AuctionRepository.
func NewAuctionRepository(pool *pgxpool.Pool, currencies *money.Registry) *AuctionRepository {
	return &AuctionRepository{pool: pool, currencies: currencies}
}

type auctionEntry struct {
	ProposalID         string       `json:"proposal_id"`
	ProposerID         string       `json:"proposer_id"`
	Type               string       `json:"type"`
	CashAmount         *money.Money `json:"cash_amount,omitempty"`
	CompatibilityScore int          `json:"compatibility_score"`
	SubmittedAt        time.Time    `json:"submitted_at"`
}

const auctionColumns = `
	id, swap_id, owner_id, status, end_date, event_date, allowed_types,
	min_cash_amount::text, min_cash_currency, auto_select_hours, proposals,
	COALESCE(winning_proposal_id, ''), ended_at, created_at, updated_at`

const insertAuction = `
INSERT INTO swap_auctions (
	id, swap_id, owner_id, status, end_date, event_date, allowed_types,
	min_cash_amount, min_cash_currency, auto_select_hours, proposals,
	winning_proposal_id, ended_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)`

func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	args, err := auctionArgs(a)
	if err != nil {
		return err
	}
	if _, err := database.Conn(ctx, r.pool).Exec(ctx, insertAuction, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.New(apperror.CodeAuctionAlreadyExists,
				apperror.WithContext(a.SwapID),
				apperror.WithCause(err))
		}
		return apperror.Internal(apperror.CodeDatabaseError, "insert auction", err)
	}
	return nil
}

const updateAuction = `
UPDATE swap_auctions
SET swap_id = $2, owner_id = $3, status = $4, end_date = $5, event_date = $6, allowed_types = $7,
	min_cash_amount = $8, min_cash_currency = $9, auto_select_hours = $10, proposals = $11,
	winning_proposal_id = NULLIF($12, ''), ended_at = $13, created_at = $14, updated_at = $15
WHERE id = $1`

func (r *AuctionRepository) Update(ctx context.Context, a *domain.Auction) error {
	args, err := auctionArgs(a)
	if err != nil {
		return err
	}
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, updateAuction, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.New(apperror.CodeAuctionAlreadyExists,
				apperror.WithContext(a.SwapID),
				apperror.WithCause(err))
		}
		return apperror.Internal(apperror.CodeDatabaseError, "update auction", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(apperror.CodeAuctionNotFound, "auction "+a.ID)
	}
	return nil
}

func auctionArgs(a *domain.Auction) ([]any, error) {
	entries := make([]auctionEntry, len(a.Proposals))
	for i, p := range a.Proposals {
		entries[i] = auctionEntry{
			ProposalID:         p.ProposalID,
			ProposerID:         p.ProposerID,
			Type:               string(p.Type),
			CashAmount:         p.CashAmount,
			CompatibilityScore: p.CompatibilityScore,
			SubmittedAt:        p.SubmittedAt,
		}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "encode auction proposals", err)
	}

	allowed := make([]string, len(a.Settings.AllowedTypes))
	for i, t := range a.Settings.AllowedTypes {
		allowed[i] = string(t)
	}

	var currency any
	if a.Settings.MinCash != nil {
		currency = a.Settings.MinCash.Currency().Code()
	}

	return []any{
		a.ID, a.SwapID, a.OwnerID, string(a.Status), a.Settings.EndDate, a.EventDate, allowed,
		nullAmount(a.Settings.MinCash), currency, a.Settings.AutoSelectAfterHours, encoded,
		a.WinningProposalID, a.EndedAt, a.CreatedAt, a.UpdatedAt,
	}, nil
}

func (r *AuctionRepository) Get(ctx context.Context, id string) (*domain.Auction, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+auctionColumns+` FROM swap_auctions WHERE id = $1`, id)
	a, err := r.scan(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperror.NotFound(apperror.CodeAuctionNotFound, "auction "+id)
		}
		return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "select auction")
	}
	return a, nil
}

func (r *AuctionRepository) ListLive(ctx context.Context) ([]*domain.Auction, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+auctionColumns+` FROM swap_auctions WHERE status IN ('active', 'ended') ORDER BY id`)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list auctions", err)
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeDatabaseError, "scan auction")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "list auctions", err)
	}
	return out, nil
}

func (r *AuctionRepository) scan(row pgx.Row) (*domain.Auction, error) {
	var (
		a                 domain.Auction
		status            string
		allowed           []string
		minCash, currency *string
		encoded           []byte
	)
	err := row.Scan(
		&a.ID, &a.SwapID, &a.OwnerID, &status, &a.Settings.EndDate, &a.EventDate, &allowed,
		&minCash, &currency, &a.Settings.AutoSelectAfterHours, &encoded,
		&a.WinningProposalID, &a.EndedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AuctionStatus(status)
	for _, t := range allowed {
		a.Settings.AllowedTypes = append(a.Settings.AllowedTypes, domain.ProposalType(t))
	}

	if a.Settings.MinCash, err = decodeAmount(r.currencies, minCash, currency); err != nil {
		return nil, err
	}

	var entries []auctionEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "decode auction proposals", err)
	}
	for _, e := range entries {
		a.Proposals = append(a.Proposals, domain.AuctionProposal{
			ProposalID:         e.ProposalID,
			ProposerID:         e.ProposerID,
			Type:               domain.ProposalType(e.Type),
			CashAmount:         e.CashAmount,
			CompatibilityScore: e.CompatibilityScore,
			SubmittedAt:        e.SubmittedAt,
		})
	}
	return &a, nil
}

// TxRunner adapts database.TxManager to the swap context.
type TxRunner struct {
	*database.TxManager
}

var _ app.TxRunner = TxRunner{}

// NewTxRunner creates a TxRunner on pool.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return TxRunner{TxManager: database.NewTxManager(pool)}
}

func nullAmount(m *money.Money) any {
	if m == nil {
		return nil
	}
	return m.Amount()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decodeAmount(currencies *money.Registry, amount, currency *string) (*money.Money, error) {
	if amount == nil || currency == nil {
		return nil, nil
	}
	cur, ok := currencies.Lookup(*currency)
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedCurrency, apperror.WithDetail("currency", *currency))
	}
	m, err := money.FromString(*amount, cur)
	if err != nil {
		return nil, apperror.Internal(apperror.CodeDatabaseError, "decode amount", err)
	}
	return &m, nil
}
