package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the engine's table layout. Migrate applies it idempotently.
const Schema = `
CREATE TABLE IF NOT EXISTS swaps (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	booking_id          TEXT NOT NULL,
	status              TEXT NOT NULL,
	accepts_booking     BOOLEAN NOT NULL DEFAULT TRUE,
	accepts_cash        BOOLEAN NOT NULL DEFAULT FALSE,
	min_cash_amount     NUMERIC(18,4),
	preferred_cash      NUMERIC(18,4),
	cash_currency       TEXT,
	strategy            TEXT NOT NULL DEFAULT 'first_match',
	auction_end_date    TIMESTAMPTZ,
	auction_id          TEXT,
	expires_at          TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS swaps_owner_idx ON swaps (owner_id);

CREATE TABLE IF NOT EXISTS swap_proposals (
	id                  TEXT PRIMARY KEY,
	source_swap_id      TEXT,
	target_swap_id      TEXT NOT NULL,
	pair_key            TEXT NOT NULL,
	proposer_id         TEXT NOT NULL,
	target_owner_id     TEXT NOT NULL,
	proposal_type       TEXT NOT NULL,
	cash_amount         NUMERIC(18,4),
	cash_currency       TEXT,
	payment_method_id   TEXT,
	escrow_id           TEXT,
	message             TEXT,
	conditions          JSONB,
	compatibility_score INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	rejection_reason    TEXT,
	auction_id          TEXT,
	ledger_created_tx   TEXT,
	ledger_response_tx  TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	responded_at        TIMESTAMPTZ,
	expires_at          TIMESTAMPTZ,
	refund_pending      BOOLEAN NOT NULL DEFAULT FALSE
);
ALTER TABLE swap_proposals ADD COLUMN IF NOT EXISTS refund_pending BOOLEAN NOT NULL DEFAULT FALSE;
CREATE UNIQUE INDEX IF NOT EXISTS swap_proposals_active_pair_idx
	ON swap_proposals (pair_key)
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS swap_proposals_source_idx ON swap_proposals (source_swap_id, status);
CREATE INDEX IF NOT EXISTS swap_proposals_expiry_idx ON swap_proposals (expires_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS swap_proposals_target_idx ON swap_proposals (target_swap_id, status);
CREATE INDEX IF NOT EXISTS swap_proposals_refund_idx ON swap_proposals (created_at) WHERE refund_pending;

CREATE TABLE IF NOT EXISTS swap_auctions (
	id                     TEXT PRIMARY KEY,
	swap_id                TEXT NOT NULL,
	owner_id               TEXT NOT NULL,
	status                 TEXT NOT NULL,
	end_date               TIMESTAMPTZ NOT NULL,
	event_date             TIMESTAMPTZ NOT NULL,
	allowed_types          TEXT[] NOT NULL,
	min_cash_amount        NUMERIC(18,4),
	min_cash_currency      TEXT,
	auto_select_hours      INTEGER NOT NULL,
	proposals              JSONB NOT NULL DEFAULT '[]',
	winning_proposal_id    TEXT,
	ended_at               TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS swap_auctions_live_idx
	ON swap_auctions (swap_id) WHERE status IN ('active', 'ended');

CREATE TABLE IF NOT EXISTS escrow_accounts (
	id              TEXT PRIMARY KEY,
	transaction_id  TEXT,
	release_ref     TEXT,
	proposal_id     TEXT NOT NULL,
	payer_id        TEXT NOT NULL,
	recipient_id    TEXT NOT NULL,
	amount          NUMERIC(18,4) NOT NULL,
	currency        TEXT NOT NULL,
	platform_fee    NUMERIC(18,4) NOT NULL DEFAULT 0,
	net_amount      NUMERIC(18,4) NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_transactions (
	id               TEXT PRIMARY KEY,
	swap_id          TEXT,
	proposal_id      TEXT,
	escrow_id        TEXT,
	payer_id         TEXT NOT NULL,
	recipient_id     TEXT NOT NULL,
	kind             TEXT NOT NULL,
	amount           NUMERIC(18,4) NOT NULL,
	platform_fee     NUMERIC(18,4) NOT NULL DEFAULT 0,
	net_amount       NUMERIC(18,4) NOT NULL DEFAULT 0,
	currency         TEXT NOT NULL,
	gateway_ref      TEXT,
	ledger_ref       TEXT,
	status           TEXT NOT NULL,
	failure_reason   TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS payment_transactions_payer_idx ON payment_transactions (payer_id, created_at);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
