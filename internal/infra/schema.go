package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    phone TEXT NOT NULL UNIQUE,
    tier TEXT NOT NULL,
    pin_hash BYTEA NOT NULL,
    device_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS balance_locks (
    balance_key TEXT PRIMARY KEY,
    lock_id UUID NOT NULL UNIQUE,
    owner_id TEXT NOT NULL,
    account_kind TEXT NOT NULL,
    currency TEXT NOT NULL,
    purpose TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS balance_locks_expires_at_idx ON balance_locks (expires_at);

CREATE TABLE IF NOT EXISTS rate_limit_records (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    action TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS rate_limit_records_pair_idx ON rate_limit_records (owner_id, action, recorded_at DESC);
CREATE INDEX IF NOT EXISTS rate_limit_records_recorded_at_idx ON rate_limit_records (recorded_at);

CREATE TABLE IF NOT EXISTS balances (
    balance_key TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    account_kind TEXT NOT NULL,
    currency TEXT NOT NULL,
    amount NUMERIC(38, 18) NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transfers (
    id UUID PRIMARY KEY,
    reference TEXT,
    kind TEXT NOT NULL,
    boundary BOOLEAN NOT NULL DEFAULT false,
    memo TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL,
    UNIQUE (kind, reference)
);

CREATE TABLE IF NOT EXISTS transfer_legs (
    transfer_id UUID NOT NULL REFERENCES transfers (id),
    position INT NOT NULL,
    balance_key TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    account_kind TEXT NOT NULL,
    currency TEXT NOT NULL,
    delta NUMERIC(38, 18) NOT NULL,
    balance_after NUMERIC(38, 18) NOT NULL,
    PRIMARY KEY (transfer_id, position)
);

CREATE INDEX IF NOT EXISTS transfer_legs_balance_key_idx ON transfer_legs (balance_key);
`

// migrationLockID serialises concurrent Migrate calls across processes.
const migrationLockID = 7201

// Migrate creates the tables used by the Postgres stores. It is safe to run
// on every start, including from several processes at once.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("lock migration: %w", err)
	}
	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return tx.Commit(ctx)
}
