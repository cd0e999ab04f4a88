package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
)

const uniqueViolation = "23505"

// PostgresStore persists balances and the transfer journal in PostgreSQL.
// Amounts travel as text and are stored as NUMERIC so no precision is lost.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balances reads every requested balance in one query. Missing rows are zero.
func (s *PostgresStore) Balances(ctx context.Context, keys []balance.Key) (map[string]decimal.Decimal, error) {
	ids := make([]string, len(keys))
	out := make(map[string]decimal.Decimal, len(keys))
	for i, k := range keys {
		ids[i] = k.ID()
		out[k.ID()] = decimal.Zero
	}

	rows, err := s.db.Query(ctx, `SELECT balance_key, amount::text FROM balances WHERE balance_key = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", id, err)
		}
		out[id] = amount
	}
	return out, rows.Err()
}

// EntryByReference loads a journaled transfer and its legs.
func (s *PostgresStore) EntryByReference(ctx context.Context, kind, reference string) (Entry, bool, error) {
	const query = `
        SELECT id, reference, kind, boundary, memo, applied_at
        FROM transfers
        WHERE kind = $1 AND reference = $2`
	var (
		id    uuid.UUID
		entry Entry
	)
	err := s.db.QueryRow(ctx, query, kind, reference).Scan(
		&id, &entry.Reference, &entry.Kind, &entry.Boundary, &entry.Memo, &entry.AppliedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.TransferID = id.String()

	rows, err := s.db.Query(ctx, `
        SELECT owner_id, account_kind, currency, delta::text, balance_after::text
        FROM transfer_legs
        WHERE transfer_id = $1
        ORDER BY position`, id)
	if err != nil {
		return Entry{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var owner, kindName, currency, delta, after string
		if err := rows.Scan(&owner, &kindName, &currency, &delta, &after); err != nil {
			return Entry{}, false, err
		}
		leg, err := scanLeg(owner, kindName, currency, delta, after)
		if err != nil {
			return Entry{}, false, err
		}
		entry.Legs = append(entry.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func scanLeg(owner, kindName, currency, delta, after string) (AppliedLeg, error) {
	kind, err := balance.ParseKind(kindName)
	if err != nil {
		return AppliedLeg{}, err
	}
	d, err := decimal.NewFromString(delta)
	if err != nil {
		return AppliedLeg{}, err
	}
	b, err := decimal.NewFromString(after)
	if err != nil {
		return AppliedLeg{}, err
	}
	return AppliedLeg{Key: balance.NewKey(owner, kind, currency), Delta: d, Balance: b}, nil
}

// Commit writes the journal row, its legs and every balance change in one
// transaction. Balances are adjusted by delta so the database never holds a
// value computed from a stale read.
func (s *PostgresStore) Commit(ctx context.Context, entry Entry) error {
	id, err := uuid.Parse(entry.TransferID)
	if err != nil {
		return fmt.Errorf("transfer id %q: %w", entry.TransferID, err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var reference *string
	if entry.Reference != "" {
		reference = &entry.Reference
	}
	if _, err := tx.Exec(ctx, `INSERT INTO transfers (id, reference, kind, boundary, memo, applied_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		id, reference, entry.Kind, entry.Boundary, entry.Memo, entry.AppliedAt.UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateTransfer
		}
		return err
	}

	for i, leg := range entry.Legs {
		if _, err := tx.Exec(ctx, `INSERT INTO transfer_legs
            (transfer_id, position, balance_key, owner_id, account_kind, currency, delta, balance_after)
            VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric)`,
			id, i, leg.Key.ID(), leg.Key.Owner, leg.Key.Kind.String(), leg.Key.Currency,
			leg.Delta.String(), leg.Balance.String()); err != nil {
			return err
		}
	}

	for _, f := range entry.finals() {
		if err := upsertBalance(ctx, tx, f.key, f.delta); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertBalance(ctx context.Context, tx pgx.Tx, key balance.Key, delta decimal.Decimal) error {
	const query = `
        INSERT INTO balances (balance_key, owner_id, account_kind, currency, amount, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, now())
        ON CONFLICT (balance_key) DO UPDATE SET
            amount = balances.amount + EXCLUDED.amount,
            updated_at = now()`
	_, err := tx.Exec(ctx, query, key.ID(), key.Owner, key.Kind.String(), key.Currency, delta.String())
	return err
}
