package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps locks in the balance_locks table. The primary key on
// balance_key is the uniqueness constraint; an expired row is taken over by
// the conditional upsert.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a lock store over db.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, l Lock, now time.Time) (bool, error) {
	lockID, err := uuid.Parse(l.ID)
	if err != nil {
		return false, err
	}
	const query = `
        INSERT INTO balance_locks (balance_key, lock_id, owner_id, account_kind, currency, purpose, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (balance_key) DO UPDATE SET
            lock_id = EXCLUDED.lock_id,
            account_kind = EXCLUDED.account_kind,
            purpose = EXCLUDED.purpose,
            created_at = EXCLUDED.created_at,
            expires_at = EXCLUDED.expires_at
        WHERE balance_locks.expires_at <= $9`
	cmd, err := s.db.Exec(ctx, query,
		l.Key.ID(), lockID, l.Key.Owner, l.Key.Kind.String(), l.Key.Currency, l.Purpose,
		l.CreatedAt.UTC(), l.ExpiresAt.UTC(), now.UTC(),
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, lockID string) (bool, error) {
	id, err := uuid.Parse(lockID)
	if err != nil {
		return false, nil
	}
	cmd, err := s.db.Exec(ctx, `DELETE FROM balance_locks WHERE lock_id = $1`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) Extend(ctx context.Context, lockID string, expiresAt, now time.Time) (bool, error) {
	id, err := uuid.Parse(lockID)
	if err != nil {
		return false, nil
	}
	cmd, err := s.db.Exec(ctx, `UPDATE balance_locks SET expires_at = $2
        WHERE lock_id = $1 AND expires_at > $3`, id, expiresAt.UTC(), now.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM balance_locks WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}
