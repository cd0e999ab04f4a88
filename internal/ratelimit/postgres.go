package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the rate_limit_records table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a record store over db.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Latest(ctx context.Context, owner, action string) (Record, bool, error) {
	const query = `
        SELECT recorded_at FROM rate_limit_records
        WHERE owner_id = $1 AND action = $2
        ORDER BY recorded_at DESC
        LIMIT 1`
	var at time.Time
	if err := s.db.QueryRow(ctx, query, owner, action).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return Record{Owner: owner, Action: action, At: at.UTC()}, true, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, `INSERT INTO rate_limit_records (owner_id, action, recorded_at)
        VALUES ($1, $2, $3)`, rec.Owner, rec.Action, rec.At.UTC())
	return err
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM rate_limit_records WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}
