// Package pgtest connects tests to a migrated Postgres database named by
// TEST_DATABASE_URL, skipping them when it is unset.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/balancecore/internal/infra"
)

// EnvVar names the connection string for the integration database.
const EnvVar = "TEST_DATABASE_URL"

// Pool returns a pool over a freshly migrated schema with tables emptied.
func Pool(t *testing.T, tables ...string) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvVar)
	if url == "" {
		t.Skipf("%s not set", EnvVar)
	}

	ctx := context.Background()
	db, err := infra.NewPostgresPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	if err := infra.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(tables) > 0 {
		if _, err := db.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	return db
}
