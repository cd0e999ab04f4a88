package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/congo-pay/balancecore/internal/infra/pgtest"
	"github.com/congo-pay/balancecore/internal/logging"
)

func TestPostgresCooldownGate(t *testing.T) {
	store := NewPostgresStore(pgtest.Pool(t, "rate_limit_records"))
	ctx := context.Background()
	clock := newClock()
	lim := NewLimiter(store, logging.Discard(), WithClock(clock.Now))

	if d, err := lim.CheckAndRecord(ctx, "user-1", "trade", 2*time.Second); err != nil || !d.Allowed {
		t.Fatalf("first call: %+v %v", d, err)
	}
	clock.Advance(500 * time.Millisecond)
	d, err := lim.CheckAndRecord(ctx, "user-1", "trade", 2*time.Second)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if d.Allowed || d.Wait != 1500*time.Millisecond {
		t.Fatalf("expected denial with 1.5s left, got %+v", d)
	}
	if d, err := lim.CheckAndRecord(ctx, "user-1", "renew", 2*time.Second); err != nil || !d.Allowed {
		t.Fatalf("other action: %+v %v", d, err)
	}
}

func TestPostgresLatestAndDeleteBefore(t *testing.T) {
	store := NewPostgresStore(pgtest.Pool(t, "rate_limit_records"))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Hour)} {
		if err := store.Append(ctx, Record{Owner: "u", Action: "trade", At: at}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	last, ok, err := store.Latest(ctx, "u", "trade")
	if err != nil || !ok {
		t.Fatalf("latest: %v %v", ok, err)
	}
	if !last.At.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected latest %s", last.At)
	}

	n, err := store.DeleteBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok, _ := store.Latest(ctx, "u", "trade"); !ok {
		t.Fatal("fresh record should survive")
	}
	if _, ok, err := store.Latest(ctx, "nobody", "trade"); err != nil || ok {
		t.Fatalf("unknown pair: %v %v", ok, err)
	}
}
