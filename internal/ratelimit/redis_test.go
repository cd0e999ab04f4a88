package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/balancecore/internal/logging"
)

func newRedisStore(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test:rl:"), client
}

func TestSeparatorInNamesKeepsHistoriesApart(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			lim := NewLimiter(store, logging.Discard(), WithClock(clock.Now))

			if d, err := lim.CheckAndRecord(ctx, "c", "a:b", time.Minute); err != nil || !d.Allowed {
				t.Fatalf("first pair: %+v %v", d, err)
			}
			d, err := lim.CheckAndRecord(ctx, "b:c", "a", time.Minute)
			if err != nil {
				t.Fatalf("second pair: %v", err)
			}
			if !d.Allowed {
				t.Fatal("a different owner and action must not share a cooldown")
			}
		})
	}
}

func TestSubMillisecondCooldownIsExact(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			clock.Advance(500 * time.Microsecond)
			lim := NewLimiter(store, logging.Discard(), WithClock(clock.Now))

			if d, err := lim.CheckAndRecord(ctx, "user-1", "trade", time.Millisecond); err != nil || !d.Allowed {
				t.Fatalf("first call: %+v %v", d, err)
			}
			recorded := clock.Now()

			last, ok, err := store.Latest(ctx, "user-1", "trade")
			if err != nil || !ok {
				t.Fatalf("latest: %v %v", ok, err)
			}
			if !last.At.Equal(recorded) {
				t.Fatalf("expected %s, got %s", recorded, last.At)
			}

			// 0.7ms elapsed: still inside a 1ms cooldown.
			clock.Advance(700 * time.Microsecond)
			d, err := lim.CheckAndRecord(ctx, "user-1", "trade", time.Millisecond)
			if err != nil {
				t.Fatalf("second call: %v", err)
			}
			if d.Allowed || d.Wait != 300*time.Microsecond {
				t.Fatalf("expected denial with 300µs left, got %+v", d)
			}
		})
	}
}

func TestLatestPicksNewestWithinOneMillisecond(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{900 * time.Microsecond, 100 * time.Microsecond, 500 * time.Microsecond} {
		if err := store.Append(ctx, Record{Owner: "u", Action: "trade", At: base.Add(offset)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	last, ok, err := store.Latest(ctx, "u", "trade")
	if err != nil || !ok {
		t.Fatalf("latest: %v %v", ok, err)
	}
	if want := base.Add(900 * time.Microsecond); !last.At.Equal(want) {
		t.Fatalf("expected %s, got %s", want, last.At)
	}
}

func TestDeleteBeforeUnindexesEmptyHistories(t *testing.T) {
	store, client := newRedisStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, Record{Owner: "old", Action: "trade", At: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, Record{Owner: "mixed", Action: "trade", At: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, Record{Owner: "mixed", Action: "trade", At: base.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := store.DeleteBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}

	indexed, err := client.SMembers(ctx, store.indexKey()).Result()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(indexed) != 1 || indexed[0] != store.historyKey("mixed", "trade") {
		t.Fatalf("expected only the live history indexed, got %v", indexed)
	}

	// A history appended after pruning is indexed again and prunable later.
	if err := store.Append(ctx, Record{Owner: "old", Action: "trade", At: base.Add(3 * time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err = store.DeleteBefore(ctx, base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed on second pass, got %d", n)
	}
	if left, _ := client.SCard(ctx, store.indexKey()).Result(); left != 0 {
		t.Fatalf("expected empty index, got %d", left)
	}
}
