package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/logging"
)

func setupRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewManager(NewRedisStore(client, "test:lock:"), logging.Discard()), mr
}

func TestRedisStoreAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m, _ := setupRedisManager(t)
	key := balance.UserKey("user-x", "GBP")

	l, err := m.Acquire(ctx, key, "trade", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, key, "trade", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}

	if ok, err := m.Release(ctx, l.ID); err != nil || !ok {
		t.Fatalf("release: %v %v", ok, err)
	}
	if ok, err := m.Release(ctx, l.ID); err != nil || ok {
		t.Fatalf("second release: %v %v", ok, err)
	}
	if _, err := m.Acquire(ctx, key, "trade", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m, mr := setupRedisManager(t)
	key := balance.UserKey("user-x", "GBP")

	stale, err := m.Acquire(ctx, key, "trade", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(time.Second)

	if _, err := m.Acquire(ctx, key, "trade", time.Minute); err != nil {
		t.Fatalf("expected expired lock to be gone: %v", err)
	}
	if ok, err := m.Release(ctx, stale.ID); err != nil || ok {
		t.Fatalf("stale release must not remove the new lock: %v %v", ok, err)
	}
	if _, err := m.Acquire(ctx, key, "trade", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected new holder to still block, got %v", err)
	}
}

func TestRedisStoreRenew(t *testing.T) {
	ctx := context.Background()
	m, mr := setupRedisManager(t)
	key := balance.UserKey("user-x", "BTC")

	l, err := m.Acquire(ctx, key, "settle", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Renew(ctx, l, time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	mr.FastForward(5 * time.Second)
	if _, err := m.Acquire(ctx, key, "other", time.Second); !errors.Is(err, ErrBusy) {
		t.Fatalf("renewed lock should still be held, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := m.Renew(ctx, l, time.Minute); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lock lost after expiry, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	m, mr := setupRedisManager(t)
	mr.Close()

	_, err := m.Acquire(context.Background(), balance.UserKey("u", "BTC"), "t", time.Second)
	if !errors.Is(err, balance.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
