package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/lock"
	"github.com/congo-pay/balancecore/internal/logging"
	"github.com/congo-pay/balancecore/internal/ratelimit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*Service, *ledger.MemoryStore, *ledger.Engine, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := ledger.NewMemoryStore()
	engine, err := ledger.NewEngine(store, lock.NewManager(lock.NewMemoryStore(), logging.Discard()), logging.Discard())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logging.Discard(), ratelimit.WithClock(clock.Now))
	svc, err := NewService(engine, limiter, nil, logging.Discard(), Config{
		FeeSinkID: "platform_fees",
		Cooldown:  time.Minute,
		LockTTL:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store, engine, clock
}

func TestRenewChargesPlanToFeeSink(t *testing.T) {
	svc, store, engine, _ := newService(t)
	ctx := context.Background()
	ledger.SeedBalance(store, balance.UserKey("u1", "USDT"), decimal.NewFromInt(20))

	res, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "PRO", Cycle: "2024-03"})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !res.Balance.Equal(decimal.RequireFromString("5.01")) {
		t.Fatalf("unexpected balance %s", res.Balance)
	}
	sink, _ := engine.Balance(ctx, balance.FeeSinkKey("platform_fees", "USDT"))
	if !sink.Equal(decimal.RequireFromString("14.99")) {
		t.Fatalf("fee sink holds %s", sink)
	}

	again, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "pro", Cycle: "2024-03"})
	if err != nil || !again.Replayed || again.TransferID != res.TransferID {
		t.Fatalf("same cycle should replay: %+v %v", again, err)
	}
}

func TestRenewCooldown(t *testing.T) {
	svc, store, _, clock := newService(t)
	ctx := context.Background()
	ledger.SeedBalance(store, balance.UserKey("u1", "USDT"), decimal.NewFromInt(100))

	if _, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "basic", Cycle: "2024-03"}); err != nil {
		t.Fatalf("renew: %v", err)
	}
	_, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "pro", Cycle: "2024-03"})
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "pro", Cycle: "2024-03"}); err != nil {
		t.Fatalf("renew after cooldown: %v", err)
	}
}

func TestRenewInsufficientBalance(t *testing.T) {
	svc, store, engine, _ := newService(t)
	ctx := context.Background()
	ledger.SeedBalance(store, balance.UserKey("u1", "USDT"), decimal.NewFromInt(1))

	_, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "basic", Cycle: "2024-03"})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	sink, _ := engine.Balance(ctx, balance.FeeSinkKey("platform_fees", "USDT"))
	if !sink.IsZero() {
		t.Fatalf("fee sink should be untouched, holds %s", sink)
	}
}

func TestRenewRejectsBadInput(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "gold", Cycle: "2024-03"}); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected unknown plan, got %v", err)
	}
	if _, err := svc.Renew(ctx, Renewal{OwnerID: "u1", PlanCode: "pro"}); !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing cycle, got %v", err)
	}
	if _, err := svc.Renew(ctx, Renewal{PlanCode: "pro", Cycle: "2024-03"}); !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing owner, got %v", err)
	}
	if _, err := svc.Renew(ctx, Renewal{OwnerID: "platform_fees", PlanCode: "pro", Cycle: "2024-03"}); !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("fee sink owner must not renew as a user, got %v", err)
	}
}

func TestPlansSorted(t *testing.T) {
	svc, _, _, _ := newService(t)
	plans := svc.Plans()
	if len(plans) != 3 || plans[0].Code != "basic" || plans[2].Code != "pro" {
		t.Fatalf("unexpected catalogue %+v", plans)
	}
}
