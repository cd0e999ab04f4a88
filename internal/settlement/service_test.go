package settlement

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
	"github.com/congo-pay/balancecore/internal/notification"
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

type testNotifier struct {
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	store    *ledger.MemoryStore
	engine   *ledger.Engine
	clock    *testClock
	notifier *testNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := ledger.NewMemoryStore()
	locks := lock.NewManager(lock.NewMemoryStore(), logging.Discard())
	engine, err := ledger.NewEngine(store, locks, logging.Discard())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logging.Discard(), ratelimit.WithClock(clock.Now))
	notifier := &testNotifier{}
	svc, err := NewService(engine, limiter, notifier, logging.Discard(), Config{
		FeeRate:   decimal.RequireFromString("0.005"),
		FeeSinkID: "platform_fees",
		Cooldown:  2 * time.Second,
		LockTTL:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return fixture{svc: svc, store: store, engine: engine, clock: clock, notifier: notifier}
}

func (f fixture) balance(t *testing.T, key balance.Key) decimal.Decimal {
	t.Helper()
	v, err := f.engine.Balance(context.Background(), key)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v
}

func trade(id string) Trade {
	return Trade{ID: id, SellerID: "seller", BuyerID: "buyer", Asset: "usdt", Amount: decimal.NewFromInt(200)}
}

func TestSettleSplitsFee(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.store, balance.UserKey("seller", "USDT"), decimal.NewFromInt(500))

	res, err := f.svc.Settle(context.Background(), trade("t-1"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Fee.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fee 1, got %s", res.Fee)
	}
	if !res.SellerBalance.Equal(decimal.NewFromInt(300)) || !res.BuyerBalance.Equal(decimal.NewFromInt(199)) {
		t.Fatalf("unexpected balances %+v", res)
	}
	if got := f.balance(t, balance.FeeSinkKey("platform_fees", "USDT")); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("fee sink holds %s", got)
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected buyer and seller notified, got %d", len(f.notifier.sent))
	}
}

func TestSettleCooldownPerSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey("seller", "USDT"), decimal.NewFromInt(1000))

	if _, err := f.svc.Settle(ctx, trade("t-1")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	f.clock.Advance(500 * time.Millisecond)
	_, err := f.svc.Settle(ctx, trade("t-2"))
	var limited *ratelimit.LimitedError
	if !errors.As(err, &limited) || limited.WaitSeconds() != 2 {
		t.Fatalf("expected rate limit with 2s wait, got %v", err)
	}
	if got := f.balance(t, balance.UserKey("seller", "USDT")); !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("rate limited trade moved funds, seller holds %s", got)
	}

	// Replaying an already settled trade is not charged against the cooldown.
	res, err := f.svc.Settle(ctx, trade("t-1"))
	if err != nil || !res.Replayed {
		t.Fatalf("expected replay, got %+v %v", res, err)
	}

	f.clock.Advance(1500 * time.Millisecond)
	if _, err := f.svc.Settle(ctx, trade("t-2")); err != nil {
		t.Fatalf("settle after cooldown: %v", err)
	}
}

func TestSettleInsufficientSellerBalance(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.store, balance.UserKey("seller", "USDT"), decimal.NewFromInt(50))

	_, err := f.svc.Settle(context.Background(), trade("t-1"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !f.balance(t, balance.UserKey("buyer", "USDT")).IsZero() {
		t.Fatal("buyer must not be credited")
	}
}

func TestRefundReversesSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey("seller", "USDT"), decimal.NewFromInt(200))

	if _, err := f.svc.Refund(ctx, "t-1"); !errors.Is(err, ErrTradeNotSettled) {
		t.Fatalf("expected not settled, got %v", err)
	}
	if _, err := f.svc.Settle(ctx, trade("t-1")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	res, err := f.svc.Refund(ctx, "t-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !res.SellerBalance.Equal(decimal.NewFromInt(200)) || !res.BuyerBalance.IsZero() || !res.Fee.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected refund result %+v", res)
	}
	if !f.balance(t, balance.FeeSinkKey("platform_fees", "USDT")).IsZero() {
		t.Fatal("fee should be returned")
	}

	again, err := f.svc.Refund(ctx, "t-1")
	if err != nil || !again.Replayed {
		t.Fatalf("second refund should replay: %+v %v", again, err)
	}
}

func TestSettleValidation(t *testing.T) {
	f := newFixture(t)
	bad := []Trade{
		{SellerID: "s", BuyerID: "b", Asset: "BTC", Amount: decimal.NewFromInt(1)},
		{ID: "x", SellerID: "s", BuyerID: "s", Asset: "BTC", Amount: decimal.NewFromInt(1)},
		{ID: "x", SellerID: "s", BuyerID: "b", Asset: "BTC", Amount: decimal.Zero},
		{ID: "x", SellerID: "s", BuyerID: "b", Asset: "", Amount: decimal.NewFromInt(1)},
	}
	for i, tr := range bad {
		if _, err := f.svc.Settle(context.Background(), tr); !errors.Is(err, balance.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestNewServiceRejectsBadFeeRate(t *testing.T) {
	f := newFixture(t)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logging.Discard())
	if _, err := NewService(f.engine, limiter, nil, nil, Config{FeeRate: decimal.NewFromInt(1), FeeSinkID: "fees"}); err == nil {
		t.Fatal("expected error for fee rate 1")
	}
	if _, err := NewService(f.engine, limiter, nil, nil, Config{FeeRate: decimal.Zero}); err == nil {
		t.Fatal("expected error for missing fee sink")
	}
}

func TestSettleRefusesFeeSinkAsParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey("alice", "BTC"), decimal.NewFromInt(1))

	_, err := f.svc.Settle(ctx, Trade{ID: "t-sink", SellerID: "alice", BuyerID: "platform_fees", Asset: "BTC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := f.balance(t, balance.UserKey("alice", "BTC")); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("seller balance changed: %s", got)
	}
}
