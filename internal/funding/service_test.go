package funding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/identity"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/lock"
	"github.com/congo-pay/balancecore/internal/logging"
)

type decliningAcquirer struct {
	StaticAcquirer
}

func (decliningAcquirer) AuthorizeWithdrawal(context.Context, WithdrawalAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: "ref", Status: StatusDeclined}, nil
}

type fixture struct {
	svc    *Service
	engine *ledger.Engine
	store  *ledger.MemoryStore
	userID string
}

func newFixture(t *testing.T, acquirer Acquirer) fixture {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	engine, err := ledger.NewEngine(store, lock.NewManager(lock.NewMemoryStore(), logging.Discard()), logging.Discard())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ids := identity.NewService(identity.NewMemoryRepository())
	user, err := ids.Register(ctx, identity.Credentials{Phone: "+237650000001", PIN: "2468", DeviceID: "d1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc, err := NewService(engine, ids, acquirer, nil, logging.Discard(), Config{TreasuryID: "platform_treasury", LockTTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, engine: engine, store: store, userID: user.ID}
}

func (f fixture) balance(t *testing.T, key balance.Key) decimal.Decimal {
	t.Helper()
	v, err := f.engine.Balance(context.Background(), key)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v
}

func TestDepositCreditsUserAndTreasury(t *testing.T) {
	f := newFixture(t, StaticAcquirer{})
	ctx := context.Background()

	in := DepositInput{OwnerID: f.userID, Currency: "BTC", Amount: decimal.RequireFromString("0.5"), SourceTxID: "chain-tx-1"}
	res, err := f.svc.Deposit(ctx, in)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Status != StatusCompleted || !res.Balance.Equal(decimal.RequireFromString("0.5")) || res.AcquirerReference == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.balance(t, balance.TreasuryKey("platform_treasury", "BTC")); !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("treasury holds %s", got)
	}

	again, err := f.svc.Deposit(ctx, in)
	if err != nil || !again.Replayed || again.TransactionID != res.TransactionID {
		t.Fatalf("same source tx should replay: %+v %v", again, err)
	}
	if got := f.balance(t, balance.UserKey(f.userID, "BTC")); !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("deposit credited twice, balance %s", got)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, StaticAcquirer{})
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{OwnerID: f.userID, Currency: "BTC", Amount: decimal.NewFromInt(1)}); !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected missing reference error, got %v", err)
	}
	if _, err := f.svc.Deposit(ctx, DepositInput{OwnerID: f.userID, Currency: "BTC", SourceTxID: "x"}); !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected amount error, got %v", err)
	}
}

func TestWithdrawRequiresPIN(t *testing.T) {
	f := newFixture(t, StaticAcquirer{})
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey(f.userID, "BTC"), decimal.NewFromInt(2))

	_, err := f.svc.Withdraw(ctx, WithdrawInput{
		OwnerID: f.userID, Currency: "BTC", Amount: decimal.NewFromInt(1), Destination: "bc1qxyz", PIN: "0000",
	})
	if !errors.Is(err, identity.ErrInvalidPIN) {
		t.Fatalf("expected invalid PIN, got %v", err)
	}
	if got := f.balance(t, balance.UserKey(f.userID, "BTC")); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("balance changed without PIN: %s", got)
	}
}

func TestWithdrawDebitsBalance(t *testing.T) {
	f := newFixture(t, StaticAcquirer{})
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey(f.userID, "BTC"), decimal.NewFromInt(2))

	in := WithdrawInput{
		OwnerID: f.userID, Currency: "BTC", Amount: decimal.RequireFromString("1.25"),
		Destination: "bc1qxyz", PIN: "2468", ClientTxID: "w-1",
	}
	res, err := f.svc.Withdraw(ctx, in)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.Balance.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("unexpected balance %s", res.Balance)
	}
	if got := f.balance(t, balance.TreasuryKey("platform_treasury", "BTC")); !got.Equal(decimal.RequireFromString("-1.25")) {
		t.Fatalf("treasury holds %s", got)
	}

	again, err := f.svc.Withdraw(ctx, in)
	if err != nil || !again.Replayed {
		t.Fatalf("expected replay, got %+v %v", again, err)
	}

	in.ClientTxID = "w-2"
	if _, err := f.svc.Withdraw(ctx, in); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestDeclinedWithdrawalIsReversed(t *testing.T) {
	f := newFixture(t, decliningAcquirer{})
	ctx := context.Background()
	ledger.SeedBalance(f.store, balance.UserKey(f.userID, "BTC"), decimal.NewFromInt(2))

	in := WithdrawInput{
		OwnerID: f.userID, Currency: "BTC", Amount: decimal.NewFromInt(1),
		Destination: "bc1qxyz", PIN: "2468", ClientTxID: "w-9",
	}
	if _, err := f.svc.Withdraw(ctx, in); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}
	if got := f.balance(t, balance.UserKey(f.userID, "BTC")); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("declined withdrawal kept funds: %s", got)
	}
	if got := f.balance(t, balance.TreasuryKey("platform_treasury", "BTC")); !got.IsZero() {
		t.Fatalf("treasury not restored: %s", got)
	}

	replay, err := f.svc.Withdraw(ctx, in)
	if err != nil || replay.Status != StatusReversed {
		t.Fatalf("replay should report reversal: %+v %v", replay, err)
	}
}

func TestTreasuryOwnerCannotFund(t *testing.T) {
	f := newFixture(t, StaticAcquirer{})
	_, err := f.svc.Deposit(context.Background(), DepositInput{
		OwnerID: "platform_treasury", Currency: "BTC", Amount: decimal.NewFromInt(1), SourceTxID: "chain-x",
	})
	if !errors.Is(err, balance.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
