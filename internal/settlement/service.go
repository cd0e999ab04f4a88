// Package settlement settles P2P trades: the seller's asset moves to the
// buyer and the platform fee moves to the fee sink in one transfer.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/notification"
	"github.com/congo-pay/balancecore/internal/ratelimit"
)

const (
	KindSettlement = "trade_settlement"
	KindRefund     = "trade_refund"

	// ActionTrade is the rate limit action charged to the seller.
	ActionTrade = "trade"

	feePrecision = 8
)

// ErrTradeNotSettled is returned when refunding a trade with no settlement.
var ErrTradeNotSettled = errors.New("trade not settled")

// Config holds the settlement policy.
type Config struct {
	FeeRate   decimal.Decimal
	FeeSinkID string
	Cooldown  time.Duration
	LockTTL   time.Duration
}

// Trade is a matched P2P trade ready to settle.
type Trade struct {
	ID       string
	SellerID string
	BuyerID  string
	Asset    string
	Amount   decimal.Decimal
}

// Result reports the balances a settlement or refund left behind.
type Result struct {
	TransferID    string
	SellerBalance decimal.Decimal
	BuyerBalance  decimal.Decimal
	Fee           decimal.Decimal
	Replayed      bool
}

// Service settles and refunds trades.
type Service struct {
	engine   *ledger.Engine
	limiter  *ratelimit.Limiter
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
}

// NewService builds a settlement service.
func NewService(engine *ledger.Engine, limiter *ratelimit.Limiter, notifier notification.Notifier, logger *slog.Logger, cfg Config) (*Service, error) {
	if engine == nil || limiter == nil {
		return nil, errors.New("settlement requires a ledger engine and a rate limiter")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate must be in [0, 1), got %s", cfg.FeeRate)
	}
	if cfg.FeeSinkID == "" {
		return nil, errors.New("fee sink id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, limiter: limiter, notifier: notifier, logger: logger, cfg: cfg}, nil
}

// Fee is the platform's cut of amount, truncated to the ledger precision.
func (s *Service) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.cfg.FeeRate).Truncate(feePrecision)
}

func (t Trade) validate() error {
	switch {
	case t.ID == "":
		return balance.Invalid("trade id is required")
	case !t.Amount.IsPositive():
		return balance.Invalid("trade amount must be positive")
	case t.SellerID == t.BuyerID:
		return balance.Invalid("seller and buyer must differ")
	}
	if err := balance.UserKey(t.SellerID, t.Asset).Validate(); err != nil {
		return balance.Invalid("seller: %v", err)
	}
	if err := balance.UserKey(t.BuyerID, t.Asset).Validate(); err != nil {
		return balance.Invalid("buyer: %v", err)
	}
	return nil
}

// Settle moves the traded amount from seller to buyer, minus the fee which
// goes to the fee sink. Sellers are held to a cooldown between settlements.
// Settling an already settled trade returns the original result.
func (s *Service) Settle(ctx context.Context, trade Trade) (Result, error) {
	if err := trade.validate(); err != nil {
		return Result{}, err
	}
	seller, err := s.engine.UserKey(trade.SellerID, trade.Asset, s.cfg.FeeSinkID)
	if err != nil {
		return Result{}, fmt.Errorf("seller: %w", err)
	}
	buyer, err := s.engine.UserKey(trade.BuyerID, trade.Asset, s.cfg.FeeSinkID)
	if err != nil {
		return Result{}, fmt.Errorf("buyer: %w", err)
	}
	sink := balance.FeeSinkKey(s.cfg.FeeSinkID, trade.Asset)

	if entry, ok, err := s.engine.EntryByReference(ctx, KindSettlement, trade.ID); err != nil {
		return Result{}, err
	} else if ok {
		return s.result(entry.TransferID, entry.Legs, seller, buyer, sink, true), nil
	}

	decision, err := s.limiter.CheckAndRecord(ctx, seller.Owner, ActionTrade, s.cfg.Cooldown)
	if err != nil {
		return Result{}, err
	}
	if err := decision.Err(seller.Owner, ActionTrade); err != nil {
		return Result{}, err
	}

	fee := s.Fee(trade.Amount)
	legs := []ledger.Leg{
		{Key: seller, Delta: trade.Amount.Neg()},
		{Key: buyer, Delta: trade.Amount.Sub(fee)},
	}
	if fee.IsPositive() {
		legs = append(legs, ledger.Leg{Key: sink, Delta: fee})
	}

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Transfer{
		Reference: trade.ID,
		Kind:      KindSettlement,
		Memo:      fmt.Sprintf("trade %s", trade.ID),
		Legs:      legs,
	}, s.cfg.LockTTL)
	if err != nil {
		return Result{}, err
	}
	out := s.result(res.TransferID, res.AppliedLegs, seller, buyer, sink, replayed)

	if !replayed {
		s.logger.Info("trade settled",
			slog.String("trade_id", trade.ID),
			slog.String("asset", seller.Currency),
			slog.String("amount", trade.Amount.String()),
			slog.String("fee", fee.String()),
		)
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindTradeSettled,
			Destination: buyer.Owner,
			Body:        fmt.Sprintf("Trade %s settled: you received %s %s", trade.ID, trade.Amount.Sub(fee), buyer.Currency),
		})
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindTradeSettled,
			Destination: seller.Owner,
			Body:        fmt.Sprintf("Trade %s settled: %s %s released", trade.ID, trade.Amount, seller.Currency),
		})
	}
	return out, nil
}

// Refund reverses a settled trade with a new opposite transfer. The buyer
// must still hold what they received.
func (s *Service) Refund(ctx context.Context, tradeID string) (Result, error) {
	if tradeID == "" {
		return Result{}, balance.Invalid("trade id is required")
	}
	entry, ok, err := s.engine.EntryByReference(ctx, KindSettlement, tradeID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("refund %s: %w", tradeID, ErrTradeNotSettled)
	}
	if len(entry.Legs) < 2 {
		return Result{}, fmt.Errorf("settlement %s has %d legs", entry.TransferID, len(entry.Legs))
	}
	seller, buyer := entry.Legs[0].Key, entry.Legs[1].Key
	sink := balance.FeeSinkKey(s.cfg.FeeSinkID, seller.Currency)

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Reverse(entry, KindRefund, tradeID), s.cfg.LockTTL)
	if err != nil {
		return Result{}, err
	}
	out := s.result(res.TransferID, res.AppliedLegs, seller, buyer, sink, replayed)
	out.Fee = out.Fee.Neg()

	if !replayed {
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindTradeRefunded,
			Destination: seller.Owner,
			Body:        fmt.Sprintf("Trade %s refunded", tradeID),
		})
	}
	return out, nil
}

func (s *Service) result(transferID string, legs []ledger.AppliedLeg, seller, buyer, sink balance.Key, replayed bool) Result {
	r := ledger.Result{TransferID: transferID, AppliedLegs: legs}
	out := Result{TransferID: transferID, Replayed: replayed}
	out.SellerBalance, _ = r.BalanceAfter(seller)
	out.BuyerBalance, _ = r.BalanceAfter(buyer)
	for _, leg := range legs {
		if leg.Key.ID() == sink.ID() {
			out.Fee = out.Fee.Add(leg.Delta)
		}
	}
	return out
}
