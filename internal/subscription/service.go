// Package subscription charges plan renewals from user balances to the
// platform fee sink.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/notification"
	"github.com/congo-pay/balancecore/internal/ratelimit"
)

const (
	KindRenewal   = "subscription_renewal"
	ActionRenewal = "subscription_renewal"
)

// ErrUnknownPlan is returned for plan codes missing from the catalogue.
var ErrUnknownPlan = errors.New("unknown subscription plan")

// Plan is a priced subscription tier.
type Plan struct {
	Code     string
	Currency string
	Price    decimal.Decimal
}

// DefaultPlans is the catalogue used when none is configured.
func DefaultPlans() []Plan {
	return []Plan{
		{Code: "basic", Currency: "USDT", Price: decimal.RequireFromString("4.99")},
		{Code: "pro", Currency: "USDT", Price: decimal.RequireFromString("14.99")},
		{Code: "merchant", Currency: "USDT", Price: decimal.RequireFromString("49.00")},
	}
}

// Renewal identifies one billing cycle of one owner's plan. Cycle makes the
// charge idempotent, e.g. "2024-03".
type Renewal struct {
	OwnerID  string
	PlanCode string
	Cycle    string
}

func (r Renewal) reference() string {
	return r.PlanCode + "/" + r.Cycle + "/" + r.OwnerID
}

// Result reports a renewal charge.
type Result struct {
	TransferID string
	Plan       Plan
	Balance    decimal.Decimal
	Replayed   bool
}

// Service renews subscriptions.
type Service struct {
	engine    *ledger.Engine
	limiter   *ratelimit.Limiter
	notifier  notification.Notifier
	logger    *slog.Logger
	plans     map[string]Plan
	feeSinkID string
	cooldown  time.Duration
	lockTTL   time.Duration
}

// Config holds the renewal policy.
type Config struct {
	Plans     []Plan
	FeeSinkID string
	Cooldown  time.Duration
	LockTTL   time.Duration
}

// NewService builds a subscription service.
func NewService(engine *ledger.Engine, limiter *ratelimit.Limiter, notifier notification.Notifier, logger *slog.Logger, cfg Config) (*Service, error) {
	if engine == nil || limiter == nil {
		return nil, errors.New("subscription requires a ledger engine and a rate limiter")
	}
	if cfg.FeeSinkID == "" {
		return nil, errors.New("fee sink id is required")
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}
	plans := make(map[string]Plan, len(cfg.Plans))
	for _, p := range cfg.Plans {
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("plan %s must have a positive price", p.Code)
		}
		p.Currency = strings.ToUpper(p.Currency)
		plans[strings.ToLower(p.Code)] = p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    engine,
		limiter:   limiter,
		notifier:  notifier,
		logger:    logger,
		plans:     plans,
		feeSinkID: cfg.FeeSinkID,
		cooldown:  cfg.Cooldown,
		lockTTL:   cfg.LockTTL,
	}, nil
}

// Plans lists the catalogue ordered by code.
func (s *Service) Plans() []Plan {
	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Renew charges the plan price for one cycle. A cycle already charged is
// replayed; otherwise the owner is held to the renewal cooldown.
func (s *Service) Renew(ctx context.Context, r Renewal) (Result, error) {
	plan, ok := s.plans[strings.ToLower(strings.TrimSpace(r.PlanCode))]
	if !ok {
		return Result{}, fmt.Errorf("%w: %w %q", balance.ErrInvalidInput, ErrUnknownPlan, r.PlanCode)
	}
	r.PlanCode = plan.Code
	if strings.TrimSpace(r.Cycle) == "" {
		return Result{}, balance.Invalid("billing cycle is required")
	}
	user, err := s.engine.UserKey(r.OwnerID, plan.Currency, s.feeSinkID)
	if err != nil {
		return Result{}, fmt.Errorf("owner: %w", err)
	}
	sink := balance.FeeSinkKey(s.feeSinkID, plan.Currency)

	if entry, ok, err := s.engine.EntryByReference(ctx, KindRenewal, r.reference()); err != nil {
		return Result{}, err
	} else if ok {
		after, _ := ledger.Result{AppliedLegs: entry.Legs}.BalanceAfter(user)
		return Result{TransferID: entry.TransferID, Plan: plan, Balance: after, Replayed: true}, nil
	}

	decision, err := s.limiter.CheckAndRecord(ctx, user.Owner, ActionRenewal, s.cooldown)
	if err != nil {
		return Result{}, err
	}
	if err := decision.Err(user.Owner, ActionRenewal); err != nil {
		return Result{}, err
	}

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Transfer{
		Reference: r.reference(),
		Kind:      KindRenewal,
		Memo:      fmt.Sprintf("%s plan, cycle %s", plan.Code, r.Cycle),
		Legs: []ledger.Leg{
			{Key: user, Delta: plan.Price.Neg()},
			{Key: sink, Delta: plan.Price},
		},
	}, s.lockTTL)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.logger.Info("subscription renewal declined",
				slog.String("owner", user.Owner),
				slog.String("plan", plan.Code),
				slog.String("cycle", r.Cycle),
			)
		}
		return Result{}, err
	}
	after, _ := res.BalanceAfter(user)

	if !replayed {
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindSubscriptionRenewed,
			Destination: user.Owner,
			Body:        fmt.Sprintf("Your %s plan was renewed for %s (%s %s)", plan.Code, r.Cycle, plan.Price, plan.Currency),
		})
	}
	return Result{TransferID: res.TransferID, Plan: plan, Balance: after, Replayed: replayed}, nil
}
