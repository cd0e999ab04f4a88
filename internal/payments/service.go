package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/notification"
)

// KindP2P tags user-to-user transfers in the journal.
const KindP2P = "p2p"

// Service moves funds between two users through the ledger engine.
type Service struct {
	engine   *ledger.Engine
	notifier notification.Notifier
	logger   *slog.Logger
	lockTTL  time.Duration
}

// NewService constructs a payment service.
func NewService(engine *ledger.Engine, notifier notification.Notifier, logger *slog.Logger, lockTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, notifier: notifier, logger: logger, lockTTL: lockTTL}
}

// TransferInput captures the data needed to move funds between users.
type TransferInput struct {
	FromOwnerID string
	ToOwnerID   string
	Currency    string
	Amount      decimal.Decimal
	ClientTxID  string
	Memo        string
}

// TransferResult describes the ledger outcome of a P2P transfer.
type TransferResult struct {
	TransactionID string
	FromBalance   decimal.Decimal
	ToBalance     decimal.Decimal
	Replayed      bool
	CompletedAt   time.Time
}

// Transfer posts a balanced transfer between two user balances. A repeated
// ClientTxID returns the original outcome without moving funds again.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if !input.Amount.IsPositive() {
		return TransferResult{}, balance.Invalid("amount must be positive")
	}
	from, err := s.engine.UserKey(input.FromOwnerID, input.Currency)
	if err != nil {
		return TransferResult{}, fmt.Errorf("source: %w", err)
	}
	to, err := s.engine.UserKey(input.ToOwnerID, input.Currency)
	if err != nil {
		return TransferResult{}, fmt.Errorf("destination: %w", err)
	}
	if from.ID() == to.ID() {
		return TransferResult{}, balance.Invalid("cannot transfer to the same balance")
	}

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Transfer{
		Reference: input.ClientTxID,
		Kind:      KindP2P,
		Memo:      input.Memo,
		Legs: []ledger.Leg{
			{Key: from, Delta: input.Amount.Neg()},
			{Key: to, Delta: input.Amount},
		},
	}, s.lockTTL)
	if err != nil {
		return TransferResult{}, err
	}

	fromBal, _ := res.BalanceAfter(from)
	toBal, _ := res.BalanceAfter(to)
	outcome := TransferResult{
		TransactionID: res.TransferID,
		FromBalance:   fromBal,
		ToBalance:     toBal,
		Replayed:      replayed,
		CompletedAt:   time.Now().UTC(),
	}

	if !replayed {
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindP2PTransfer,
			Destination: to.Owner,
			Body:        fmt.Sprintf("You received %s %s from %s", input.Amount, to.Currency, from.Owner),
		})
	}

	return outcome, nil
}
