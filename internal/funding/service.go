package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/notification"
)

const (
	KindDeposit            = "deposit"
	KindWithdrawal         = "withdrawal"
	KindWithdrawalReversal = "withdrawal_reversal"

	StatusApproved  = "approved"
	StatusDeclined  = "declined"
	StatusCompleted = "completed"
	StatusReversed  = "reversed"
)

// ErrDeclined is returned when the acquirer refuses a request.
var ErrDeclined = errors.New("declined by acquirer")

// PINVerifier is the explicit pre-condition for withdrawals.
type PINVerifier interface {
	VerifyPIN(ctx context.Context, userID, pin string) error
}

// Config holds the funding policy.
type Config struct {
	TreasuryID string
	LockTTL    time.Duration
}

// Service moves value across the platform boundary. Each deposit or
// withdrawal changes the user's balance and the treasury's custody total by
// the same amount, so both are boundary transfers.
type Service struct {
	engine   *ledger.Engine
	pins     PINVerifier
	acquirer Acquirer
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
}

// NewService prepares a funding service.
func NewService(engine *ledger.Engine, pins PINVerifier, acquirer Acquirer, notifier notification.Notifier, logger *slog.Logger, cfg Config) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("ledger engine is required")
	}
	if pins == nil {
		return nil, fmt.Errorf("PIN verifier is required")
	}
	if cfg.TreasuryID == "" {
		return nil, fmt.Errorf("treasury id is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, pins: pins, acquirer: acquirer, notifier: notifier, logger: logger, cfg: cfg}, nil
}

// DepositInput captures an inbound payment.
type DepositInput struct {
	OwnerID    string
	Currency   string
	Amount     decimal.Decimal
	SourceTxID string
	ClientTxID string
}

// WithdrawInput captures a payout request.
type WithdrawInput struct {
	OwnerID     string
	Currency    string
	Amount      decimal.Decimal
	Destination string
	PIN         string
	ClientTxID  string
}

// FundingResult represents the domain outcome of a funding operation.
type FundingResult struct {
	TransactionID     string
	Status            string
	Balance           decimal.Decimal
	AcquirerReference string
	Replayed          bool
	CompletedAt       time.Time
}

func (s *Service) keys(ownerID, currency string) (balance.Key, balance.Key, error) {
	user, err := s.engine.UserKey(ownerID, currency, s.cfg.TreasuryID)
	if err != nil {
		return balance.Key{}, balance.Key{}, err
	}
	return user, balance.TreasuryKey(s.cfg.TreasuryID, currency), nil
}

// Deposit credits the owner once the acquirer confirms the inbound payment.
// The source transaction id doubles as the idempotency reference unless a
// client id is given.
func (s *Service) Deposit(ctx context.Context, input DepositInput) (FundingResult, error) {
	if !input.Amount.IsPositive() {
		return FundingResult{}, balance.Invalid("amount must be positive")
	}
	reference := strings.TrimSpace(input.ClientTxID)
	if reference == "" {
		reference = strings.TrimSpace(input.SourceTxID)
	}
	if reference == "" {
		return FundingResult{}, balance.Invalid("source_tx_id or client_tx_id is required")
	}
	user, treasury, err := s.keys(input.OwnerID, input.Currency)
	if err != nil {
		return FundingResult{}, err
	}

	if res, ok, err := s.replay(ctx, KindDeposit, reference, user); err != nil || ok {
		return res, err
	}

	decision, err := s.acquirer.AuthorizeDeposit(ctx, DepositAuthorization{
		OwnerID:    user.Owner,
		Currency:   user.Currency,
		Amount:     input.Amount,
		SourceTxID: input.SourceTxID,
	})
	if err != nil {
		return FundingResult{}, fmt.Errorf("authorize deposit: %w", err)
	}
	if !decision.Approved() {
		return FundingResult{}, fmt.Errorf("deposit %s: %w", reference, ErrDeclined)
	}

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Transfer{
		Reference: reference,
		Kind:      KindDeposit,
		Boundary:  true,
		Memo:      "acquirer " + decision.Reference,
		Legs: []ledger.Leg{
			{Key: user, Delta: input.Amount},
			{Key: treasury, Delta: input.Amount},
		},
	}, s.cfg.LockTTL)
	if err != nil {
		return FundingResult{}, err
	}
	after, _ := res.BalanceAfter(user)

	if !replayed {
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindDeposit,
			Destination: user.Owner,
			Body:        fmt.Sprintf("Deposit of %s %s credited", input.Amount, user.Currency),
		})
	}
	return FundingResult{
		TransactionID:     res.TransferID,
		Status:            StatusCompleted,
		Balance:           after,
		AcquirerReference: decision.Reference,
		Replayed:          replayed,
		CompletedAt:       time.Now().UTC(),
	}, nil
}

// Withdraw verifies the owner's PIN, debits the balance and then asks the
// acquirer to pay out. A refused payout is undone with a reversal transfer.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (FundingResult, error) {
	if !input.Amount.IsPositive() {
		return FundingResult{}, balance.Invalid("amount must be positive")
	}
	if strings.TrimSpace(input.Destination) == "" {
		return FundingResult{}, balance.Invalid("destination is required")
	}
	user, treasury, err := s.keys(input.OwnerID, input.Currency)
	if err != nil {
		return FundingResult{}, err
	}
	if err := s.pins.VerifyPIN(ctx, user.Owner, input.PIN); err != nil {
		return FundingResult{}, err
	}

	reference := strings.TrimSpace(input.ClientTxID)
	if reference != "" {
		if res, ok, err := s.replay(ctx, KindWithdrawal, reference, user); err != nil || ok {
			return res, err
		}
	}

	res, replayed, err := s.engine.ApplyOnce(ctx, ledger.Transfer{
		Reference: reference,
		Kind:      KindWithdrawal,
		Boundary:  true,
		Memo:      "payout to " + input.Destination,
		Legs: []ledger.Leg{
			{Key: user, Delta: input.Amount.Neg()},
			{Key: treasury, Delta: input.Amount.Neg()},
		},
	}, s.cfg.LockTTL)
	if err != nil {
		return FundingResult{}, err
	}
	after, _ := res.BalanceAfter(user)
	if replayed {
		return FundingResult{TransactionID: res.TransferID, Status: StatusCompleted, Balance: after, Replayed: true}, nil
	}

	decision, authErr := s.acquirer.AuthorizeWithdrawal(ctx, WithdrawalAuthorization{
		OwnerID:     user.Owner,
		Currency:    user.Currency,
		Amount:      input.Amount,
		Destination: input.Destination,
	})
	if authErr == nil && !decision.Approved() {
		authErr = ErrDeclined
	}
	if authErr != nil {
		s.reverse(ctx, res, reference)
		return FundingResult{}, fmt.Errorf("withdrawal %s: %w", res.TransferID, authErr)
	}

	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindWithdrawal,
		Destination: user.Owner,
		Body:        fmt.Sprintf("Withdrawal of %s %s sent", input.Amount, user.Currency),
	})
	return FundingResult{
		TransactionID:     res.TransferID,
		Status:            StatusCompleted,
		Balance:           after,
		AcquirerReference: decision.Reference,
		CompletedAt:       time.Now().UTC(),
	}, nil
}

// reverse credits back a withdrawal whose payout failed. A failure here
// leaves the debit in place and is logged for reconciliation.
func (s *Service) reverse(ctx context.Context, res ledger.Result, reference string) {
	if reference == "" {
		reference = res.TransferID
	}
	entry := ledger.Entry{TransferID: res.TransferID, Boundary: true, Legs: res.AppliedLegs}
	reversal := ledger.Reverse(entry, KindWithdrawalReversal, reference)
	if _, _, err := s.engine.ApplyOnce(context.WithoutCancel(ctx), reversal, s.cfg.LockTTL); err != nil {
		s.logger.Error("withdrawal reversal failed",
			slog.String("transfer_id", res.TransferID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) replay(ctx context.Context, kind, reference string, user balance.Key) (FundingResult, bool, error) {
	entry, ok, err := s.engine.EntryByReference(ctx, kind, reference)
	if err != nil || !ok {
		return FundingResult{}, false, err
	}
	after, _ := ledger.Result{AppliedLegs: entry.Legs}.BalanceAfter(user)
	status := StatusCompleted
	if kind == KindWithdrawal {
		if _, reversed, err := s.engine.EntryByReference(ctx, KindWithdrawalReversal, reference); err != nil {
			return FundingResult{}, false, err
		} else if reversed {
			status = StatusReversed
		}
	}
	return FundingResult{
		TransactionID: entry.TransferID,
		Status:        status,
		Balance:       after,
		Replayed:      true,
		CompletedAt:   entry.AppliedAt,
	}, true, nil
}
