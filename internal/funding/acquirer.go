package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Acquirer represents a connector to the external rail that moves value in
// and out of custody.
type Acquirer interface {
	AuthorizeDeposit(ctx context.Context, input DepositAuthorization) (AuthorizationDecision, error)
	AuthorizeWithdrawal(ctx context.Context, input WithdrawalAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision captures the response from the acquirer.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// Approved reports whether the acquirer accepted the request.
func (d AuthorizationDecision) Approved() bool { return d.Status == StatusApproved }

// DepositAuthorization identifies an inbound payment awaiting credit.
type DepositAuthorization struct {
	OwnerID    string
	Currency   string
	Amount     decimal.Decimal
	SourceTxID string
}

// WithdrawalAuthorization captures data for a payout to an external address.
type WithdrawalAuthorization struct {
	OwnerID     string
	Currency    string
	Amount      decimal.Decimal
	Destination string
}

// StaticAcquirer simulates a successful acquirer integration.
type StaticAcquirer struct{}

// AuthorizeDeposit approves the deposit with a synthetic reference.
func (StaticAcquirer) AuthorizeDeposit(_ context.Context, _ DepositAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

// AuthorizeWithdrawal approves the payout with a synthetic reference.
func (StaticAcquirer) AuthorizeWithdrawal(_ context.Context, _ WithdrawalAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}
