package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one owner's holding of one currency as read from the ledger.
type Balance struct {
	OwnerID  string
	Currency string
	Amount   decimal.Decimal
	AsOf     time.Time
}

// Statement groups an owner's balances across currencies.
type Statement struct {
	OwnerID  string
	Balances []Balance
	AsOf     time.Time
}
