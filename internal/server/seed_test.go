package server

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
)

func seedDeposit(owner, currency, amount string) ledger.Transfer {
	v := decimal.RequireFromString(amount)
	return ledger.Transfer{
		Kind:     "deposit",
		Boundary: true,
		Legs: []ledger.Leg{
			{Key: balance.UserKey(owner, currency), Delta: v},
			{Key: balance.TreasuryKey("platform_treasury", currency), Delta: v},
		},
	}
}
