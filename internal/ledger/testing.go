package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
)

// SeedBalance is a test helper that sets a balance directly when using the
// in-memory ledger. Other stores are left untouched.
func SeedBalance(s Store, key balance.Key, amount decimal.Decimal) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[key.ID()] = amount
	}
}
