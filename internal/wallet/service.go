package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/ledger"
)

// Service answers balance queries against the ledger. Reads take no lock, so
// a balance may be stale by the time the caller acts on it; every mutation
// re-reads under lock.
type Service struct {
	engine *ledger.Engine
	now    func() time.Time
}

// NewService builds a wallet service instance.
func NewService(engine *ledger.Engine) *Service {
	return &Service{engine: engine, now: time.Now}
}

// Balance returns the owner's balance in currency. Unknown balances are zero.
func (s *Service) Balance(ctx context.Context, ownerID, currency string) (Balance, error) {
	key := balance.UserKey(ownerID, currency)
	if err := key.Validate(); err != nil {
		return Balance{}, balance.Invalid("%v", err)
	}
	amount, err := s.engine.Balance(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		OwnerID:  key.Owner,
		Currency: key.Currency,
		Amount:   amount,
		AsOf:     s.now().UTC(),
	}, nil
}

// Statement reads the owner's balance in each listed currency. Duplicate
// currencies are reported once, in alphabetical order.
func (s *Service) Statement(ctx context.Context, ownerID string, currencies []string) (Statement, error) {
	seen := make(map[string]struct{}, len(currencies))
	codes := make([]string, 0, len(currencies))
	for _, c := range currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	if len(codes) == 0 {
		return Statement{}, balance.Invalid("at least one currency is required")
	}
	sort.Strings(codes)

	stmt := Statement{OwnerID: strings.TrimSpace(ownerID), AsOf: s.now().UTC()}
	for _, code := range codes {
		b, err := s.Balance(ctx, ownerID, code)
		if err != nil {
			return Statement{}, fmt.Errorf("statement %s: %w", code, err)
		}
		stmt.Balances = append(stmt.Balances, b)
	}
	return stmt, nil
}
