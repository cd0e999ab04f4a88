package routes

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/config"
	"github.com/congo-pay/balancecore/internal/funding"
	"github.com/congo-pay/balancecore/internal/identity"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/lock"
	"github.com/congo-pay/balancecore/internal/metrics"
	"github.com/congo-pay/balancecore/internal/notification"
	"github.com/congo-pay/balancecore/internal/payments"
	"github.com/congo-pay/balancecore/internal/ratelimit"
	"github.com/congo-pay/balancecore/internal/settlement"
	"github.com/congo-pay/balancecore/internal/subscription"
	"github.com/congo-pay/balancecore/internal/sweeper"
	"github.com/congo-pay/balancecore/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// Acquirer overrides the funding rail; nil uses the static acquirer.
	Acquirer funding.Acquirer
}

// Core is the wired coordination core and the callers built on it.
type Core struct {
	Metrics      *metrics.Metrics
	Locks        *lock.Manager
	Limiter      *ratelimit.Limiter
	Engine       *ledger.Engine
	Sweeper      *sweeper.Sweeper
	Identity     *identity.Service
	Wallet       *wallet.Service
	Payments     *payments.Service
	Settlement   *settlement.Service
	Subscription *subscription.Service
	Funding      *funding.Service
}

// NewCore selects the configured stores and builds every service.
func NewCore(d Deps) (*Core, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	cfg := d.Cfg
	m := metrics.New(d.Registry)

	lockStore, rateStore, err := coordinationStores(d)
	if err != nil {
		return nil, err
	}
	ledgerStore, err := ledgerStore(d)
	if err != nil {
		return nil, err
	}

	locks := lock.NewManager(lockStore, d.Logger.With("component", "lock"), lock.WithMetrics(m))
	limiter := ratelimit.NewLimiter(rateStore, d.Logger.With("component", "ratelimit"), ratelimit.WithMetrics(m))
	engine, err := ledger.NewEngine(ledgerStore, locks, d.Logger.With("component", "ledger"),
		ledger.WithMetrics(m),
		ledger.WithSystemOwners(map[string]balance.Kind{
			cfg.FeeSinkID:  balance.KindFeeSink,
			cfg.TreasuryID: balance.KindTreasury,
		}),
	)
	if err != nil {
		return nil, err
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	ids := identity.NewService(identityRepo)
	notifier := notification.NewLoggerNotifier(d.Logger.With("component", "notification"))

	settle, err := settlement.NewService(engine, limiter, notifier, d.Logger, settlement.Config{
		FeeRate:   cfg.TradeFeeRate,
		FeeSinkID: cfg.FeeSinkID,
		Cooldown:  cfg.TradeCooldown,
		LockTTL:   cfg.LockTTL,
	})
	if err != nil {
		return nil, err
	}
	subs, err := subscription.NewService(engine, limiter, notifier, d.Logger, subscription.Config{
		Plans:     subscription.DefaultPlans(),
		FeeSinkID: cfg.FeeSinkID,
		Cooldown:  cfg.RenewalCooldown,
		LockTTL:   cfg.LockTTL,
	})
	if err != nil {
		return nil, err
	}
	fund, err := funding.NewService(engine, ids, d.Acquirer, notifier, d.Logger, funding.Config{
		TreasuryID: cfg.TreasuryID,
		LockTTL:    cfg.LockTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		Metrics:      m,
		Locks:        locks,
		Limiter:      limiter,
		Engine:       engine,
		Sweeper:      sweeper.New(locks, limiter, cfg.RateLimitRetention, cfg.SweepInterval, d.Logger.With("component", "sweeper"), m),
		Identity:     ids,
		Wallet:       wallet.NewService(engine),
		Payments:     payments.NewService(engine, notifier, d.Logger, cfg.LockTTL),
		Settlement:   settle,
		Subscription: subs,
		Funding:      fund,
	}, nil
}

func coordinationStores(d Deps) (lock.Store, ratelimit.Store, error) {
	switch d.Cfg.CoordinationStore {
	case config.StoreMemory, "":
		if d.Cfg.LedgerStore != config.StoreMemory && d.Cfg.LedgerStore != "" {
			return nil, nil, fmt.Errorf("in-process coordination cannot guard the shared %s ledger", d.Cfg.LedgerStore)
		}
		return lock.NewMemoryStore(), ratelimit.NewMemoryStore(), nil
	case config.StoreRedis:
		if d.Cache == nil {
			return nil, nil, fmt.Errorf("coordination store %q requires redis", d.Cfg.CoordinationStore)
		}
		return lock.NewRedisStore(d.Cache, ""), ratelimit.NewRedisStore(d.Cache, ""), nil
	case config.StorePostgres:
		if d.DB == nil {
			return nil, nil, fmt.Errorf("coordination store %q requires postgres", d.Cfg.CoordinationStore)
		}
		return lock.NewPostgresStore(d.DB), ratelimit.NewPostgresStore(d.DB), nil
	}
	return nil, nil, fmt.Errorf("unknown coordination store %q", d.Cfg.CoordinationStore)
}

func ledgerStore(d Deps) (ledger.Store, error) {
	switch d.Cfg.LedgerStore {
	case config.StoreMemory, "":
		return ledger.NewMemoryStore(), nil
	case config.StoreRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("ledger store %q requires redis", d.Cfg.LedgerStore)
		}
		return ledger.NewRedisStore(d.Cache, ""), nil
	case config.StorePostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("ledger store %q requires postgres", d.Cfg.LedgerStore)
		}
		return ledger.NewPostgresStore(d.DB), nil
	}
	return nil, fmt.Errorf("unknown ledger store %q", d.Cfg.LedgerStore)
}
