package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName            = "BalanceCore"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultLockTTL            = 30 * time.Second
	defaultTradeCooldown      = 2 * time.Second
	defaultRenewalCooldown    = time.Minute
	defaultRateLimitRetention = 24 * time.Hour
	defaultSweepInterval      = 30 * time.Minute
	defaultTradeFeeRate       = "0.005"
	defaultFeeSinkID          = "platform_fees"
	defaultTreasuryID         = "platform_treasury"
)

// Store backends selectable for coordination state and balances.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// CoordinationStore backs locks and rate-limit records.
	CoordinationStore string
	// LedgerStore backs balances and the transfer journal.
	LedgerStore string

	LockTTL            time.Duration
	TradeCooldown      time.Duration
	RenewalCooldown    time.Duration
	RateLimitRetention time.Duration
	SweepInterval      time.Duration
	TradeFeeRate       decimal.Decimal
	FeeSinkID          string
	TreasuryID         string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LedgerStore:       strings.ToLower(getEnv("LEDGER_STORE", StoreMemory)),
		FeeSinkID:         getEnv("FEE_SINK_ID", defaultFeeSinkID),
		TreasuryID:        getEnv("TREASURY_ID", defaultTreasuryID),
	}
	// Coordination follows the ledger backend unless chosen explicitly.
	cfg.CoordinationStore = strings.ToLower(getEnv("COORDINATION_STORE", cfg.LedgerStore))

	durations := []struct {
		dst      *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.LockTTL, "LOCK_TTL", defaultLockTTL},
		{&cfg.TradeCooldown, "TRADE_COOLDOWN", defaultTradeCooldown},
		{&cfg.RenewalCooldown, "RENEWAL_COOLDOWN", defaultRenewalCooldown},
		{&cfg.RateLimitRetention, "RATELIMIT_RETENTION", defaultRateLimitRetention},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", defaultSweepInterval},
	}
	for _, d := range durations {
		v, err := durationEnv(d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	rate, err := decimal.NewFromString(getEnv("TRADE_FEE_RATE", defaultTradeFeeRate))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TRADE_FEE_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("TRADE_FEE_RATE must be in [0, 1), got %s", rate)
	}
	cfg.TradeFeeRate = rate

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, store := range map[string]string{"COORDINATION_STORE": c.CoordinationStore, "LEDGER_STORE": c.LedgerStore} {
		switch store {
		case StoreMemory, StoreRedis, StorePostgres:
		default:
			return fmt.Errorf("invalid %s %q", name, store)
		}
	}
	if c.LedgerStore != StoreMemory && c.CoordinationStore == StoreMemory {
		return fmt.Errorf("COORDINATION_STORE %q cannot guard a shared %s ledger; use redis or postgres", c.CoordinationStore, c.LedgerStore)
	}
	if c.uses(StorePostgres) && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.uses(StoreRedis) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.FeeSinkID == c.TreasuryID {
		return fmt.Errorf("FEE_SINK_ID and TREASURY_ID must differ")
	}
	return nil
}

func (c Config) uses(store string) bool {
	return c.CoordinationStore == store || c.LedgerStore == store
}

// NeedsPostgres reports whether any selected store is Postgres.
func (c Config) NeedsPostgres() bool { return c.uses(StorePostgres) }

// NeedsRedis reports whether any selected store is Redis.
func (c Config) NeedsRedis() bool { return c.uses(StoreRedis) }

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv reads NAME_SECONDS as whole seconds, then NAME as a Go duration.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
