package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/balancecore/internal/funding"
	"github.com/congo-pay/balancecore/internal/identity"
	"github.com/congo-pay/balancecore/internal/metrics"
	"github.com/congo-pay/balancecore/internal/middleware"
	"github.com/congo-pay/balancecore/internal/payments"
	"github.com/congo-pay/balancecore/internal/settlement"
	"github.com/congo-pay/balancecore/internal/subscription"
	"github.com/congo-pay/balancecore/internal/wallet"
)

const (
	actionAuthenticate   = "authenticate"
	authenticateCooldown = 2 * time.Second
)

// Setup builds the core and registers middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Core, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	core, err := NewCore(d)
	if err != nil {
		return nil, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, core.Metrics))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(d.Registry)))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterIdentityRoutes(api, identity.NewHandler(core.Identity), middleware.Cooldown(core.Limiter, actionAuthenticate, authenticateCooldown))
	RegisterBalanceRoutes(api, wallet.NewHandler(core.Wallet))
	RegisterTransferRoutes(api, payments.NewHandler(core.Payments))
	RegisterTradeRoutes(api, settlement.NewHandler(core.Settlement))
	RegisterSubscriptionRoutes(api, subscription.NewHandler(core.Subscription))
	RegisterFundingRoutes(api, funding.NewHandler(core.Funding))
	RegisterAdminRoutes(api, core)

	return core, nil
}

// RegisterIdentityRoutes wires onboarding, login and PIN checks. Login
// attempts pass the cooldown gate first.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, gate fiber.Handler) {
	r.Post("/identity/register", h.Register)
	r.Post("/identity/authenticate", gate, h.Authenticate)
	r.Post("/identity/verify-pin", h.VerifyPIN)
}

// RegisterBalanceRoutes wires balance queries.
func RegisterBalanceRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/balances/:owner", h.Statement)
	r.Get("/balances/:owner/:currency", h.Balance)
}

// RegisterTransferRoutes wires user-to-user transfers.
func RegisterTransferRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/transfers", h.P2P)
}

// RegisterTradeRoutes wires trade settlement and refunds.
func RegisterTradeRoutes(r fiber.Router, h *settlement.Handler) {
	r.Post("/trades/settle", h.Settle)
	r.Post("/trades/refund", h.Refund)
}

// RegisterSubscriptionRoutes wires plan listing and renewals.
func RegisterSubscriptionRoutes(r fiber.Router, h *subscription.Handler) {
	r.Get("/subscriptions/plans", h.Plans)
	r.Post("/subscriptions/renew", h.Renew)
}

// RegisterFundingRoutes wires deposits and withdrawals.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/funding/deposit", h.Deposit)
	r.Post("/funding/withdraw", h.Withdraw)
}

// RegisterAdminRoutes exposes an on-demand sweep.
func RegisterAdminRoutes(r fiber.Router, core *Core) {
	r.Post("/admin/sweep", func(c *fiber.Ctx) error {
		res, err := core.Sweeper.SweepExpired(c.UserContext())
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(res)
	})
}
