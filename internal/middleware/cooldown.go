package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/balancecore/internal/ratelimit"
)

// Cooldown gates a route through the limiter, keyed by the phone in the JSON
// body or the client IP when none is given. Store failures fail open.
func Cooldown(limiter *ratelimit.Limiter, action string, cooldown time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil || cooldown <= 0 {
			return c.Next()
		}
		var req struct {
			Phone string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		owner := strings.TrimSpace(req.Phone)
		if owner == "" {
			owner = c.IP()
		}
		decision, err := limiter.CheckAndRecord(c.UserContext(), owner, action, cooldown)
		if err != nil {
			return c.Next()
		}
		if err := decision.Err(owner, action); err != nil {
			return err
		}
		return c.Next()
	}
}
