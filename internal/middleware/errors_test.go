package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/identity"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/logging"
	"github.com/congo-pay/balancecore/internal/ratelimit"
)

func TestStatusMapping(t *testing.T) {
	storeErr := balance.StoreError("write balance", errors.New("connection reset"))
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"locked", &ledger.RejectedError{Reason: ledger.ReasonLocked}, http.StatusConflict},
		{"insufficient", &ledger.RejectedError{Reason: ledger.ReasonInsufficientBalance}, http.StatusUnprocessableEntity},
		{"malformed", &ledger.RejectedError{Reason: ledger.ReasonMalformed}, http.StatusBadRequest},
		{"invalid input", balance.Invalid("amount must be positive"), http.StatusBadRequest},
		{"rate limited", &ratelimit.LimitedError{Owner: "u", Action: "trade", Wait: time.Second}, http.StatusTooManyRequests},
		{"store", storeErr, http.StatusServiceUnavailable},
		{"partial write", &ledger.InconsistentStateError{TransferID: "t1", Err: storeErr}, http.StatusInternalServerError},
		{"bad pin", fmt.Errorf("withdraw: %w", identity.ErrInvalidPIN), http.StatusUnauthorized},
		{"fiber", fiber.NewError(http.StatusTeapot, "teapot"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := Status(tc.err); got != tc.want {
			t.Fatalf("%s: want %d got %d", tc.name, tc.want, got)
		}
	}
}

func TestErrorHandlerSetsRetryAfter(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Post("/limited", func(c *fiber.Ctx) error {
		return &ratelimit.LimitedError{Owner: "u", Action: "trade", Wait: 1500 * time.Millisecond}
	})
	app.Post("/locked", func(c *fiber.Ctx) error {
		return &ledger.RejectedError{Reason: ledger.ReasonLocked, Key: balance.UserKey("u", "BTC")}
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/limited", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get(fiber.HeaderRetryAfter) != "2" {
		t.Fatalf("unexpected response %d retry-after=%q", resp.StatusCode, resp.Header.Get(fiber.HeaderRetryAfter))
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/locked", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusConflict || body.Error != "balance currently in use" || body.Reason != ledger.ReasonLocked {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, body)
	}
}

func TestCooldownGatesRepeatedAttempts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logging.Discard(),
		ratelimit.WithClock(func() time.Time { return now }))

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Post("/login", Cooldown(limiter, "authenticate", 5*time.Second), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	send := func(phone string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"phone":"`+phone+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	if got := send("+1"); got != http.StatusOK {
		t.Fatalf("first attempt: %d", got)
	}
	if got := send("+1"); got != http.StatusTooManyRequests {
		t.Fatalf("second attempt should be limited, got %d", got)
	}
	if got := send("+2"); got != http.StatusOK {
		t.Fatalf("other phone should pass, got %d", got)
	}
	now = now.Add(5 * time.Second)
	if got := send("+1"); got != http.StatusOK {
		t.Fatalf("attempt after cooldown: %d", got)
	}
}
