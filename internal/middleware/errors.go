package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/funding"
	"github.com/congo-pay/balancecore/internal/identity"
	"github.com/congo-pay/balancecore/internal/ledger"
	"github.com/congo-pay/balancecore/internal/ratelimit"
	"github.com/congo-pay/balancecore/internal/settlement"
	"github.com/congo-pay/balancecore/internal/subscription"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Status maps a domain error to an HTTP status and a client-safe message.
// A partial write also wraps the store failure that caused it, so the
// inconsistent case is matched first.
func Status(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, ledger.ErrLocked):
		return http.StatusConflict, "balance currently in use"
	case errors.Is(err, ledger.ErrLockLost):
		return http.StatusConflict, "balance lock expired, retry the request"
	case errors.Is(err, ledger.ErrDuplicateTransfer), errors.Is(err, identity.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, funding.ErrDeclined):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests, slow down"
	case errors.Is(err, ledger.ErrMalformedTransfer),
		errors.Is(err, balance.ErrInvalidInput),
		errors.Is(err, subscription.ErrUnknownPlan),
		errors.Is(err, identity.ErrWeakPIN):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidPIN),
		errors.Is(err, identity.ErrDeviceMismatch),
		errors.Is(err, identity.ErrDeviceRequired):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, settlement.ErrTradeNotSettled):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ledger.ErrInconsistentState):
		return http.StatusInternalServerError, "transfer needs reconciliation"
	case errors.Is(err, balance.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

// ErrorHandler renders handler errors as JSON. Partially written transfers
// are logged at error level for reconciliation.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, msg := Status(err)

		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(limited.WaitSeconds()))
		}
		var inconsistent *ledger.InconsistentStateError
		if errors.As(err, &inconsistent) {
			logger.Error("ledger reconciliation required",
				slog.String("transfer_id", inconsistent.TransferID),
				slog.Any("error", err),
			)
		} else if status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		}

		resp := errorResponse{Error: msg}
		var rejected *ledger.RejectedError
		if errors.As(err, &rejected) {
			resp.Reason = rejected.Reason
		}
		return c.Status(status).JSON(resp)
	}
}
