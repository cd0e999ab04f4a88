package wallet

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes balance query endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	OwnerID  string          `json:"owner_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	AsOf     time.Time       `json:"timestamp"`
}

type statementResponse struct {
	OwnerID  string            `json:"owner_id"`
	Balances []balanceResponse `json:"balances"`
	AsOf     time.Time         `json:"timestamp"`
}

func toBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{OwnerID: b.OwnerID, Currency: b.Currency, Balance: b.Amount, AsOf: b.AsOf}
}

// Balance returns one balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	b, err := h.service.Balance(c.UserContext(), c.Params("owner"), c.Params("currency"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toBalanceResponse(b))
}

// Statement returns the balances named by the comma separated currencies
// query parameter.
func (h *Handler) Statement(c *fiber.Ctx) error {
	stmt, err := h.service.Statement(c.UserContext(), c.Params("owner"), strings.Split(c.Query("currencies"), ","))
	if err != nil {
		return err
	}
	resp := statementResponse{OwnerID: stmt.OwnerID, AsOf: stmt.AsOf, Balances: make([]balanceResponse, len(stmt.Balances))}
	for i, b := range stmt.Balances {
		resp.Balances[i] = toBalanceResponse(b)
	}
	return c.Status(http.StatusOK).JSON(resp)
}
