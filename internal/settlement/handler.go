package settlement

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes trade settlement endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type settleRequest struct {
	TradeID  string          `json:"trade_id"`
	SellerID string          `json:"seller_id"`
	BuyerID  string          `json:"buyer_id"`
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
}

type refundRequest struct {
	TradeID string `json:"trade_id"`
}

type resultResponse struct {
	TransferID    string          `json:"transfer_id"`
	SellerBalance decimal.Decimal `json:"seller_balance"`
	BuyerBalance  decimal.Decimal `json:"buyer_balance"`
	Fee           decimal.Decimal `json:"fee"`
	Replayed      bool            `json:"replayed"`
}

// Settle settles a matched trade.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Settle(c.UserContext(), Trade{
		ID:       req.TradeID,
		SellerID: req.SellerID,
		BuyerID:  req.BuyerID,
		Asset:    req.Asset,
		Amount:   req.Amount,
	})
	if err != nil {
		return err
	}
	return respond(c, res)
}

// Refund reverses a settled trade.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Refund(c.UserContext(), req.TradeID)
	if err != nil {
		return err
	}
	return respond(c, res)
}

func respond(c *fiber.Ctx, res Result) error {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(resultResponse{
		TransferID:    res.TransferID,
		SellerBalance: res.SellerBalance,
		BuyerBalance:  res.BuyerBalance,
		Fee:           res.Fee,
		Replayed:      res.Replayed,
	})
}
