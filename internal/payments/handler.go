package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromOwnerID string          `json:"from_owner_id"`
	ToOwnerID   string          `json:"to_owner_id"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	ClientTxID  string          `json:"client_tx_id"`
	Memo        string          `json:"memo"`
}

// P2P processes a user-to-user transfer.
func (h *Handler) P2P(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromOwnerID: req.FromOwnerID,
		ToOwnerID:   req.ToOwnerID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		ClientTxID:  req.ClientTxID,
		Memo:        req.Memo,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"from_balance":   res.FromBalance,
		"to_balance":     res.ToBalance,
		"replayed":       res.Replayed,
		"completed_at":   res.CompletedAt,
	})
}
