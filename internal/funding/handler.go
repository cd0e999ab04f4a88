package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes HTTP endpoints for deposits and withdrawals.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Deposit credits a confirmed inbound payment.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		OwnerID:    req.OwnerID,
		Currency:   req.Currency,
		Amount:     req.Amount,
		SourceTxID: req.SourceTxID,
		ClientTxID: req.ClientTxID,
	})
	if err != nil {
		return err
	}
	return c.Status(statusFor(result)).JSON(toResponse(result))
}

// Withdraw pays funds out after PIN verification.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		OwnerID:     req.OwnerID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Destination: req.Destination,
		PIN:         req.PIN,
		ClientTxID:  req.ClientTxID,
	})
	if err != nil {
		return err
	}
	return c.Status(statusFor(result)).JSON(toResponse(result))
}

func statusFor(result FundingResult) int {
	if result.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func toResponse(result FundingResult) FundingResponse {
	return FundingResponse{
		TransactionID:     result.TransactionID,
		Status:            result.Status,
		Balance:           result.Balance,
		AcquirerReference: result.AcquirerReference,
		Replayed:          result.Replayed,
	}
}
