package subscription

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes subscription endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type renewRequest struct {
	OwnerID string `json:"owner_id"`
	Plan    string `json:"plan"`
	Cycle   string `json:"cycle"`
}

// Renew charges one billing cycle.
func (h *Handler) Renew(c *fiber.Ctx) error {
	var req renewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Renew(c.UserContext(), Renewal{OwnerID: req.OwnerID, PlanCode: req.Plan, Cycle: req.Cycle})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transfer_id": res.TransferID,
		"plan":        res.Plan.Code,
		"price":       res.Plan.Price,
		"currency":    res.Plan.Currency,
		"balance":     res.Balance,
		"replayed":    res.Replayed,
	})
}

// Plans lists the plan catalogue.
func (h *Handler) Plans(c *fiber.Ctx) error {
	plans := h.service.Plans()
	out := make([]fiber.Map, len(plans))
	for i, p := range plans {
		out[i] = fiber.Map{"code": p.Code, "currency": p.Currency, "price": p.Price}
	}
	return c.JSON(out)
}
