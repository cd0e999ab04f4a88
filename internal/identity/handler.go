package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type credentialsRequest struct {
	Phone    string `json:"phone"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

func (r credentialsRequest) credentials() Credentials {
	return Credentials{Phone: r.Phone, PIN: r.PIN, DeviceID: r.DeviceID}
}

type verifyPINRequest struct {
	UserID string `json:"user_id"`
	PIN    string `json:"pin"`
}

// userResponse never carries the PIN hash. UserID is the owner id of the
// user's balances.
type userResponse struct {
	UserID    string    `json:"user_id"`
	Phone     string    `json:"phone"`
	Tier      string    `json:"tier"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u User) userResponse {
	return userResponse{UserID: u.ID, Phone: u.Phone, Tier: u.Tier, DeviceID: u.DeviceID, CreatedAt: u.CreatedAt}
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), req.credentials())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toUserResponse(user))
}

// Authenticate verifies login credentials and binds the device on first use.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Authenticate(c.UserContext(), req.credentials())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toUserResponse(user))
}

// VerifyPIN lets a client confirm the PIN before submitting a withdrawal.
func (h *Handler) VerifyPIN(c *fiber.Ctx) error {
	var req verifyPINRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.VerifyPIN(c.UserContext(), req.UserID, req.PIN); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
