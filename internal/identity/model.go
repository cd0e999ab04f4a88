package identity

import (
	"errors"
	"time"
)

var (
	ErrUserExists     = errors.New("user already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidPIN     = errors.New("invalid PIN")
	ErrDeviceMismatch = errors.New("device mismatch")
	ErrDeviceRequired = errors.New("device binding required")
	ErrWeakPIN        = errors.New("PIN must be at least 4 digits")
)

// User represents a registered account holder. ID doubles as the owner of
// the user's balances.
type User struct {
	ID        string
	Phone     string
	Tier      string
	PINHash   []byte
	DeviceID  string
	CreatedAt time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}
