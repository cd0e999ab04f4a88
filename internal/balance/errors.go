package balance

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks failures of the backing store itself. These are
// never retried internally; the caller decides.
var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError wraps err so that errors.Is(err, ErrStoreUnavailable) holds while
// the original cause stays reachable.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ErrInvalidInput marks requests rejected before any balance is touched.
var ErrInvalidInput = errors.New("invalid input")

// Invalid builds an error matching ErrInvalidInput.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
