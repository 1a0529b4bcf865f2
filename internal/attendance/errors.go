package attendance

import (
	"errors"
	"fmt"

	"classattend/internal/docstore"
	"classattend/internal/metrics"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrSessionClosed    = errors.New("session closed")
	ErrCodeMismatch     = errors.New("code mismatch")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrAlreadyEnrolled  = errors.New("already enrolled")
)

// storeErr maps a document store failure onto the core's error kinds.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, docstore.ErrBadPath):
		return fmt.Errorf("%s: %w: %v", op, ErrValidation, err)
	}
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
