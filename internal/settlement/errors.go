package settlement

import (
	"errors"
	"fmt"

	"tpotp2p/internal/models"
	"tpotp2p/internal/verify"
)

var (
	// ErrValidation covers malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized means the caller is not permitted to drive this
	// transition (wrong wallet for a maker/taker/arbiter action).
	ErrUnauthorized = errors.New("caller not authorized")
)

// ConflictError reports a transition attempted from an unexpected state.
// It carries the authoritative current order so the caller can reconcile;
// the system never lies about state.
type ConflictError struct {
	Current *models.Order
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s is in status %s", e.Current.ID, e.Current.Status)
}

// VerificationError is a rejected evidence submission. The order state is
// unchanged; the caller may resubmit a corrected hash.
type VerificationError struct {
	Code verify.Code
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: %s", e.Code)
}
