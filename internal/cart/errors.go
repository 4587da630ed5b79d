package cart

import "fmt"

// Sentinel errors for precondition failures. Both are detected before any
// network call is made.
var (
	ErrNoSession        = fmt.Errorf("no active cart session")
	ErrEmptyVariant     = fmt.Errorf("variant id required")
	ErrInvalidDirection = fmt.Errorf("direction must be increase or decrease")
)

// InvalidQuantityError indicates an operation received a non-positive quantity.
type InvalidQuantityError struct {
	VariantID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for variant %s, got %d", e.VariantID, e.Quantity)
}

// GatewayError indicates the remote cart service rejected or failed a call.
// It is surfaced to the caller for display; local cart state is left at the
// last known good snapshot.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("cart gateway: %d %s", e.Status, e.Message)
}
