package order

import (
	"errors"
	"fmt"
)

// Expected business failures are typed so handlers can map them to stable
// API codes. Unexpected errors pass through wrapped.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrZeroPaymentAmount = errors.New("order total must be greater than zero")
	ErrNotSponsorship    = errors.New("order is not a sponsorship")
	ErrAuthorization     = errors.New("actor is not authorized for this operation")
)

// ValidationError reports malformed or out-of-range input, surfaced verbatim
// to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, v ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, v...)}
}

// QuantityExceedsLimitError reports an item quantity over the organization's
// remaining quota for a product.
type QuantityExceedsLimitError struct {
	ProductID string
	Requested int
	Remaining int
}

func (e *QuantityExceedsLimitError) Error() string {
	return fmt.Sprintf("quantity %d exceeds remaining quota %d for product %s",
		e.Requested, e.Remaining, e.ProductID)
}

// InvalidStateTransitionError reports an operation that is not legal in the
// order's current state, detected before any write.
type InvalidStateTransitionError struct {
	OrderID string
	Status  Status
	Op      string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %s in status %s", e.Op, e.OrderID, e.Status)
}

// ExternalServiceError wraps a failure from a consumed collaborator (payment
// processor, notification sender).
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
