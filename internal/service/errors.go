package service

import "errors"

// Failure taxonomy for downstream calls. ErrUnavailable is the only
// transient kind; everything else is a definitive business failure that is
// never retried.
var (
	ErrUnavailable         = errors.New("service unavailable")
	ErrItemUnavailable     = errors.New("item unavailable")
	ErrShippingNotPossible = errors.New("shipping not possible to address")
	ErrPaymentDetails      = errors.New("payment details invalid")
)

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
