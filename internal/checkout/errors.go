package checkout

import (
	"errors"
	"strings"
)

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrIllegalTransition    = errors.New("illegal transition of checkout status")
	ErrNotVerified          = errors.New("age verification declined")
	ErrSubmissionInProgress = errors.New("checkout submission already in progress")
	ErrCheckoutFinished     = errors.New("checkout already finished")
	ErrNoSession            = errors.New("no checkout session")
	ErrGatewayUnavailable   = errors.New("payment gateway is not configured")
	ErrNoPendingRequest     = errors.New("no pending payment request for checkout")
)

// ValidationError lists every problem found in the checkout form.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid checkout form: " + strings.Join(e.Problems, "; ")
}
