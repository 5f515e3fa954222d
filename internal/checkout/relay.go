package checkout

import (
	"context"
	"errors"
	"sync"
)

// TokenRelay is the server side of the tokenization widget. A payment request registers a
// callback; the browser posts the widget's answer back and Deliver hands it over.
type TokenRelay struct {
	mu      sync.Mutex
	key     string
	pending map[string]pendingRequest
}

type pendingRequest struct {
	req PaymentRequest
	cb  TokenCallback
}

func NewTokenRelay() *TokenRelay {
	return &TokenRelay{pending: make(map[string]pendingRequest)}
}

func (r *TokenRelay) Configure(cfg GatewayConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.key = cfg.TokenizationKey
	return nil
}

func (r *TokenRelay) TokenizationKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// StartPaymentRequest replaces any earlier pending request for the same checkout.
func (r *TokenRelay) StartPaymentRequest(_ context.Context, req PaymentRequest, cb TokenCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == "" {
		return ErrGatewayUnavailable
	}
	r.pending[req.CheckoutID] = pendingRequest{req: req, cb: cb}
	return nil
}

// Pending returns the outstanding payment request of a checkout.
func (r *TokenRelay) Pending(checkoutID string) (PaymentRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[checkoutID]
	return p.req, ok
}

// Deliver passes the widget's answer to the waiting checkout and returns once it was handled.
// A non-empty errMsg reports a tokenization failure.
func (r *TokenRelay) Deliver(ctx context.Context, checkoutID, token, errMsg string) error {
	r.mu.Lock()
	p, ok := r.pending[checkoutID]
	delete(r.pending, checkoutID)
	r.mu.Unlock()

	if !ok {
		return ErrNoPendingRequest
	}

	res := TokenResult{Token: token}
	if errMsg != "" {
		res = TokenResult{Err: errors.New(errMsg)}
	}
	p.cb(ctx, res)
	return nil
}
