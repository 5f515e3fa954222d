package checkout

import (
	"context"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
)

// Backend is the part of the REST client checkout talks to.
type Backend interface {
	CalculateTax(ctx context.Context, req backend.TaxRequest) (backend.TaxQuote, error)
	DiscountByCode(ctx context.Context, code string) (backend.Discount, error)
	ServicePricing(ctx context.Context) (backend.ServicePricing, error)
	SubmitPayment(ctx context.Context, id domain.Identity, idempotencyKey string, req backend.PaymentRequest) (backend.PaymentResult, error)
	SendOrderConfirmation(ctx context.Context, req backend.OrderConfirmation) error
	MarkCheckoutFailed(ctx context.Context, id domain.Identity, req backend.CheckoutFailure) error
}

type Ledger interface {
	GetAttemptByIdempotencyKey(ctx context.Context, key string) (*ledger.Attempt, error)
	CreateAttempt(ctx context.Context, a *ledger.Attempt) error
	UpdateAttemptStatus(ctx context.Context, id, status string) error
	CompleteAttempt(ctx context.Context, id string, out ledger.Outcome) error
}

// CartSource supplies the lines being purchased; *cart.Store implements it.
type CartSource interface {
	CheckoutLines() []domain.CartLine
}

// PurchaseRecorder takes paid lines out of the buyer's cart; *cart.Registry implements it.
type PurchaseRecorder interface {
	CompletePurchase(ctx context.Context, id domain.Identity, lineIDs []string) error
}

// AgeResult is what the age-verification widget reports.
type AgeResult struct {
	Verified bool `json:"verified"`
	// WidgetFailed means the widget could not be loaded; verification is then treated as done.
	WidgetFailed bool `json:"widget_failed"`
}

type GatewayConfig struct {
	TokenizationKey string
}

// PaymentRequest asks the tokenization widget for a token covering Amount.
type PaymentRequest struct {
	CheckoutID string  `json:"checkout_id"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

type TokenResult struct {
	Token string
	Err   error
}

// TokenCallback receives the widget's answer for one payment request.
type TokenCallback func(ctx context.Context, result TokenResult)

// PaymentGateway is the payment tokenization widget.
type PaymentGateway interface {
	Configure(cfg GatewayConfig) error
	StartPaymentRequest(ctx context.Context, req PaymentRequest, cb TokenCallback) error
}
