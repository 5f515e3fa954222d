package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/SaifulET/ciger-storefront/internal/domain"
)

func (c *Client) CalculateTax(ctx context.Context, req TaxRequest) (TaxQuote, error) {
	var out TaxQuote
	err := c.do(ctx, request{method: http.MethodPost, path: "/tax/calculateTax", body: req}, &out)
	return out, err
}

// DiscountByCode looks up a discount code; unknown codes come back as ErrNotFound or ErrRejected.
func (c *Client) DiscountByCode(ctx context.Context, code string) (Discount, error) {
	var out Discount
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/discount/getDiscountByCode/" + url.PathEscape(code),
	}, &out)
	return out, err
}

func (c *Client) ServicePricing(ctx context.Context) (ServicePricing, error) {
	var out ServicePricing
	err := c.do(ctx, request{method: http.MethodGet, path: "/servicePricing/getServicePricing"}, &out)
	return out, err
}

// SubmitPayment places the order. idempotencyKey is forwarded so a resubmitted form is not charged twice.
func (c *Client) SubmitPayment(ctx context.Context, id domain.Identity, idempotencyKey string, req PaymentRequest) (PaymentResult, error) {
	var out PaymentResult
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/payment/payment",
		token:   id.Token,
		headers: map[string]string{"Idempotency-Key": idempotencyKey},
		body:    req,
	}, &out)
	return out, err
}

func (c *Client) SendOrderConfirmation(ctx context.Context, req OrderConfirmation) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/mail/orderConfirmation", body: req}, nil)
}

func (c *Client) MarkCheckoutFailed(ctx context.Context, id domain.Identity, req CheckoutFailure) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/order/checkoutFailed", token: id.Token, body: req}, nil)
}
