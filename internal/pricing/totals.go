// Package pricing computes line totals, shipping, tax, discount and grand totals.
// All amounts are float64 and are only rounded when formatted for display.
package pricing

import "github.com/SaifulET/ciger-storefront/internal/domain"

// ShippingConfig decides between free and flat-fee shipping.
type ShippingConfig struct {
	FreeShippingThreshold float64 `json:"free_shipping_threshold"`
	FlatShippingFee       float64 `json:"flat_shipping_fee"`
}

// TotalsInput carries everything besides the lines that the totals depend on.
type TotalsInput struct {
	Shipping        ShippingConfig
	Tax             float64
	TaxRate         float64
	DiscountPercent float64
}

// CheckoutTotals is derived on every read and never persisted.
type CheckoutTotals struct {
	Subtotal        float64 `json:"subtotal"`
	Shipping        float64 `json:"shipping"`
	Tax             float64 `json:"tax"`
	TaxRate         float64 `json:"tax_rate"`
	Discount        float64 `json:"discount"`
	DiscountPercent float64 `json:"discount_percent"`
	GrandTotal      float64 `json:"grand_total"`
}

func LineTotal(unitPrice float64, quantity int) float64 {
	return unitPrice * float64(quantity)
}

// Subtotal sums unit price × quantity over every given line.
func Subtotal(lines []domain.CartLine) float64 {
	var subtotal float64
	for _, l := range lines {
		subtotal += LineTotal(l.Product.Price, l.Quantity)
	}
	return subtotal
}

func Shipping(subtotal float64, cfg ShippingConfig) float64 {
	if subtotal >= cfg.FreeShippingThreshold {
		return 0
	}
	return cfg.FlatShippingFee
}

func Discount(subtotal, percent float64) float64 {
	return subtotal * percent / 100
}

// FallbackTax applies a fixed percentage when no remote tax amount is available.
func FallbackTax(subtotal, percent float64) float64 {
	return subtotal * percent / 100
}

func GrandTotal(subtotal, shipping, tax, discount float64) float64 {
	return subtotal + shipping + tax - discount
}

func Compute(lines []domain.CartLine, in TotalsInput) CheckoutTotals {
	subtotal := Subtotal(lines)
	shipping := Shipping(subtotal, in.Shipping)
	discount := Discount(subtotal, in.DiscountPercent)

	return CheckoutTotals{
		Subtotal:        subtotal,
		Shipping:        shipping,
		Tax:             in.Tax,
		TaxRate:         in.TaxRate,
		Discount:        discount,
		DiscountPercent: in.DiscountPercent,
		GrandTotal:      GrandTotal(subtotal, shipping, in.Tax, discount),
	}
}
