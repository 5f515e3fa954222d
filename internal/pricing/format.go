package pricing

import "github.com/shopspring/decimal"

// FormatCurrency renders an amount as dollars with two decimals, e.g. "$12.50".
func FormatCurrency(amount float64) string {
	return "$" + decimal.NewFromFloat(amount).StringFixed(2)
}

// Round2 rounds half away from zero to cents.
func Round2(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}
