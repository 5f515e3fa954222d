package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"go.uber.org/zap"
)

// taxState is the latest applied tax lookup and the inputs it was computed for.
type taxState struct {
	amount   float64
	rate     float64
	remote   bool
	message  string
	seq      uint64
	subtotal float64
	shipping float64
}

// resolve returns the tax amount and display rate. Without a usable remote amount the
// fallback percentage applies to subtotal.
func (t taxState) resolve(subtotal, fallbackPercent float64) (float64, float64) {
	if t.remote && t.amount > 0 {
		return t.amount, t.rate
	}
	return pricing.FallbackTax(subtotal, fallbackPercent), fallbackPercent
}

type discountState struct {
	code    string
	percent float64
	message string
}

func (s *Session) scheduleTax() {
	s.taxes.Trigger(s.lookupTax)
}

// lookupTax asks the tax service for the current address and amounts. Only the newest
// lookup is applied.
func (s *Session) lookupTax() {
	lines := s.cart.CheckoutLines()
	subtotal := pricing.Subtotal(lines)
	shipping := pricing.Shipping(subtotal, s.cfg.Shipping)

	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.tax.seq++
	seq := s.tax.seq
	addr := s.form.Address()
	s.mu.Unlock()

	fallback := fmt.Sprintf("Using estimated tax of %s%%", strconv.FormatFloat(s.cfg.TaxFallbackPercent, 'f', -1, 64))

	if !addr.complete() || subtotal <= 0 {
		s.applyTax(seq, subtotal, shipping, taxState{message: fallback})
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()

	quote, err := s.deps.Backend.CalculateTax(ctx, backend.TaxRequest{
		Country:  addr.Country,
		Zip:      addr.Zip,
		State:    addr.State,
		City:     addr.City,
		Street:   addr.Street,
		Subtotal: subtotal,
		Shipping: shipping,
	})
	switch {
	case err != nil:
		logger.FromContext(ctx).Warn("tax lookup failed, using fallback rate",
			zap.String("checkout_id", s.id), zap.Error(err))
		s.applyTax(seq, subtotal, shipping, taxState{message: fallback})
	case quote.Tax <= 0:
		s.applyTax(seq, subtotal, shipping, taxState{message: fallback})
	default:
		rate := quote.Rate
		if rate <= 0 {
			rate = quote.Tax / subtotal * 100
		}
		s.applyTax(seq, subtotal, shipping, taxState{amount: quote.Tax, rate: rate, remote: true})
	}
}

func (s *Session) applyTax(seq uint64, subtotal, shipping float64, next taxState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.tax.seq {
		return
	}
	next.seq = seq
	next.subtotal = subtotal
	next.shipping = shipping
	s.tax = next
}

// ApplyDiscount looks the code up and applies its percentage. An unknown code or a failed
// lookup leaves the discount at zero and sets a message; it is never an error.
func (s *Session) ApplyDiscount(ctx context.Context, code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.mu.Lock()
		s.discount = discountState{}
		s.mu.Unlock()
		s.persist(ctx)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	d, err := s.deps.Backend.DiscountByCode(lookupCtx, code)

	s.mu.Lock()
	switch {
	case err != nil:
		logger.FromContext(ctx).Info("discount code rejected", zap.String("code", code), zap.Error(err))
		s.discount = discountState{message: "Invalid or expired discount code"}
	case d.Percentage <= 0 || d.Percentage > 100:
		s.discount = discountState{message: "Invalid or expired discount code"}
	default:
		s.discount = discountState{code: code, percent: d.Percentage, message: "Discount applied"}
	}
	s.mu.Unlock()

	s.persist(ctx)
}
