// Package checkout sequences a purchase: age gate, totals (debounced tax lookup and discount
// code), payment token from the tokenization widget, order submission and its outcome.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/SaifulET/ciger-storefront/internal/checkout")

const (
	EventCheckoutSucceeded = "CheckoutSucceeded"
	EventCheckoutFailed    = "CheckoutFailed"
	EventCheckoutAbandoned = "CheckoutAbandoned"
)

type Config struct {
	Shipping           pricing.ShippingConfig
	TaxFallbackPercent float64
	TaxDebounce        time.Duration
	RequestTimeout     time.Duration
	SideEffectTimeout  time.Duration
	Currency           string
}

func (c *Config) withDefaults() {
	if c.TaxDebounce <= 0 {
		c.TaxDebounce = 300 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SideEffectTimeout <= 0 {
		c.SideEffectTimeout = 15 * time.Second
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
}

type Deps struct {
	Backend Backend
	Ledger  Ledger
	Gateway PaymentGateway
	State   persist.Store

	// Purchases, when set, clears the bought lines as soon as an order succeeds.
	Purchases PurchaseRecorder
}

// View is the checkout as rendered.
type View struct {
	CheckoutID      string                 `json:"checkout_id"`
	Status          Status                 `json:"status"`
	AgeVerified     bool                   `json:"age_verified"`
	Form            Form                   `json:"form"`
	Lines           []domain.CartLine      `json:"lines"`
	Totals          pricing.CheckoutTotals `json:"totals"`
	GrandTotal      string                 `json:"grand_total"`
	TaxMessage      string                 `json:"tax_message,omitempty"`
	DiscountCode    string                 `json:"discount_code,omitempty"`
	DiscountMessage string                 `json:"discount_message,omitempty"`
	Message         string                 `json:"message,omitempty"`
	OrderID         string                 `json:"order_id,omitempty"`
}

// SubmitResult describes a submission; Duplicate is set when the idempotency key was seen before.
type SubmitResult struct {
	CheckoutID     string `json:"checkout_id"`
	AttemptID      string `json:"attempt_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         Status `json:"status"`
	OrderID        string `json:"order_id,omitempty"`
	Message        string `json:"message,omitempty"`
	Duplicate      bool   `json:"duplicate"`
}

// orderState is the order-storage document.
type orderState struct {
	Form         Form   `json:"form"`
	DiscountCode string `json:"discount_code"`
	AgeVerified  bool   `json:"age_verified"`
}

// Session is one identity's checkout. It is safe for concurrent use.
type Session struct {
	id       string
	identity domain.Identity
	cart     CartSource
	deps     Deps
	cfg      Config

	baseCtx context.Context
	cancel  context.CancelFunc
	taxes   *Debouncer
	effects sync.WaitGroup

	mu          sync.Mutex
	status      Status
	ageVerified bool
	form        Form
	tax         taxState
	discount    discountState
	message     string
	orderID     string
	attempt     *ledger.Attempt
}

func NewSession(identity domain.Identity, cart CartSource, deps Deps, cfg Config) *Session {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       uuid.New().String(),
		identity: identity,
		cart:     cart,
		deps:     deps,
		cfg:      cfg,
		baseCtx:  ctx,
		cancel:   cancel,
		taxes:    NewDebouncer(cfg.TaxDebounce),
		status:   StatusAwaitingAgeVerification,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Restore loads the persisted form, discount code and age flag.
func (s *Session) Restore(ctx context.Context) error {
	if s.deps.State == nil {
		return nil
	}
	var doc orderState
	err := s.deps.State.Load(ctx, persist.OrderStorage, s.identity.Key(), &doc)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore checkout: %w", err)
	}

	s.mu.Lock()
	s.form = doc.Form
	s.ageVerified = doc.AgeVerified
	if doc.AgeVerified && s.status == StatusAwaitingAgeVerification {
		s.status = StatusComputingTotals
	}
	s.mu.Unlock()

	if doc.DiscountCode != "" {
		s.ApplyDiscount(ctx, doc.DiscountCode)
	}
	s.scheduleTax()
	return nil
}

// VerifyAge records the age widget's answer. A widget that failed to load counts as verified.
func (s *Session) VerifyAge(ctx context.Context, res AgeResult) error {
	s.mu.Lock()
	if !res.Verified && !res.WidgetFailed {
		s.message = "You must be of legal age to purchase these products."
		s.mu.Unlock()
		return ErrNotVerified
	}
	if res.WidgetFailed {
		logger.FromContext(ctx).Warn("age verification widget unavailable, continuing",
			zap.String("checkout_id", s.id))
	}
	s.ageVerified = true
	if s.status == StatusAwaitingAgeVerification {
		s.status = StatusComputingTotals
	}
	s.message = ""
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// UpdateAddress stores the shipping address and schedules a tax lookup.
func (s *Session) UpdateAddress(ctx context.Context, addr Address) error {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return ErrCheckoutFinished
	}
	s.form.SetAddress(addr)
	s.mu.Unlock()

	s.persist(ctx)
	s.scheduleTax()
	return nil
}

// UpdateForm replaces the stored form. A changed address schedules a tax lookup.
func (s *Session) UpdateForm(ctx context.Context, form Form) error {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return ErrCheckoutFinished
	}
	changed := s.form.Address() != form.Address()
	s.form = form
	s.mu.Unlock()

	s.persist(ctx)
	if changed {
		s.scheduleTax()
	}
	return nil
}

// Totals recomputes the totals over the cart's checkout lines. A subtotal or shipping change
// since the last tax lookup schedules a new one.
func (s *Session) Totals() pricing.CheckoutTotals {
	lines := s.cart.CheckoutLines()

	s.mu.Lock()
	totals, stale := s.totalsLocked(lines)
	s.mu.Unlock()

	if stale {
		s.scheduleTax()
	}
	return totals
}

func (s *Session) View() View {
	lines := s.cart.CheckoutLines()

	s.mu.Lock()
	totals, stale := s.totalsLocked(lines)
	v := View{
		CheckoutID:      s.id,
		Status:          s.status,
		AgeVerified:     s.ageVerified,
		Form:            s.form,
		Lines:           lines,
		Totals:          totals,
		GrandTotal:      pricing.FormatCurrency(totals.GrandTotal),
		TaxMessage:      s.tax.message,
		DiscountCode:    s.discount.code,
		DiscountMessage: s.discount.message,
		Message:         s.message,
		OrderID:         s.orderID,
	}
	s.mu.Unlock()

	if stale {
		s.scheduleTax()
	}
	return v
}

func (s *Session) totalsLocked(lines []domain.CartLine) (pricing.CheckoutTotals, bool) {
	subtotal := pricing.Subtotal(lines)
	shipping := pricing.Shipping(subtotal, s.cfg.Shipping)

	tax, rate := s.tax.resolve(subtotal, s.cfg.TaxFallbackPercent)
	totals := pricing.Compute(lines, pricing.TotalsInput{
		Shipping:        s.cfg.Shipping,
		Tax:             tax,
		TaxRate:         rate,
		DiscountPercent: s.discount.percent,
	})

	stale := !s.status.IsTerminal() && (s.tax.subtotal != subtotal || s.tax.shipping != shipping)
	return totals, stale
}

// Submit validates the form and starts the payment request. The order itself is placed when
// the gateway delivers a token. Submissions are deduplicated by idempotencyKey.
func (s *Session) Submit(ctx context.Context, form Form, idempotencyKey string) (SubmitResult, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}
	ctx, span := tracer.Start(ctx, "checkout.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.id", s.id))

	log := logger.FromContext(ctx).With(zap.String("checkout_id", s.id), zap.String("idempotency_key", idempotencyKey))

	if s.deps.Ledger != nil {
		existing, err := s.deps.Ledger.GetAttemptByIdempotencyKey(ctx, idempotencyKey)
		if err != nil && !errors.Is(err, ledger.ErrAttemptNotFound) {
			return SubmitResult{}, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			log.Info("duplicate checkout submission", zap.String("attempt_id", existing.ID), zap.String("status", existing.Status))
			return s.resultFrom(existing, true), nil
		}
	}

	lines := s.cart.CheckoutLines()

	s.mu.Lock()
	switch {
	case s.status.IsTerminal():
		s.mu.Unlock()
		return SubmitResult{}, ErrCheckoutFinished
	case s.status == StatusAwaitingPaymentToken || s.status == StatusSubmittingOrder:
		s.mu.Unlock()
		return SubmitResult{}, ErrSubmissionInProgress
	}

	if problems := validateForm(form, s.ageVerified); len(problems) > 0 {
		s.form = form
		s.message = "Please fix the highlighted fields."
		s.mu.Unlock()
		return SubmitResult{}, &ValidationError{Problems: problems}
	}
	if len(lines) == 0 {
		s.mu.Unlock()
		return SubmitResult{}, ErrEmptyCart
	}
	if !s.status.CanTransitionTo(StatusAwaitingPaymentToken) {
		s.mu.Unlock()
		return SubmitResult{}, ErrIllegalTransition
	}

	addressChanged := s.form.Address() != form.Address()
	s.form = form
	totals, _ := s.totalsLocked(lines)
	attempt := &ledger.Attempt{
		ID:             uuid.New().String(),
		IdempotencyKey: idempotencyKey,
		IdentityKey:    s.identity.Key(),
		Status:         StatusAwaitingPaymentToken.String(),
	}
	if raw, err := json.Marshal(totals); err == nil {
		attempt.Totals = raw
	}
	s.status = StatusAwaitingPaymentToken
	s.attempt = attempt
	s.message = ""
	s.mu.Unlock()

	if addressChanged {
		s.scheduleTax()
	}
	s.persist(ctx)

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.CreateAttempt(ctx, attempt); err != nil {
			s.rollbackToForm("")
			if errors.Is(err, ledger.ErrDuplicateAttempt) {
				if existing, getErr := s.deps.Ledger.GetAttemptByIdempotencyKey(ctx, idempotencyKey); getErr == nil {
					return s.resultFrom(existing, true), nil
				}
			}
			return SubmitResult{}, fmt.Errorf("record checkout attempt: %w", err)
		}
	}

	req := PaymentRequest{CheckoutID: s.id, Amount: pricing.Round2(totals.GrandTotal), Currency: s.cfg.Currency}
	if err := s.deps.Gateway.StartPaymentRequest(ctx, req, s.onToken); err != nil {
		log.Warn("payment request could not be started", zap.Error(err))
		msg := "Payment is currently unavailable. Please try again."
		s.rollbackToForm(msg)
		s.abandon(ctx, attempt, msg)
		return SubmitResult{}, fmt.Errorf("start payment request: %w", err)
	}

	log.Info("awaiting payment token", zap.String("attempt_id", attempt.ID), zap.Float64("amount", req.Amount))
	return SubmitResult{
		CheckoutID:     s.id,
		AttemptID:      attempt.ID,
		IdempotencyKey: idempotencyKey,
		Status:         StatusAwaitingPaymentToken,
	}, nil
}

// Result reports the current submission state.
func (s *Session) Result() SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := SubmitResult{CheckoutID: s.id, Status: s.status, OrderID: s.orderID, Message: s.message}
	if s.attempt != nil {
		res.AttemptID = s.attempt.ID
		res.IdempotencyKey = s.attempt.IdempotencyKey
	}
	return res
}

// Wait blocks until the fire-and-forget side effects started so far have finished.
func (s *Session) Wait() {
	s.effects.Wait()
}

// Close cancels pending tax lookups and waits for side effects.
func (s *Session) Close() {
	s.taxes.Stop()
	s.cancel()
	s.effects.Wait()
}

func (s *Session) rollbackToForm(msg string) {
	s.mu.Lock()
	if s.status.CanTransitionTo(StatusComputingTotals) {
		s.status = StatusComputingTotals
	}
	s.attempt = nil
	s.message = msg
	s.mu.Unlock()
}

func (s *Session) resultFrom(a *ledger.Attempt, duplicate bool) SubmitResult {
	return SubmitResult{
		CheckoutID:     s.id,
		AttemptID:      a.ID,
		IdempotencyKey: a.IdempotencyKey,
		Status:         Status(a.Status),
		OrderID:        a.OrderID,
		Message:        a.Message,
		Duplicate:      duplicate,
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.deps.State == nil {
		return
	}
	s.mu.Lock()
	doc := orderState{Form: s.form, DiscountCode: s.discount.code, AgeVerified: s.ageVerified}
	s.mu.Unlock()

	if err := s.deps.State.Save(ctx, persist.OrderStorage, s.identity.Key(), doc); err != nil {
		logger.FromContext(ctx).Warn("persist checkout form failed", zap.Error(err))
	}
}
