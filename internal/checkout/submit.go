package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"go.uber.org/zap"
)

// OutcomeEvent is the payload of the outbox event written when an attempt finishes.
type OutcomeEvent struct {
	CheckoutID  string    `json:"checkout_id"`
	AttemptID   string    `json:"attempt_id"`
	IdentityKey string    `json:"identity_key"`
	UserID      string    `json:"user_id,omitempty"`
	GuestID     string    `json:"guest_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Status      string    `json:"status"`
	Total       float64   `json:"total"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// onToken is invoked by the payment gateway once the widget answered.
func (s *Session) onToken(ctx context.Context, res TokenResult) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	log := logger.FromContext(ctx).With(zap.String("checkout_id", s.id))
	lines := s.cart.CheckoutLines()

	s.mu.Lock()
	if s.status != StatusAwaitingPaymentToken || s.attempt == nil {
		s.mu.Unlock()
		log.Warn("payment token arrived in unexpected state", zap.String("status", s.Status().String()))
		return
	}
	attempt := s.attempt

	if res.Err != nil || res.Token == "" {
		msg := "Payment could not be processed. Please check your card details and try again."
		s.status = StatusComputingTotals
		s.attempt = nil
		s.message = msg
		s.mu.Unlock()

		log.Info("payment tokenization failed", zap.Error(res.Err))
		s.abandon(ctx, attempt, msg)
		return
	}

	s.status = StatusSubmittingOrder
	form := s.form
	code := s.discount.code
	totals, _ := s.totalsLocked(lines)
	s.mu.Unlock()

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.UpdateAttemptStatus(ctx, attempt.ID, StatusSubmittingOrder.String()); err != nil {
			log.Error("failed to update attempt status", zap.Error(err))
		}
	}

	cartIDs := lineIDs(lines)
	req := backend.PaymentRequest{
		Token:        res.Token,
		UserID:       s.identity.UserID,
		GuestID:      s.identity.GuestID,
		CartIDs:      cartIDs,
		Customer:     customerOf(form),
		Subtotal:     pricing.Round2(totals.Subtotal),
		Shipping:     pricing.Round2(totals.Shipping),
		Tax:          pricing.Round2(totals.Tax),
		Discount:     pricing.Round2(totals.Discount),
		DiscountCode: code,
		Total:        pricing.Round2(totals.GrandTotal),
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	result, err := s.deps.Backend.SubmitPayment(submitCtx, s.identity, attempt.IdempotencyKey, req)
	cancel()

	if err != nil {
		span.RecordError(err)
	}
	if err == nil && (result.Success || result.OrderID != "") {
		s.succeed(ctx, attempt, form, cartIDs, req.Total, result)
		return
	}

	reason := result.Message
	if err != nil {
		reason = err.Error()
		log.Error("order submission failed", zap.Error(err))
	}
	if reason == "" {
		reason = "payment declined"
	}
	s.fail(ctx, attempt, cartIDs, req.Total, reason)
}

func (s *Session) succeed(ctx context.Context, attempt *ledger.Attempt, form Form, cartIDs []string, total float64, result backend.PaymentResult) {
	msg := "Thank you! Your order has been placed."

	s.mu.Lock()
	s.status = StatusOrderSucceeded
	s.orderID = result.OrderID
	s.message = msg
	s.mu.Unlock()

	logger.FromContext(ctx).Info("order placed",
		zap.String("checkout_id", s.id), zap.String("order_id", result.OrderID), zap.String("transaction_id", result.TransactionID))

	s.clearPurchased(ctx, cartIDs)

	s.sideEffect(ctx, "order confirmation", func(ctx context.Context) error {
		return s.deps.Backend.SendOrderConfirmation(ctx, backend.OrderConfirmation{
			Email:   form.Email,
			OrderID: result.OrderID,
			Name:    form.FirstName + " " + form.LastName,
			Total:   total,
		})
	})

	s.complete(ctx, attempt, StatusOrderSucceeded, EventCheckoutSucceeded, result.OrderID, msg, total)
}

func (s *Session) fail(ctx context.Context, attempt *ledger.Attempt, cartIDs []string, total float64, reason string) {
	msg := "Your order could not be completed: " + reason

	s.mu.Lock()
	s.status = StatusOrderFailed
	s.message = msg
	s.mu.Unlock()

	s.sideEffect(ctx, "mark checkout failed", func(ctx context.Context) error {
		return s.deps.Backend.MarkCheckoutFailed(ctx, s.identity, backend.CheckoutFailure{
			UserID:  s.identity.UserID,
			GuestID: s.identity.GuestID,
			CartIDs: cartIDs,
			Reason:  reason,
		})
	})

	s.complete(ctx, attempt, StatusOrderFailed, EventCheckoutFailed, "", msg, total)
}

// clearPurchased drops the bought lines and the saved checkout form of this identity.
func (s *Session) clearPurchased(ctx context.Context, cartIDs []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)
	defer cancel()
	log := logger.FromContext(ctx).With(zap.String("checkout_id", s.id))

	if s.deps.Purchases != nil {
		if err := s.deps.Purchases.CompletePurchase(ctx, s.identity, cartIDs); err != nil {
			log.Warn("failed to clear purchased lines", zap.Error(err))
		}
	}
	if s.deps.State != nil {
		err := s.deps.State.Delete(ctx, persist.OrderStorage, s.identity.Key())
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			log.Warn("failed to drop saved checkout form", zap.Error(err))
		}
	}
}

// abandon closes the attempt of a payment request that never produced a token.
func (s *Session) abandon(ctx context.Context, attempt *ledger.Attempt, msg string) {
	s.complete(ctx, attempt, StatusOrderFailed, EventCheckoutAbandoned, "", msg, 0)
}

func (s *Session) complete(ctx context.Context, attempt *ledger.Attempt, status Status, eventType, orderID, msg string, total float64) {
	if s.deps.Ledger == nil || attempt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)
	defer cancel()

	payload, err := json.Marshal(OutcomeEvent{
		CheckoutID:  s.id,
		AttemptID:   attempt.ID,
		IdentityKey: s.identity.Key(),
		UserID:      s.identity.UserID,
		GuestID:     s.identity.GuestID,
		OrderID:     orderID,
		Status:      status.String(),
		Total:       total,
		Message:     msg,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to marshal outcome event", zap.Error(err))
		return
	}

	err = s.deps.Ledger.CompleteAttempt(ctx, attempt.ID, ledger.Outcome{
		Status:    status.String(),
		OrderID:   orderID,
		Message:   msg,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to complete checkout attempt",
			zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
}

// sideEffect runs fn in the background. Its failure is logged and never changes the outcome.
func (s *Session) sideEffect(ctx context.Context, name string, fn func(context.Context) error) {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)

	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn("side effect failed", zap.String("effect", name), zap.String("checkout_id", s.id), zap.Error(err))
		}
	}()
}

func lineIDs(lines []domain.CartLine) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	return ids
}

func customerOf(f Form) backend.Customer {
	return backend.Customer{
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Phone:     f.Phone,
		Address:   f.Street,
		Apartment: f.Apartment,
		City:      f.City,
		State:     f.State,
		Zip:       f.Zip,
		Country:   f.Country,
	}
}
