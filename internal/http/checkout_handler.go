package http

import (
	"context"
	"net/http"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/domain"
)

type CheckoutManager interface {
	Start(ctx context.Context, id domain.Identity) (*checkout.Session, error)
	Get(id domain.Identity) (*checkout.Session, error)
}

// TokenSink receives the payment widget's answers posted back by the browser.
type TokenSink interface {
	Deliver(ctx context.Context, checkoutID, token, errMsg string) error
	TokenizationKey() string
}

type CheckoutHandler struct {
	checkouts CheckoutManager
	tokens    TokenSink
	timeout   time.Duration
	maxBody   int64
}

func NewCheckoutHandler(checkouts CheckoutManager, tokens TokenSink, timeout time.Duration, maxBody int64) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		tokens:    tokens,
		timeout:   timeout,
		maxBody:   maxBody,
	}
}

type DiscountRequestDTO struct {
	Code string `json:"code"`
}

type SubmitRequestDTO struct {
	Form           checkout.Form `json:"form"`
	IdempotencyKey string        `json:"idempotency_key"`
}

type PaymentTokenRequestDTO struct {
	CheckoutID string `json:"checkout_id"`
	Token      string `json:"token"`
	Error      string `json:"error"`
}

type PaymentConfigDTO struct {
	TokenizationKey string `json:"tokenization_key"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.checkouts.Start(ctx, getIdentity(r.Context()))
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.View())
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.View())
}

// GET /api/v1/checkout/payment-config
func (h *CheckoutHandler) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PaymentConfigDTO{TokenizationKey: h.tokens.TokenizationKey()})
}

// POST /api/v1/checkout/age
func (h *CheckoutHandler) VerifyAge(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req checkout.AgeResult
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if err := s.VerifyAge(r.Context(), req); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.View())
}

// PUT /api/v1/checkout/address
func (h *CheckoutHandler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req checkout.Address
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if err := s.UpdateAddress(r.Context(), req); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.View())
}

// PUT /api/v1/checkout/form
func (h *CheckoutHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req checkout.Form
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if err := s.UpdateForm(r.Context(), req); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.View())
}

// POST /api/v1/checkout/discount
func (h *CheckoutHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req DiscountRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	s.ApplyDiscount(ctx, req.Code)
	respondJSON(w, http.StatusOK, s.View())
}

// POST /api/v1/checkout/submit
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SubmitRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_idempotency_key", "idempotency_key is required")
		return
	}

	res, err := s.Submit(ctx, req.Form, key)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// POST /api/v1/checkout/payment-token delivers the tokenization widget's answer.
func (h *CheckoutHandler) PaymentToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req PaymentTokenRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if req.CheckoutID != s.ID() {
		respondError(w, http.StatusNotFound, "no_checkout", "unknown checkout_id")
		return
	}
	if req.Token == "" && req.Error == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "token or error is required")
		return
	}

	if err := h.tokens.Deliver(ctx, req.CheckoutID, req.Token, req.Error); err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Result())
}

// GET /api/v1/checkout/result
func (h *CheckoutHandler) Result(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Result())
}

func (h *CheckoutHandler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	s, err := h.checkouts.Get(getIdentity(r.Context()))
	if err != nil {
		handleError(r.Context(), w, err)
		return nil, false
	}
	return s, true
}
