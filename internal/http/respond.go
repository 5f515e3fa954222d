package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/cart"
	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads at most limit bytes of JSON into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// handleError maps domain and backend errors to HTTP status codes.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "checkout form is invalid",
			Code:    "validation_failed",
			Details: strings.Join(verr.Problems, "; "),
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, cart.ErrLineNotFound), errors.Is(err, backend.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, checkout.ErrNoSession):
		httpStatus, code = http.StatusNotFound, "no_checkout"
	case errors.Is(err, cart.ErrNothingSelected):
		httpStatus, code = http.StatusBadRequest, "nothing_selected"
	case errors.Is(err, checkout.ErrEmptyCart):
		httpStatus, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, cart.ErrNotSignedIn):
		httpStatus, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, checkout.ErrNotVerified):
		httpStatus, code = http.StatusForbidden, "age_not_verified"
	case errors.Is(err, cart.ErrClosed),
		errors.Is(err, checkout.ErrSubmissionInProgress),
		errors.Is(err, checkout.ErrCheckoutFinished),
		errors.Is(err, checkout.ErrIllegalTransition),
		errors.Is(err, checkout.ErrNoPendingRequest):
		httpStatus, code = http.StatusConflict, "conflict"
	case errors.Is(err, checkout.ErrGatewayUnavailable), errors.Is(err, backend.ErrCircuitOpen):
		httpStatus, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			httpStatus, code = http.StatusBadGateway, "backend_error"
			break
		}
		logger.FromContext(ctx).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
