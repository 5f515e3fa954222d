package http

import (
	"context"
	"net/http"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/cart"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CartRegistry interface {
	Get(ctx context.Context, id domain.Identity) *cart.Store
	SyncGuestToUser(ctx context.Context, guest, user domain.Identity) (domain.MergeOutcome, error)
}

// ProductCatalog resolves the product snapshot stored on a cart line.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

type CartHandler struct {
	carts    CartRegistry
	products ProductCatalog
	state    persist.Store
	timeout  time.Duration
	maxBody  int64
}

func NewCartHandler(carts CartRegistry, products ProductCatalog, state persist.Store, timeout time.Duration, maxBody int64) *CartHandler {
	return &CartHandler{
		carts:    carts,
		products: products,
		state:    state,
		timeout:  timeout,
		maxBody:  maxBody,
	}
}

// AddItemRequestDTO identifies the product by Product.ID; the rest of the snapshot comes
// from the catalog.
type AddItemRequestDTO struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type ToggleSelectedRequestDTO struct {
	Selected bool `json:"selected"`
}

type SyncRequestDTO struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type SyncResponseDTO struct {
	Cart    cart.View            `json:"cart"`
	Results []domain.MergeResult `json:"results"`
}

// userState is the user-store document.
type userState struct {
	UserID    string `json:"user_id"`
	GuestID   string `json:"guest_id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store := h.carts.Get(ctx, getIdentity(r.Context()))
	respondJSON(w, http.StatusOK, store.Snapshot())
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if req.Product.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id is required")
		return
	}
	if req.Quantity < 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	product, err := h.products.GetProduct(ctx, req.Product.ID)
	if err != nil {
		logger.FromContext(ctx).Warn("product lookup failed", zap.String("product_id", req.Product.ID), zap.Error(err))
		handleError(ctx, w, err)
		return
	}

	id := getIdentity(r.Context())
	store := h.carts.Get(ctx, id)
	if err := store.AddItem(ctx, id, product, req.Quantity); err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusCreated, store.Snapshot())
}

// PUT /api/v1/cart/items/{line_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must not exceed 99")
		return
	}

	id := getIdentity(r.Context())
	store := h.carts.Get(ctx, id)
	if err := store.UpdateQuantity(ctx, id, chi.URLParam(r, "line_id"), req.Quantity); err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, store.Snapshot())
}

// DELETE /api/v1/cart/items/{line_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := getIdentity(r.Context())
	store := h.carts.Get(ctx, id)
	if err := store.RemoveItem(ctx, id, chi.URLParam(r, "line_id")); err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, store.Snapshot())
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := getIdentity(r.Context())
	store := h.carts.Get(ctx, id)
	if err := store.ClearCart(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("cart partially cleared", zap.String("identity", id.Key()), zap.Error(err))
		respondJSON(w, http.StatusMultiStatus, store.Snapshot())
		return
	}
	respondJSON(w, http.StatusOK, store.Snapshot())
}

// PUT /api/v1/cart/items/{line_id}/selected
func (h *CartHandler) ToggleSelected(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ToggleSelectedRequestDTO
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}

	store := h.carts.Get(ctx, getIdentity(r.Context()))
	if err := store.ToggleSelected(ctx, chi.URLParam(r, "line_id"), req.Selected); err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, store.Snapshot())
}

// POST /api/v1/cart/checked
func (h *CartHandler) MarkChecked(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := getIdentity(r.Context())
	ids, err := h.carts.Get(ctx, id).MarkSelectedForCheckout(ctx, id)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"line_ids": ids})
}

// POST /api/v1/cart/sync merges the caller's guest cart into their user cart after sign-in.
func (h *CartHandler) SyncGuestCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := getIdentity(r.Context())
	if !user.IsKnown() {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req SyncRequestDTO
	if r.ContentLength != 0 && !decodeJSON(w, r, h.maxBody, &req) {
		return
	}

	guest := domain.Guest(getGuestID(r.Context()))
	outcome, err := h.carts.SyncGuestToUser(ctx, guest, user)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	if h.state != nil {
		doc := userState{
			UserID:    user.UserID,
			GuestID:   guest.GuestID,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}
		if err := h.state.Save(ctx, persist.UserStore, user.Key(), doc); err != nil {
			logger.FromContext(ctx).Warn("persist user failed", zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, SyncResponseDTO{
		Cart:    h.carts.Get(ctx, user).Snapshot(),
		Results: outcome.Results,
	})
}
