package http

import (
	"context"
	"net/http"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CatalogClient is the read-only part of the backend client.
type CatalogClient interface {
	GetAllProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetRelatedProducts(ctx context.Context, productID string) ([]domain.Product, error)
	GetBrands(ctx context.Context) ([]backend.Brand, error)
	GetBlogs(ctx context.Context) ([]backend.Blog, error)
	GetReviews(ctx context.Context) ([]backend.Review, error)
	GetCarouselImages(ctx context.Context) ([]backend.CarouselImage, error)
	GetNotifications(ctx context.Context, id domain.Identity) ([]backend.Notification, error)
	GetUserOrders(ctx context.Context, id domain.Identity) ([]backend.Order, error)
}

type CatalogHandler struct {
	client  CatalogClient
	timeout time.Duration
}

func NewCatalogHandler(client CatalogClient, timeout time.Duration) *CatalogHandler {
	return &CatalogHandler{client: client, timeout: timeout}
}

// GET /api/v1/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, h.timeout, h.client.GetAllProducts)
}

// GET /api/v1/products/{product_id}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "product_id")
	proxy(w, r, h.timeout, func(ctx context.Context) (domain.Product, error) {
		return h.client.GetProduct(ctx, id)
	})
}

// GET /api/v1/products/{product_id}/related
func (h *CatalogHandler) RelatedProducts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "product_id")
	proxy(w, r, h.timeout, func(ctx context.Context) ([]domain.Product, error) {
		return h.client.GetRelatedProducts(ctx, id)
	})
}

func (h *CatalogHandler) Brands(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, h.timeout, h.client.GetBrands)
}

func (h *CatalogHandler) Blogs(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, h.timeout, h.client.GetBlogs)
}

func (h *CatalogHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, h.timeout, h.client.GetReviews)
}

func (h *CatalogHandler) Carousel(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, h.timeout, h.client.GetCarouselImages)
}

// GET /api/v1/notifications; the backend client applies its own notification timeout.
func (h *CatalogHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	id, ok := requireUser(w, r)
	if !ok {
		return
	}
	proxy(w, r, h.timeout, func(ctx context.Context) ([]backend.Notification, error) {
		return h.client.GetNotifications(ctx, id)
	})
}

// GET /api/v1/orders
func (h *CatalogHandler) Orders(w http.ResponseWriter, r *http.Request) {
	id, ok := requireUser(w, r)
	if !ok {
		return
	}
	proxy(w, r, h.timeout, func(ctx context.Context) ([]backend.Order, error) {
		return h.client.GetUserOrders(ctx, id)
	})
}

func proxy[T any](w http.ResponseWriter, r *http.Request, timeout time.Duration, fetch func(context.Context) (T, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	v, err := fetch(ctx)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func requireUser(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id := getIdentity(r.Context())
	if !id.IsKnown() {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return id, false
	}
	return id, true
}
