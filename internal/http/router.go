// Package http is the storefront's JSON API: cart, checkout and catalog endpoints for the
// browser, backed by the per-session cart and checkout state.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts     *CartHandler
	Checkouts *CheckoutHandler
	Catalog   *CatalogHandler
	JWTSecret []byte
	Timeout   time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.JWTSecret))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cfg.Carts.GetCart)
			r.Delete("/", cfg.Carts.ClearCart)
			r.Post("/items", cfg.Carts.AddItem)
			r.Put("/items/{line_id}", cfg.Carts.UpdateQuantity)
			r.Delete("/items/{line_id}", cfg.Carts.RemoveItem)
			r.Put("/items/{line_id}/selected", cfg.Carts.ToggleSelected)
			r.Post("/checked", cfg.Carts.MarkChecked)
			r.Post("/sync", cfg.Carts.SyncGuestCart)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", cfg.Checkouts.StartCheckout)
			r.Get("/", cfg.Checkouts.GetCheckout)
			r.Get("/payment-config", cfg.Checkouts.PaymentConfig)
			r.Post("/age", cfg.Checkouts.VerifyAge)
			r.Put("/address", cfg.Checkouts.UpdateAddress)
			r.Put("/form", cfg.Checkouts.UpdateForm)
			r.Post("/discount", cfg.Checkouts.ApplyDiscount)
			r.Post("/submit", cfg.Checkouts.Submit)
			r.Post("/payment-token", cfg.Checkouts.PaymentToken)
			r.Get("/result", cfg.Checkouts.Result)
		})

		r.Get("/products", cfg.Catalog.ListProducts)
		r.Get("/products/{product_id}", cfg.Catalog.GetProduct)
		r.Get("/products/{product_id}/related", cfg.Catalog.RelatedProducts)
		r.Get("/brands", cfg.Catalog.Brands)
		r.Get("/blogs", cfg.Catalog.Blogs)
		r.Get("/reviews", cfg.Catalog.Reviews)
		r.Get("/carousel", cfg.Catalog.Carousel)
		r.Get("/notifications", cfg.Catalog.Notifications)
		r.Get("/orders", cfg.Catalog.Orders)
	})

	return otelhttp.NewHandler(r, "storefront")
}
