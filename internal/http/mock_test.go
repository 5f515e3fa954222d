package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/cart"
	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

// fakeBackend stands in for the REST backend: remote carts, checkout endpoints and catalog.
type fakeBackend struct {
	mu     sync.Mutex
	carts  map[string][]domain.CartLine
	nextID int

	products      []domain.Product
	notifications []backend.Notification
	payments      []backend.PaymentRequest
	catalogErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		carts: make(map[string][]domain.CartLine),
		products: []domain.Product{
			{ID: "p1", Name: "Cohiba Robusto", Price: 25},
			{ID: "p2", Name: "Vape Pod", Price: 12.5},
		},
		notifications: []backend.Notification{{ID: "n1", Title: "Shipped"}},
	}
}

func (f *fakeBackend) GetUserCart(_ context.Context, id domain.Identity) ([]domain.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.carts[id.UserID]), nil
}

func (f *fakeBackend) CreateCartLine(_ context.Context, id domain.Identity, product domain.Product, quantity int) (domain.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	l := domain.CartLine{
		ID:       fmt.Sprintf("r%d", f.nextID),
		Product:  product,
		Quantity: quantity,
		Total:    pricing.LineTotal(product.Price, quantity),
	}
	f.carts[id.UserID] = append(f.carts[id.UserID], l)
	return l, nil
}

func (f *fakeBackend) UpdateCartLine(_ context.Context, id domain.Identity, lineID string, quantity int) (domain.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.carts[id.UserID]
	for i := range lines {
		if lines[i].ID == lineID {
			lines[i].Quantity = quantity
			lines[i].Total = pricing.LineTotal(lines[i].Product.Price, quantity)
			return lines[i], nil
		}
	}
	return domain.CartLine{}, backend.ErrNotFound
}

func (f *fakeBackend) DeleteCartLine(_ context.Context, id domain.Identity, lineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[id.UserID] = slices.DeleteFunc(f.carts[id.UserID], func(l domain.CartLine) bool { return l.ID == lineID })
	return nil
}

func (f *fakeBackend) MarkChecked(context.Context, domain.Identity, []string) error {
	return nil
}

func (f *fakeBackend) MergeCart(_ context.Context, id domain.Identity, lines []domain.CartLine, _ string) (domain.MergeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out domain.MergeOutcome
	for _, l := range lines {
		f.nextID++
		merged := l
		merged.ID = fmt.Sprintf("r%d", f.nextID)
		f.carts[id.UserID] = append(f.carts[id.UserID], merged)
		out.Results = append(out.Results, domain.MergeResult{LineID: l.ID, ProductID: l.Product.ID, Quantity: l.Quantity, Merged: true})
	}
	out.Lines = slices.Clone(f.carts[id.UserID])
	return out, nil
}

func (f *fakeBackend) CalculateTax(context.Context, backend.TaxRequest) (backend.TaxQuote, error) {
	return backend.TaxQuote{}, backend.ErrCircuitOpen
}

func (f *fakeBackend) DiscountByCode(_ context.Context, code string) (backend.Discount, error) {
	if code == "SAVE10" {
		return backend.Discount{Code: code, Percentage: 10}, nil
	}
	return backend.Discount{}, backend.ErrNotFound
}

func (f *fakeBackend) ServicePricing(context.Context) (backend.ServicePricing, error) {
	return backend.ServicePricing{FreeShippingThreshold: 50, ShippingFee: 5}, nil
}

func (f *fakeBackend) SubmitPayment(_ context.Context, _ domain.Identity, _ string, req backend.PaymentRequest) (backend.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, req)
	return backend.PaymentResult{Success: true, OrderID: "order-1"}, nil
}

func (f *fakeBackend) SendOrderConfirmation(context.Context, backend.OrderConfirmation) error {
	return nil
}

func (f *fakeBackend) MarkCheckoutFailed(context.Context, domain.Identity, backend.CheckoutFailure) error {
	return nil
}

func (f *fakeBackend) GetAllProducts(context.Context) ([]domain.Product, error) {
	return f.products, f.catalogErr
}

func (f *fakeBackend) GetProduct(_ context.Context, id string) (domain.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, &backend.APIError{Status: http.StatusNotFound, Message: "product not found"}
}

func (f *fakeBackend) GetRelatedProducts(context.Context, string) ([]domain.Product, error) {
	return f.products[:1], nil
}

func (f *fakeBackend) GetBrands(context.Context) ([]backend.Brand, error) {
	return []backend.Brand{{ID: "b1", Name: "Cohiba"}}, nil
}

func (f *fakeBackend) GetBlogs(context.Context) ([]backend.Blog, error) { return nil, nil }

func (f *fakeBackend) GetReviews(context.Context) ([]backend.Review, error) { return nil, nil }

func (f *fakeBackend) GetCarouselImages(context.Context) ([]backend.CarouselImage, error) {
	return nil, nil
}

func (f *fakeBackend) GetNotifications(context.Context, domain.Identity) ([]backend.Notification, error) {
	return f.notifications, nil
}

func (f *fakeBackend) GetUserOrders(context.Context, domain.Identity) ([]backend.Order, error) {
	return nil, nil
}

type testServer struct {
	handler http.Handler
	backend *fakeBackend
	state   *persist.MemoryStore
	relay   *checkout.TokenRelay
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fb := newFakeBackend()
	state := persist.NewMemoryStore()

	carts := cart.NewRegistry(fb, state, cart.RegistryOptions{})
	t.Cleanup(func() { _ = carts.Close(context.Background()) })

	repo, err := ledger.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())
	t.Cleanup(func() { _ = repo.Close() })

	relay := checkout.NewTokenRelay()
	manager, err := checkout.NewManager(
		checkout.Deps{Backend: fb, Ledger: repo, Gateway: relay, State: state, Purchases: carts},
		func(_ context.Context, id domain.Identity) checkout.CartSource { return carts.Source(id) },
		checkout.Config{TaxFallbackPercent: 8, TaxDebounce: 10 * time.Millisecond},
		"tok-key",
	)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	h := NewRouter(RouterConfig{
		Carts:     NewCartHandler(carts, fb, state, time.Second, 1<<20),
		Checkouts: NewCheckoutHandler(manager, relay, time.Second, 1<<20),
		Catalog:   NewCatalogHandler(fb, time.Second),
		JWTSecret: testSecret,
		Timeout:   5 * time.Second,
	})
	return &testServer{handler: h, backend: fb, state: state, relay: relay}
}

// client carries the guest cookie and an optional bearer token across requests.
type client struct {
	t      *testing.T
	srv    *testServer
	cookie *http.Cookie
	token  string
}

func (s *testServer) guest(t *testing.T) *client {
	return &client{t: t, srv: s}
}

func (c *client) signIn(userID string) *client {
	c.token = signToken(c.t, userID)
	return c
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	rec := httptest.NewRecorder()
	c.srv.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == guestCookie {
			c.cookie = ck
		}
	}
	return rec
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userID": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return tok
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}
