package checkout

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mu sync.Mutex

	taxQuote backend.TaxQuote
	taxErr   error
	taxReqs  []backend.TaxRequest

	discounts   map[string]float64
	discountErr error

	pricing    backend.ServicePricing
	pricingErr error

	payResult backend.PaymentResult
	payErr    error
	payments  []backend.PaymentRequest
	payKeys   []string

	confirmations []backend.OrderConfirmation
	failures      []backend.CheckoutFailure
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		discounts: map[string]float64{"SAVE10": 10},
		payResult: backend.PaymentResult{Success: true, OrderID: "order-1", TransactionID: "tx-1"},
	}
}

func (m *mockBackend) CalculateTax(ctx context.Context, req backend.TaxRequest) (backend.TaxQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxReqs = append(m.taxReqs, req)
	return m.taxQuote, m.taxErr
}

func (m *mockBackend) DiscountByCode(ctx context.Context, code string) (backend.Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discountErr != nil {
		return backend.Discount{}, m.discountErr
	}
	pct, ok := m.discounts[code]
	if !ok {
		return backend.Discount{}, backend.ErrNotFound
	}
	return backend.Discount{Code: code, Percentage: pct}, nil
}

func (m *mockBackend) ServicePricing(ctx context.Context) (backend.ServicePricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pricing, m.pricingErr
}

func (m *mockBackend) SubmitPayment(ctx context.Context, id domain.Identity, key string, req backend.PaymentRequest) (backend.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, req)
	m.payKeys = append(m.payKeys, key)
	return m.payResult, m.payErr
}

func (m *mockBackend) SendOrderConfirmation(ctx context.Context, req backend.OrderConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, req)
	return nil
}

func (m *mockBackend) MarkCheckoutFailed(ctx context.Context, id domain.Identity, req backend.CheckoutFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, req)
	return nil
}

func (m *mockBackend) taxCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.taxReqs)
}

func (m *mockBackend) snapshot() (payments []backend.PaymentRequest, confirmations []backend.OrderConfirmation, failures []backend.CheckoutFailure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payments), slices.Clone(m.confirmations), slices.Clone(m.failures)
}

type fakeCart struct {
	mu        sync.Mutex
	lines     []domain.CartLine
	purchased []string
}

func (c *fakeCart) CompletePurchase(ctx context.Context, id domain.Identity, lineIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchased = append(c.purchased, lineIDs...)
	c.lines = slices.DeleteFunc(c.lines, func(l domain.CartLine) bool { return slices.Contains(lineIDs, l.ID) })
	return nil
}

func (c *fakeCart) CheckoutLines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

func (c *fakeCart) set(lines ...domain.CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = lines
}

func line(id string, price float64, qty int) domain.CartLine {
	return domain.CartLine{
		ID:       id,
		Product:  domain.Product{ID: "p-" + id, Name: "Product " + id, Price: price},
		Quantity: qty,
		Total:    pricing.LineTotal(price, qty),
	}
}

func validForm() Form {
	return Form{
		Email:      "jane@example.com",
		FirstName:  "Jane",
		LastName:   "Doe",
		Phone:      "5551234567",
		Street:     "1 Main St",
		City:       "Austin",
		State:      "TX",
		Zip:        "73301",
		Country:    "US",
		AgreeTerms: true,
	}
}

func testConfig() Config {
	return Config{
		Shipping:           pricing.ShippingConfig{FreeShippingThreshold: 50, FlatShippingFee: 5},
		TaxFallbackPercent: 8,
		TaxDebounce:        10 * time.Millisecond,
		RequestTimeout:     time.Second,
		SideEffectTimeout:  time.Second,
	}
}

func setupLedger(t *testing.T) *ledger.Repository {
	t.Helper()
	repo, err := ledger.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type harness struct {
	backend *mockBackend
	cart    *fakeCart
	ledger  *ledger.Repository
	relay   *TokenRelay
	state   *persist.MemoryStore
	session *Session
}

func newHarness(t *testing.T, id domain.Identity) *harness {
	t.Helper()
	h := &harness{
		backend: newMockBackend(),
		cart:    &fakeCart{},
		ledger:  setupLedger(t),
		relay:   NewTokenRelay(),
		state:   persist.NewMemoryStore(),
	}
	require.NoError(t, h.relay.Configure(GatewayConfig{TokenizationKey: "tok-key"}))
	h.session = NewSession(id, h.cart, h.deps(), testConfig())
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) deps() Deps {
	return Deps{Backend: h.backend, Ledger: h.ledger, Gateway: h.relay, State: h.state, Purchases: h.cart}
}
