package checkout

import (
	"context"
	"sync"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"go.uber.org/zap"
)

// CartLookup returns the cart a checkout for id buys from.
type CartLookup func(ctx context.Context, id domain.Identity) CartSource

// Manager keeps one checkout session per identity.
type Manager struct {
	deps  Deps
	carts CartLookup
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, carts CartLookup, cfg Config, tokenizationKey string) (*Manager, error) {
	if err := deps.Gateway.Configure(GatewayConfig{TokenizationKey: tokenizationKey}); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	return &Manager{
		deps:     deps,
		carts:    carts,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Start returns the identity's open session or begins a new one. A finished session is
// replaced.
func (m *Manager) Start(ctx context.Context, id domain.Identity) (*Session, error) {
	key := id.Key()

	m.mu.Lock()
	existing := m.sessions[key]
	m.mu.Unlock()
	if existing != nil && !existing.Status().IsTerminal() {
		return existing, nil
	}

	cfg := m.cfg
	cfg.Shipping = m.shipping(ctx)

	s := NewSession(id, m.carts(ctx, id), m.deps, cfg)
	if err := s.Restore(ctx); err != nil {
		logger.FromContext(ctx).Warn("could not restore checkout form", zap.String("identity", key), zap.Error(err))
	}

	m.mu.Lock()
	current := m.sessions[key]
	if current != existing && current != nil && !current.Status().IsTerminal() {
		m.mu.Unlock()
		s.Close()
		return current, nil
	}
	m.sessions[key] = s
	m.mu.Unlock()

	if existing != nil {
		existing.Close()
	}
	return s, nil
}

func (m *Manager) Get(id domain.Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.Key()]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Forget closes and drops the session of identityKey.
func (m *Manager) Forget(identityKey string) {
	m.mu.Lock()
	s, ok := m.sessions[identityKey]
	delete(m.sessions, identityKey)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// shipping prefers the backend's service pricing over the configured values.
func (m *Manager) shipping(ctx context.Context) pricing.ShippingConfig {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	sp, err := m.deps.Backend.ServicePricing(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("service pricing unavailable, using configured shipping", zap.Error(err))
		return m.cfg.Shipping
	}
	cfg := m.cfg.Shipping
	if sp.FreeShippingThreshold > 0 {
		cfg.FreeShippingThreshold = sp.FreeShippingThreshold
	}
	if sp.ShippingFee > 0 {
		cfg.FlatShippingFee = sp.ShippingFee
	}
	return cfg
}
