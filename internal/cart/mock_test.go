package cart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
)

// mockRemote is an in-memory remote cart service keyed by user id.
type mockRemote struct {
	mu sync.Mutex

	carts  map[string][]domain.CartLine
	nextID int
	noEcho bool

	getCalls   int
	getErr     error
	getStarted chan struct{}
	getRelease chan struct{}

	createErr map[string]error // by product id
	deleteErr map[string]error // by line id
	mergeErr  error
	mergeKeys []string
	marked    []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		carts:     make(map[string][]domain.CartLine),
		createErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (m *mockRemote) seed(userID string, lines ...domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = append(m.carts[userID], lines...)
}

func (m *mockRemote) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *mockRemote) GetUserCart(ctx context.Context, id domain.Identity) ([]domain.CartLine, error) {
	m.mu.Lock()
	m.getCalls++
	lines := slices.Clone(m.carts[id.UserID])
	err := m.getErr
	started, release := m.getStarted, m.getRelease
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (m *mockRemote) CreateCartLine(_ context.Context, id domain.Identity, product domain.Product, quantity int) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[product.ID]; err != nil {
		return domain.CartLine{}, err
	}
	line := m.addLocked(id.UserID, product, quantity)
	if m.noEcho {
		return domain.CartLine{}, nil
	}
	return line, nil
}

func (m *mockRemote) addLocked(userID string, product domain.Product, quantity int) domain.CartLine {
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].Product.ID == product.ID {
			lines[i].Quantity += quantity
			lines[i].Total = pricing.LineTotal(product.Price, lines[i].Quantity)
			return lines[i]
		}
	}
	m.nextID++
	line := domain.CartLine{
		ID:       fmt.Sprintf("r%d", m.nextID),
		Product:  product,
		Quantity: quantity,
		Total:    pricing.LineTotal(product.Price, quantity),
	}
	m.carts[userID] = append(lines, line)
	return line
}

func (m *mockRemote) UpdateCartLine(_ context.Context, id domain.Identity, lineID string, quantity int) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.carts[id.UserID]
	for i := range lines {
		if lines[i].ID == lineID {
			lines[i].Quantity = quantity
			lines[i].Total = pricing.LineTotal(lines[i].Product.Price, quantity)
			if m.noEcho {
				return domain.CartLine{}, nil
			}
			return lines[i], nil
		}
	}
	return domain.CartLine{}, fmt.Errorf("line %s: not found", lineID)
}

func (m *mockRemote) DeleteCartLine(_ context.Context, id domain.Identity, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[lineID]; err != nil {
		return err
	}
	m.carts[id.UserID] = slices.DeleteFunc(m.carts[id.UserID], func(l domain.CartLine) bool { return l.ID == lineID })
	return nil
}

func (m *mockRemote) MarkChecked(_ context.Context, _ domain.Identity, lineIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = slices.Clone(lineIDs)
	return nil
}

func (m *mockRemote) MergeCart(_ context.Context, id domain.Identity, lines []domain.CartLine, key string) (domain.MergeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeKeys = append(m.mergeKeys, key)
	if m.mergeErr != nil {
		return domain.MergeOutcome{}, m.mergeErr
	}

	results := make([]domain.MergeResult, 0, len(lines))
	for _, l := range lines {
		res := domain.MergeResult{LineID: l.ID, ProductID: l.Product.ID, Quantity: l.Quantity, Merged: true}
		if err := m.createErr[l.Product.ID]; err != nil {
			res.Merged = false
			res.Error = err.Error()
		} else {
			m.addLocked(id.UserID, l.Product, l.Quantity)
		}
		results = append(results, res)
	}
	return domain.MergeOutcome{Lines: slices.Clone(m.carts[id.UserID]), Results: results}, nil
}
