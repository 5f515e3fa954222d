package cart

import (
	"slices"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
)

// View is a consistent snapshot of the cart for rendering.
type View struct {
	Items             []domain.CartLine `json:"items"`
	Count             int               `json:"count"`
	Subtotal          float64           `json:"subtotal"`
	FormattedSubtotal string            `json:"formatted_subtotal"`
	IsLoading         bool              `json:"is_loading"`
	IsSyncing         bool              `json:"is_syncing"`
}

func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subtotal := pricing.Subtotal(s.items)
	return View{
		Items:             slices.Clone(s.items),
		Count:             countOf(s.items),
		Subtotal:          subtotal,
		FormattedSubtotal: pricing.FormatCurrency(subtotal),
		IsLoading:         s.loading > 0,
		IsSyncing:         s.syncing > 0,
	}
}

// Items returns a copy of the current lines.
func (s *Store) Items() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// CartCount is the sum of all line quantities.
func (s *Store) CartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countOf(s.items)
}

func (s *Store) Subtotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pricing.Subtotal(s.items)
}

func (s *Store) FormattedSubtotal() string {
	return pricing.FormatCurrency(s.Subtotal())
}

// ItemQuantity returns the quantity held for productID, or 0.
func (s *Store) ItemQuantity(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfProduct(productID); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

// CheckoutLines are the lines being purchased: the selected ones, or every line when
// nothing is selected.
func (s *Store) CheckoutLines() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []domain.CartLine
	for _, l := range s.items {
		if l.Selected {
			selected = append(selected, l)
		}
	}
	if len(selected) == 0 {
		return slices.Clone(s.items)
	}
	return selected
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

func (s *Store) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncing > 0
}

// Version increases with every applied mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func countOf(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
