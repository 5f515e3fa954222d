// Package cart holds the per-session cart and reconciles it with the remote cart service
// for signed-in users. Guest carts live only in the session state store.
package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrNothingSelected = errors.New("no cart lines selected")
	ErrNotSignedIn     = errors.New("identity is not signed in")
	ErrClosed          = errors.New("cart store closed")
	errClearIncomplete = errors.New("some lines could not be removed")
)

// RemoteCart is the slice of the backend client the store needs.
type RemoteCart interface {
	GetUserCart(ctx context.Context, id domain.Identity) ([]domain.CartLine, error)
	CreateCartLine(ctx context.Context, id domain.Identity, product domain.Product, quantity int) (domain.CartLine, error)
	UpdateCartLine(ctx context.Context, id domain.Identity, lineID string, quantity int) (domain.CartLine, error)
	DeleteCartLine(ctx context.Context, id domain.Identity, lineID string) error
	MarkChecked(ctx context.Context, id domain.Identity, lineIDs []string) error
	MergeCart(ctx context.Context, id domain.Identity, lines []domain.CartLine, idempotencyKey string) (domain.MergeOutcome, error)
}

type Options struct {
	// Session is the key the cart is persisted under, normally Identity.Key().
	Session string

	// RefetchAfterMutation reloads the whole remote cart after every signed-in mutation
	// instead of applying the mutation response.
	RefetchAfterMutation bool

	// ClearConcurrency bounds the parallel deletes issued by ClearCart.
	ClearConcurrency int

	// ReloadTimeout bounds a shared remote reload.
	ReloadTimeout time.Duration

	Now       func() time.Time
	NewLineID func() string
}

// persisted is the cart-storage document.
type persisted struct {
	Items []domain.CartLine `json:"items"`
}

// Store is one session's cart. It is safe for concurrent use.
type Store struct {
	remote RemoteCart
	state  persist.Store
	opts   Options

	mu       sync.RWMutex
	items    []domain.CartLine
	loading  int
	syncing  int
	version  uint64
	restored bool
	closed   bool

	// initialized is set once a signed-in cart has been loaded from the remote.
	initialized bool

	sfg singleflight.Group // concurrent reloads of the same version share one request
}

func NewStore(remote RemoteCart, state persist.Store, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewLineID == nil {
		opts.NewLineID = func() string { return uuid.New().String() }
	}
	if opts.ClearConcurrency <= 0 {
		opts.ClearConcurrency = 4
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = 15 * time.Second
	}
	return &Store{
		remote: remote,
		state:  state,
		opts:   opts,
		items:  []domain.CartLine{},
	}
}

// Restore loads the persisted cart-storage document once. A missing document is not an error.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return nil
	}
	s.restored = true
	s.mu.Unlock()

	if s.state == nil {
		return nil
	}
	var doc persisted
	err := s.state.Load(ctx, persist.CartStorage, s.opts.Session, &doc)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == 0 && doc.Items != nil {
		s.items = doc.Items
	}
	return nil
}

// InitializeCart replaces the items with the remote cart for a signed-in identity. A guest
// keeps what Restore loaded. Remote failures are logged and leave the items untouched.
func (s *Store) InitializeCart(ctx context.Context, id domain.Identity) {
	if !id.IsKnown() {
		return
	}
	if err := s.reload(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("initialize cart failed",
			zap.String("identity", id.Key()), zap.Error(err))
	}
}

// Refresh reloads the remote cart and reports the error to the caller.
func (s *Store) Refresh(ctx context.Context, id domain.Identity) error {
	if !id.IsKnown() {
		return nil
	}
	return s.reload(ctx, id)
}

// AddItem adds quantity (at least 1) of product, incrementing an existing line for it.
func (s *Store) AddItem(ctx context.Context, id domain.Identity, product domain.Product, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.IsKnown() {
		return s.mutateLocal(ctx, func(now time.Time) error {
			if i := s.indexOfProduct(product.ID); i >= 0 {
				s.setQuantity(i, s.items[i].Quantity+quantity, now)
				return nil
			}
			s.items = append(s.items, domain.CartLine{
				ID:        s.opts.NewLineID(),
				Product:   product,
				Quantity:  quantity,
				Total:     pricing.LineTotal(product.Price, quantity),
				CreatedAt: now,
				UpdatedAt: now,
			})
			return nil
		})
	}

	done := s.beginSync()
	defer done()

	line, err := s.remote.CreateCartLine(ctx, id, product, quantity)
	if err != nil {
		return fmt.Errorf("add item: %w", err)
	}

	needReload := s.opts.RefetchAfterMutation
	s.commitRemote(ctx, func(now time.Time) {
		switch {
		case line.ID != "":
			s.upsertLine(line)
		case s.indexOfProduct(product.ID) >= 0:
			i := s.indexOfProduct(product.ID)
			s.setQuantity(i, s.items[i].Quantity+quantity, now)
		default:
			// New line without an id from the backend; only a reload can supply it.
			needReload = true
		}
	})
	if needReload {
		return s.reload(ctx, id)
	}
	return nil
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, id domain.Identity, lineID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, id, lineID)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.IsKnown() {
		return s.mutateLocal(ctx, func(now time.Time) error {
			i := s.indexOfLine(lineID)
			if i < 0 {
				return ErrLineNotFound
			}
			s.setQuantity(i, quantity, now)
			return nil
		})
	}

	done := s.beginSync()
	defer done()

	line, err := s.remote.UpdateCartLine(ctx, id, lineID, quantity)
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	s.commitRemote(ctx, func(now time.Time) {
		if line.ID != "" {
			s.upsertLine(line)
			return
		}
		if i := s.indexOfLine(lineID); i >= 0 {
			s.setQuantity(i, quantity, now)
		}
	})
	if s.opts.RefetchAfterMutation {
		return s.reload(ctx, id)
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, id domain.Identity, lineID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.IsKnown() {
		return s.mutateLocal(ctx, func(time.Time) error {
			i := s.indexOfLine(lineID)
			if i < 0 {
				return ErrLineNotFound
			}
			s.items = slices.Delete(s.items, i, i+1)
			return nil
		})
	}

	done := s.beginSync()
	defer done()

	if err := s.remote.DeleteCartLine(ctx, id, lineID); err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	s.commitRemote(ctx, func(time.Time) {
		s.items = slices.DeleteFunc(s.items, func(l domain.CartLine) bool { return l.ID == lineID })
	})
	if s.opts.RefetchAfterMutation {
		return s.reload(ctx, id)
	}
	return nil
}

// ClearCart empties the cart. Signed-in carts issue one delete per line and wait for all of
// them; lines whose delete failed stay in the cart and the first error is returned.
func (s *Store) ClearCart(ctx context.Context, id domain.Identity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.IsKnown() {
		return s.mutateLocal(ctx, func(time.Time) error {
			s.items = []domain.CartLine{}
			return nil
		})
	}

	done := s.beginSync()
	defer done()

	lines := s.Items()
	removed := make([]bool, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ClearConcurrency)
	for i, l := range lines {
		g.Go(func() error {
			if err := s.remote.DeleteCartLine(gctx, id, l.ID); err != nil {
				return fmt.Errorf("delete line %s: %w", l.ID, err)
			}
			removed[i] = true
			return nil
		})
	}
	err := g.Wait()

	gone := make(map[string]bool, len(lines))
	for i, l := range lines {
		if removed[i] {
			gone[l.ID] = true
		}
	}
	s.commitRemote(ctx, func(time.Time) {
		s.items = slices.DeleteFunc(s.items, func(l domain.CartLine) bool { return gone[l.ID] })
	})
	if err != nil {
		return fmt.Errorf("clear cart: %w: %w", errClearIncomplete, err)
	}
	return nil
}

// SyncGuestCartToUser merges this store's lines into the user's remote cart with one
// idempotent call. Merged lines leave this store; failed ones stay for a later retry.
func (s *Store) SyncGuestCartToUser(ctx context.Context, user domain.Identity) (domain.MergeOutcome, error) {
	if !user.IsKnown() {
		return domain.MergeOutcome{}, ErrNotSignedIn
	}
	if err := s.checkOpen(); err != nil {
		return domain.MergeOutcome{}, err
	}

	lines := s.Items()
	if len(lines) == 0 {
		return domain.MergeOutcome{}, nil
	}

	done := s.beginSync()
	defer done()

	outcome, err := s.remote.MergeCart(ctx, user, lines, mergeKey(s.opts.Session, lines))
	if err != nil {
		return domain.MergeOutcome{}, fmt.Errorf("sync guest cart: %w", err)
	}

	merged := make(map[string]bool, len(outcome.Results))
	for _, r := range outcome.Results {
		if r.Merged {
			merged[r.LineID] = true
		} else {
			logger.FromContext(ctx).Warn("guest line not merged",
				zap.String("line_id", r.LineID),
				zap.String("product_id", r.ProductID),
				zap.String("error", r.Error))
		}
	}
	_ = s.mutateLocal(ctx, func(time.Time) error {
		s.items = slices.DeleteFunc(s.items, func(l domain.CartLine) bool { return merged[l.ID] })
		return nil
	})
	return outcome, nil
}

// ReplaceLines installs lines obtained outside a reload, such as the cart returned by a merge.
func (s *Store) ReplaceLines(ctx context.Context, lines []domain.CartLine) {
	s.commitRemote(ctx, func(time.Time) {
		s.items = preserveSelection(s.items, lines)
		s.initialized = true
	})
}

// Initialized reports whether a signed-in cart holds what the remote returned at least once.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// RemovePurchased drops lines that were just paid for. Only local state changes; a signed-in
// cart is expected to be cleared by the backend when the order is placed.
func (s *Store) RemovePurchased(ctx context.Context, lineIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	bought := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		bought[id] = true
	}
	return s.mutateLocal(ctx, func(time.Time) error {
		s.items = slices.DeleteFunc(s.items, func(l domain.CartLine) bool { return bought[l.ID] })
		return nil
	})
}

// ToggleSelected marks a line as included in (or excluded from) the next checkout.
func (s *Store) ToggleSelected(ctx context.Context, lineID string, selected bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.mutateLocal(ctx, func(time.Time) error {
		i := s.indexOfLine(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		s.items[i].Selected = selected
		return nil
	})
}

// MarkSelectedForCheckout returns the selected line ids and, for a signed-in identity,
// reports them to the remote "checked" endpoint.
func (s *Store) MarkSelectedForCheckout(ctx context.Context, id domain.Identity) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var ids []string
	for _, l := range s.Items() {
		if l.Selected {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNothingSelected
	}
	if !id.IsKnown() {
		return ids, nil
	}

	done := s.beginSync()
	defer done()
	if err := s.remote.MarkChecked(ctx, id, ids); err != nil {
		return nil, fmt.Errorf("mark selected: %w", err)
	}
	return ids, nil
}

// Close persists the current items and rejects further mutations.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	items := slices.Clone(s.items)
	s.mu.Unlock()

	return s.save(ctx, items)
}

// discard rejects further mutations without persisting.
func (s *Store) discard() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) reload(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	start := s.version
	s.loading++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	// Shared by concurrent callers, so it runs detached from any one of them.
	ch := s.sfg.DoChan(id.Key()+"@"+strconv.FormatUint(start, 10), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReloadTimeout)
		defer cancel()
		return s.remote.GetUserCart(rctx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("reload cart: %w", ctx.Err())
	}
	if res.Err != nil {
		return fmt.Errorf("reload cart: %w", res.Err)
	}
	lines := res.Val.([]domain.CartLine)

	s.mu.Lock()
	if s.version != start {
		s.mu.Unlock()
		logger.FromContext(ctx).Debug("discarding stale cart reload",
			zap.String("identity", id.Key()),
			zap.Uint64("started_at", start))
		return nil
	}
	s.items = preserveSelection(s.items, lines)
	s.initialized = true
	items := slices.Clone(s.items)
	s.mu.Unlock()

	if err := s.save(ctx, items); err != nil {
		logger.FromContext(ctx).Warn("persist cart failed", zap.Error(err))
	}
	return nil
}

// commitRemote applies a confirmed remote mutation to local state and bumps the version so
// reloads started earlier are discarded.
func (s *Store) commitRemote(ctx context.Context, apply func(now time.Time)) {
	s.mu.Lock()
	apply(s.opts.Now())
	s.version++
	items := slices.Clone(s.items)
	s.mu.Unlock()

	if err := s.save(ctx, items); err != nil {
		logger.FromContext(ctx).Warn("persist cart failed", zap.Error(err))
	}
}

func (s *Store) mutateLocal(ctx context.Context, apply func(now time.Time) error) error {
	s.mu.Lock()
	if err := apply(s.opts.Now()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	items := slices.Clone(s.items)
	s.mu.Unlock()

	if err := s.save(ctx, items); err != nil {
		logger.FromContext(ctx).Warn("persist cart failed", zap.Error(err))
	}
	return nil
}

func (s *Store) save(ctx context.Context, items []domain.CartLine) error {
	if s.state == nil {
		return nil
	}
	return s.state.Save(ctx, persist.CartStorage, s.opts.Session, persisted{Items: items})
}

func (s *Store) beginSync() func() {
	s.mu.Lock()
	s.syncing++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.syncing--
		s.mu.Unlock()
	}
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// The helpers below expect s.mu to be held.

func (s *Store) indexOfLine(lineID string) int {
	return slices.IndexFunc(s.items, func(l domain.CartLine) bool { return l.ID == lineID })
}

func (s *Store) indexOfProduct(productID string) int {
	return slices.IndexFunc(s.items, func(l domain.CartLine) bool { return l.Product.ID == productID })
}

func (s *Store) setQuantity(i, quantity int, now time.Time) {
	s.items[i].Quantity = quantity
	s.items[i].Total = pricing.LineTotal(s.items[i].Product.Price, quantity)
	s.items[i].UpdatedAt = now
}

// upsertLine replaces the line with the same id, or the same product, or appends it.
func (s *Store) upsertLine(line domain.CartLine) {
	i := s.indexOfLine(line.ID)
	if i < 0 {
		i = s.indexOfProduct(line.Product.ID)
	}
	if i < 0 {
		s.items = append(s.items, line)
		return
	}
	line.Selected = line.Selected || s.items[i].Selected
	s.items[i] = line
}

// preserveSelection returns next with the selection flag of lines already selected locally kept.
func preserveSelection(prev, next []domain.CartLine) []domain.CartLine {
	selected := make(map[string]bool, len(prev))
	for _, l := range prev {
		if l.Selected {
			selected[l.ID] = true
		}
	}
	out := make([]domain.CartLine, len(next))
	for i, l := range next {
		l.Selected = l.Selected || selected[l.ID]
		out[i] = l
	}
	return out
}

// mergeKey is stable for the same guest session and the same set of lines and quantities.
func mergeKey(session string, lines []domain.CartLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.ID + ":" + strconv.Itoa(l.Quantity)
	}
	sort.Strings(parts)
	name := session + "|" + strings.Join(parts, ",")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
