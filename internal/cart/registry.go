package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"go.uber.org/zap"
)

const (
	// DefaultIdleTTL is how long an unused store stays in memory.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultCleanupInterval is how often idle stores are evicted.
	DefaultCleanupInterval = time.Minute
)

type RegistryOptions struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	Store           Options
	Now             func() time.Time
}

// Registry owns one Store per session key. Stores are loaded on first use and evicted
// after IdleTTL without access; evicted stores are persisted first.
type Registry struct {
	remote RemoteCart
	state  persist.Store
	opts   RegistryOptions

	mu      sync.Mutex
	entries map[string]*entry

	stopCleanup chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type entry struct {
	once     sync.Once
	store    atomic.Pointer[Store]
	lastUsed atomic.Int64
}

func NewRegistry(remote RemoteCart, state persist.Store, opts RegistryOptions) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		remote:      remote,
		state:       state,
		opts:        opts,
		entries:     make(map[string]*entry),
		stopCleanup: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

// Get returns the store for id, restoring it on first use. A signed-in cart whose remote
// load has not succeeded yet is loaded again.
func (r *Registry) Get(ctx context.Context, id domain.Identity) *Store {
	key := id.Key()

	for {
		e := r.touch(key)
		e.once.Do(func() {
			opts := r.opts.Store
			opts.Session = key
			st := NewStore(r.remote, r.state, opts)
			if err := st.Restore(ctx); err != nil {
				logger.FromContext(ctx).Warn("restore cart failed", zap.String("session", key), zap.Error(err))
			}
			st.InitializeCart(ctx, id)
			e.store.Store(st)
		})
		st := e.store.Load()

		// An evicted or forgotten entry hands out a closed store; start over with a fresh one.
		if st.checkOpen() != nil && !r.holds(key, e) {
			continue
		}
		if id.IsKnown() && !st.Initialized() {
			st.InitializeCart(ctx, id)
		}
		return st
	}
}

// Source returns a CheckoutLines view that always reads id's current store.
func (r *Registry) Source(id domain.Identity) *Source {
	return &Source{reg: r, id: id}
}

// Source follows an identity's cart across eviction and reload.
type Source struct {
	reg *Registry
	id  domain.Identity
}

func (s *Source) CheckoutLines() []domain.CartLine {
	return s.reg.Get(context.Background(), s.id).CheckoutLines()
}

// CompletePurchase removes paid lines after an order succeeded. A signed-in store is dropped
// so the next access reads the cart the backend kept.
func (r *Registry) CompletePurchase(ctx context.Context, id domain.Identity, lineIDs []string) error {
	if id.IsKnown() {
		r.Forget(id.Key())
		return nil
	}
	return r.Get(ctx, id).RemovePurchased(ctx, lineIDs)
}

// touch returns the entry for key, creating it, and marks it used while r.mu is held so
// eviction never picks an entry that is being handed out.
func (r *Registry) touch(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.lastUsed.Store(r.opts.Now().UnixNano())
	return e
}

func (r *Registry) holds(key string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key] == e
}

// SyncGuestToUser merges the guest cart into the user's remote cart and installs the
// resulting cart in the user's store. A fully merged guest session is dropped.
func (r *Registry) SyncGuestToUser(ctx context.Context, guest, user domain.Identity) (domain.MergeOutcome, error) {
	guestStore := r.Get(ctx, guest)
	userStore := r.Get(ctx, user)

	outcome, err := guestStore.SyncGuestCartToUser(ctx, user)
	if err != nil {
		return outcome, err
	}

	if outcome.Lines != nil {
		userStore.ReplaceLines(ctx, outcome.Lines)
	} else if err := userStore.Refresh(ctx, user); err != nil {
		logger.FromContext(ctx).Warn("refresh after merge failed", zap.String("identity", user.Key()), zap.Error(err))
	}

	if len(guestStore.Items()) == 0 {
		r.Forget(guest.Key())
		if r.state != nil {
			if err := r.state.Delete(ctx, persist.CartStorage, guest.Key()); err != nil {
				logger.FromContext(ctx).Warn("drop guest cart failed", zap.String("session", guest.Key()), zap.Error(err))
			}
		}
	}
	return outcome, nil
}

// Forget drops the in-memory store for key without persisting it.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if !ok {
		return
	}
	if st := e.store.Load(); st != nil {
		st.discard()
	}
}

// Len reports how many stores are held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := r.opts.Now().Add(-r.opts.IdleTTL).UnixNano()

	var idle []*Store
	r.mu.Lock()
	for key, e := range r.entries {
		st := e.store.Load()
		if st != nil && e.lastUsed.Load() < cutoff {
			idle = append(idle, st)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, st := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.Close(ctx); err != nil {
			zap.L().Warn("persist evicted cart failed", zap.String("session", st.opts.Session), zap.Error(err))
		}
		cancel()
	}
}

// Close stops eviction and persists every held store.
func (r *Registry) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.stopCleanup)
	})
	r.wg.Wait()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		st := e.store.Load()
		if st == nil {
			continue
		}
		if err := st.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
