package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func newTestRegistry(t *testing.T, remote *mockRemote, state persist.Store, clock *fakeClock) *Registry {
	t.Helper()
	r := NewRegistry(remote, state, RegistryOptions{
		IdleTTL:         10 * time.Minute,
		CleanupInterval: time.Hour,
		Now:             clock.Now,
	})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestRegistry_GetReturnsSameStore(t *testing.T) {
	r := newTestRegistry(t, newMockRemote(), persist.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	a := r.Get(ctx, guest)
	b := r.Get(ctx, guest)
	c := r.Get(ctx, user)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentGetInitializesOnce(t *testing.T) {
	remote := newMockRemote()
	remote.seed("u1", domain.CartLine{ID: "r1", Product: vape, Quantity: 1, Total: 10})
	r := newTestRegistry(t, remote, persist.NewMemoryStore(), newFakeClock())

	var wg sync.WaitGroup
	stores := make([]*Store, 8)
	for i := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stores[i] = r.Get(context.Background(), user)
		}()
	}
	wg.Wait()

	for _, st := range stores {
		assert.Same(t, stores[0], st)
	}
	assert.Equal(t, 1, remote.calls())
	assert.Equal(t, 1, stores[0].CartCount())
}

func TestRegistry_RestoresGuestCart(t *testing.T) {
	state := persist.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, state.Save(ctx, persist.CartStorage, guest.Key(), persisted{Items: []domain.CartLine{
		{ID: "l1", Product: cigar, Quantity: 2, Total: 25},
	}}))

	r := newTestRegistry(t, newMockRemote(), state, newFakeClock())
	st := r.Get(ctx, guest)

	assert.Equal(t, 2, st.CartCount())
	assert.Equal(t, "$25.00", st.FormattedSubtotal())
}

func TestRegistry_EvictsIdleStores(t *testing.T) {
	state := persist.NewMemoryStore()
	clock := newFakeClock()
	r := newTestRegistry(t, newMockRemote(), state, clock)
	ctx := context.Background()

	idle := r.Get(ctx, guest)
	require.NoError(t, idle.AddItem(ctx, guest, vape, 1))

	clock.Advance(5 * time.Minute)
	r.Get(ctx, user)

	clock.Advance(6 * time.Minute)
	r.evictIdle()

	assert.Equal(t, 1, r.Len())
	assert.ErrorIs(t, idle.AddItem(ctx, guest, vape, 1), ErrClosed)

	reloaded := r.Get(ctx, guest)
	assert.NotSame(t, idle, reloaded)
	assert.Equal(t, 1, reloaded.CartCount(), "evicted cart is persisted and restored")
}

func TestRegistry_ForgetDoesNotPersist(t *testing.T) {
	state := persist.NewMemoryStore()
	r := newTestRegistry(t, newMockRemote(), state, newFakeClock())
	ctx := context.Background()

	st := r.Get(ctx, guest)
	require.NoError(t, st.AddItem(ctx, guest, vape, 1))
	require.NoError(t, state.Delete(ctx, persist.CartStorage, guest.Key()))

	r.Forget(guest.Key())
	require.NoError(t, r.Close(ctx))

	assert.Equal(t, 0, state.Len())
	assert.ErrorIs(t, st.AddItem(ctx, guest, vape, 1), ErrClosed)
}

func TestRegistry_SyncGuestToUser(t *testing.T) {
	remote := newMockRemote()
	state := persist.NewMemoryStore()
	r := newTestRegistry(t, remote, state, newFakeClock())
	ctx := context.Background()

	g := r.Get(ctx, guest)
	require.NoError(t, g.AddItem(ctx, guest, vape, 2))
	require.NoError(t, g.AddItem(ctx, guest, cigar, 1))

	outcome, err := r.SyncGuestToUser(ctx, guest, user)
	require.NoError(t, err)
	assert.Len(t, outcome.Results, 2)

	u := r.Get(ctx, user)
	assert.Equal(t, 3, u.CartCount())
	assert.Equal(t, 1, r.Len(), "fully merged guest session is dropped")

	var doc persisted
	assert.ErrorIs(t, state.Load(ctx, persist.CartStorage, guest.Key(), &doc), persist.ErrNotFound)
}

func TestRegistry_SyncGuestToUserPartial(t *testing.T) {
	remote := newMockRemote()
	remote.createErr["p1"] = errors.New("out of stock")
	r := newTestRegistry(t, remote, persist.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	g := r.Get(ctx, guest)
	require.NoError(t, g.AddItem(ctx, guest, vape, 1))
	require.NoError(t, g.AddItem(ctx, guest, cigar, 1))

	_, err := r.SyncGuestToUser(ctx, guest, user)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Get(ctx, user).CartCount())
	assert.Same(t, g, r.Get(ctx, guest))
	assert.Equal(t, 1, g.ItemQuantity("p1"))
}

func TestRegistry_SyncError(t *testing.T) {
	remote := newMockRemote()
	remote.mergeErr = errors.New("backend down")
	r := newTestRegistry(t, remote, persist.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	g := r.Get(ctx, guest)
	require.NoError(t, g.AddItem(ctx, guest, vape, 1))

	_, err := r.SyncGuestToUser(ctx, guest, user)
	require.Error(t, err)
	assert.Equal(t, 1, g.CartCount())
}

func TestRegistry_ClosePersistsStores(t *testing.T) {
	state := persist.NewMemoryStore()
	r := NewRegistry(newMockRemote(), state, RegistryOptions{CleanupInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, r.Get(ctx, guest).AddItem(ctx, guest, vape, 1))
	require.NoError(t, state.Delete(ctx, persist.CartStorage, guest.Key()))

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	var doc persisted
	require.NoError(t, state.Load(ctx, persist.CartStorage, guest.Key(), &doc))
	assert.Len(t, doc.Items, 1)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RetriesFailedInitialLoad(t *testing.T) {
	remote := newMockRemote()
	remote.seed("u1", domain.CartLine{ID: "r1", Product: vape, Quantity: 2, Total: 20})
	remote.getErr = errors.New("backend down")
	r := newTestRegistry(t, remote, persist.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	first := r.Get(ctx, user)
	assert.Zero(t, first.CartCount())
	assert.False(t, first.Initialized())

	remote.mu.Lock()
	remote.getErr = nil
	remote.mu.Unlock()

	second := r.Get(ctx, user)
	assert.Same(t, first, second)
	assert.Equal(t, 2, second.CartCount())
	assert.True(t, second.Initialized())

	r.Get(ctx, user)
	assert.Equal(t, 2, remote.calls(), "a loaded cart is not fetched again")
}

func TestRegistry_SourceFollowsEvictedStore(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, newMockRemote(), persist.NewMemoryStore(), clock)
	ctx := context.Background()
	src := r.Source(guest)

	require.NoError(t, r.Get(ctx, guest).AddItem(ctx, guest, vape, 1))
	require.Len(t, src.CheckoutLines(), 1)

	clock.Advance(11 * time.Minute)
	r.evictIdle()
	require.Zero(t, r.Len())

	require.NoError(t, r.Get(ctx, guest).AddItem(ctx, guest, cigar, 1))

	lines := src.CheckoutLines()
	require.Len(t, lines, 2)
	var total float64
	for _, l := range lines {
		total += l.Total
	}
	assert.InDelta(t, 22.5, total, 0.001)
}

func TestRegistry_GetKeepsStoreAliveAcrossEviction(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, newMockRemote(), persist.NewMemoryStore(), clock)
	ctx := context.Background()

	st := r.Get(ctx, guest)
	clock.Advance(11 * time.Minute)
	again := r.Get(ctx, guest)
	r.evictIdle()

	assert.Same(t, st, again)
	assert.Equal(t, 1, r.Len())
	assert.NoError(t, again.AddItem(ctx, guest, vape, 1))
}

func TestRegistry_GetNeverReturnsClosedStore(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, newMockRemote(), persist.NewMemoryStore(), clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Forget(guest.Key())
			}
		}
	}()

	for range 200 {
		st := r.Get(ctx, guest)
		require.NotNil(t, st)
	}
	close(stop)
	wg.Wait()

	assert.NoError(t, r.Get(ctx, guest).checkOpen())
}

func TestRegistry_CompletePurchaseGuest(t *testing.T) {
	state := persist.NewMemoryStore()
	r := newTestRegistry(t, newMockRemote(), state, newFakeClock())
	ctx := context.Background()

	st := r.Get(ctx, guest)
	require.NoError(t, st.AddItem(ctx, guest, vape, 1))
	require.NoError(t, st.AddItem(ctx, guest, cigar, 2))
	bought := st.Items()[0].ID

	require.NoError(t, r.CompletePurchase(ctx, guest, []string{bought}))

	assert.Equal(t, 0, st.ItemQuantity("p2"))
	assert.Equal(t, 2, st.ItemQuantity("p1"))

	var doc persisted
	require.NoError(t, state.Load(ctx, persist.CartStorage, guest.Key(), &doc))
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "p1", doc.Items[0].Product.ID)
}

func TestRegistry_CompletePurchaseUserReloads(t *testing.T) {
	remote := newMockRemote()
	r := newTestRegistry(t, remote, persist.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	st := r.Get(ctx, user)
	require.NoError(t, st.AddItem(ctx, user, vape, 1))

	// the backend empties the cart when the order is placed
	remote.mu.Lock()
	remote.carts["u1"] = nil
	remote.mu.Unlock()

	require.NoError(t, r.CompletePurchase(ctx, user, []string{st.Items()[0].ID}))

	fresh := r.Get(ctx, user)
	assert.NotSame(t, st, fresh)
	assert.Zero(t, fresh.CartCount())
}
