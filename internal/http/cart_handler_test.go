package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/SaifulET/ciger-storefront/internal/cart"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.guest(t).do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCart_GuestAddAndRemove(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[cart.View](t, rec).Count)

	rec = c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{
		Product:  domain.Product{ID: "p2", Name: "Vape Pod", Price: 12.5},
		Quantity: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[cart.View](t, rec)
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, "$12.50", view.FormattedSubtotal)
	require.Len(t, view.Items, 1)

	rec = c.do(http.MethodDelete, "/api/v1/cart/items/"+view.Items[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cart.View](t, rec).Items)
}

func TestCart_UpdateQuantity(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{
		Product:  domain.Product{ID: "p1"},
		Quantity: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	lineID := decode[cart.View](t, rec).Items[0].ID

	rec = c.do(http.MethodPut, "/api/v1/cart/items/"+lineID, UpdateQuantityRequestDTO{Quantity: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[cart.View](t, rec)
	assert.InDelta(t, 75.0, view.Items[0].Total, 0.001)
	assert.InDelta(t, 75.0, view.Subtotal, 0.001)

	rec = c.do(http.MethodPut, "/api/v1/cart/items/"+lineID, UpdateQuantityRequestDTO{Quantity: 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cart.View](t, rec).Items)
}

func TestCart_Validation(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_product_id", decode[ErrorResponse](t, rec).Code)

	rec = c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: domain.Product{ID: "p1"}, Quantity: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decode[ErrorResponse](t, rec).Code)

	rec = c.do(http.MethodDelete, "/api/v1/cart/items/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestCart_AddItemUsesCatalogProduct(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{
		Product:  domain.Product{ID: "p2", Name: "Free Pod", Price: 0.01},
		Quantity: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[cart.View](t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Vape Pod", view.Items[0].Product.Name)
	assert.InDelta(t, 12.5, view.Items[0].Product.Price, 0.001)
	assert.InDelta(t, 25.0, view.Subtotal, 0.001)

	rec = c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: domain.Product{ID: "nope"}, Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCart_SelectAndMarkChecked(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodPost, "/api/v1/cart/checked", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: domain.Product{ID: "p1"}, Quantity: 1})
	lineID := decode[cart.View](t, rec).Items[0].ID

	rec = c.do(http.MethodPut, "/api/v1/cart/items/"+lineID+"/selected", ToggleSelectedRequestDTO{Selected: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[cart.View](t, rec).Items[0].Selected)

	rec = c.do(http.MethodPost, "/api/v1/cart/checked", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{lineID}, decode[map[string][]string](t, rec)["line_ids"])
}

func TestCart_UserCartIsRemote(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t).signIn("u1")

	rec := c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: domain.Product{ID: "p1", Price: 25}, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[cart.View](t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "r1", view.Items[0].ID)

	srv.backend.mu.Lock()
	assert.Len(t, srv.backend.carts["u1"], 1)
	srv.backend.mu.Unlock()
}

func TestCart_SyncGuestCart(t *testing.T) {
	srv := newTestServer(t)
	c := srv.guest(t)

	rec := c.do(http.MethodPost, "/api/v1/cart/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: domain.Product{ID: "p1", Price: 25}, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	guestID := c.cookie.Value

	c.signIn("u1")
	rec = c.do(http.MethodPost, "/api/v1/cart/sync", SyncRequestDTO{Email: "jane@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SyncResponseDTO](t, rec)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Merged)
	assert.Equal(t, 1, resp.Cart.Count)

	var user userState
	require.NoError(t, srv.state.Load(context.Background(), persist.UserStore, "user:u1", &user))
	assert.Equal(t, guestID, user.GuestID)
	assert.Equal(t, "jane@example.com", user.Email)
}
