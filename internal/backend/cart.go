package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// mergeFallbackConcurrency bounds the per-line create calls when the backend has no merge endpoint.
const mergeFallbackConcurrency = 4

func (c *Client) GetUserCart(ctx context.Context, id domain.Identity) ([]domain.CartLine, error) {
	var dtos []cartLineDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/cart/getUserCart/" + url.PathEscape(id.UserID),
		token:  id.Token,
	}, &dtos)
	if err != nil {
		return nil, err
	}
	return toDomainLines(dtos), nil
}

// CreateCartLine adds the product or increments its existing line. The returned line may be
// empty when the backend does not echo it back.
func (c *Client) CreateCartLine(ctx context.Context, id domain.Identity, product domain.Product, quantity int) (domain.CartLine, error) {
	var dto cartLineDTO
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/cart/createCart",
		token:  id.Token,
		body: map[string]any{
			"userId":    id.UserID,
			"productId": product.ID,
			"quantity":  quantity,
		},
	}, &dto)
	if err != nil {
		return domain.CartLine{}, err
	}
	if dto.ID == "" {
		return domain.CartLine{}, nil
	}
	return dto.toDomain(), nil
}

func (c *Client) UpdateCartLine(ctx context.Context, id domain.Identity, lineID string, quantity int) (domain.CartLine, error) {
	var dto cartLineDTO
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/cart/updateCart/" + url.PathEscape(lineID),
		token:  id.Token,
		body:   map[string]any{"quantity": quantity},
	}, &dto)
	if err != nil {
		return domain.CartLine{}, err
	}
	if dto.ID == "" {
		return domain.CartLine{}, nil
	}
	return dto.toDomain(), nil
}

func (c *Client) DeleteCartLine(ctx context.Context, id domain.Identity, lineID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/cart/deleteCart/" + url.PathEscape(lineID),
		token:  id.Token,
	}, nil)
}

// MarkChecked flags the given lines as the ones going to checkout.
func (c *Client) MarkChecked(ctx context.Context, id domain.Identity, lineIDs []string) error {
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   "/cart/checkedCart",
		token:  id.Token,
		body:   map[string]any{"userId": id.UserID, "ids": lineIDs},
	}, nil)
}

type mergeItem struct {
	LineID    string `json:"lineId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type mergeResponse struct {
	Cart    []cartLineDTO        `json:"cart"`
	Results []domain.MergeResult `json:"results"`
}

// MergeCart moves guest lines into the user's cart in one idempotent call. Backends without
// the merge endpoint get one create call per line; per-line results are reported either way.
func (c *Client) MergeCart(ctx context.Context, id domain.Identity, lines []domain.CartLine, idempotencyKey string) (domain.MergeOutcome, error) {
	items := make([]mergeItem, len(lines))
	for i, l := range lines {
		items[i] = mergeItem{LineID: l.ID, ProductID: l.Product.ID, Quantity: l.Quantity}
	}

	var resp mergeResponse
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/cart/mergeCart",
		token:   id.Token,
		headers: map[string]string{"Idempotency-Key": idempotencyKey},
		body:    map[string]any{"userId": id.UserID, "items": items},
	}, &resp)

	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusMethodNotAllowed) {
		logger.FromContext(ctx).Info("merge endpoint unavailable, replaying lines", zap.String("identity", id.Key()))
		return c.replayLines(ctx, id, lines)
	}
	if err != nil {
		return domain.MergeOutcome{}, fmt.Errorf("merge cart: %w", err)
	}

	outcome := domain.MergeOutcome{Results: resp.Results}
	if resp.Cart != nil {
		outcome.Lines = toDomainLines(resp.Cart)
	}
	return outcome, nil
}

func (c *Client) replayLines(ctx context.Context, id domain.Identity, lines []domain.CartLine) (domain.MergeOutcome, error) {
	results := make([]domain.MergeResult, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mergeFallbackConcurrency)
	for i, l := range lines {
		g.Go(func() error {
			res := domain.MergeResult{LineID: l.ID, ProductID: l.Product.ID, Quantity: l.Quantity, Merged: true}
			if _, err := c.CreateCartLine(gctx, id, l.Product, l.Quantity); err != nil {
				res.Merged = false
				res.Error = err.Error()
			}
			results[i] = res
			return nil // keep replaying the other lines
		})
	}
	_ = g.Wait()

	outcome := domain.MergeOutcome{Results: results}
	cart, err := c.GetUserCart(ctx, id)
	if err != nil {
		logger.FromContext(ctx).Warn("reload after replay failed", zap.String("identity", id.Key()), zap.Error(err))
		return outcome, nil
	}
	outcome.Lines = cart
	return outcome, nil
}
