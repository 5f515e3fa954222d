package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/SaifulET/ciger-storefront/internal/domain"
)

func (c *Client) GetAllProducts(ctx context.Context) ([]domain.Product, error) {
	var dtos []productDTO
	if err := c.do(ctx, request{method: http.MethodGet, path: "/product/getAllProduct"}, &dtos); err != nil {
		return nil, err
	}
	return toDomainProducts(dtos), nil
}

func (c *Client) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var dto productDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/product/getProductById/" + url.PathEscape(productID),
	}, &dto)
	if err != nil {
		return domain.Product{}, err
	}
	if dto.ID == "" {
		return domain.Product{}, &APIError{Status: http.StatusNotFound, Message: "product not found"}
	}
	return dto.toDomain(), nil
}

func (c *Client) GetRelatedProducts(ctx context.Context, productID string) ([]domain.Product, error) {
	var dtos []productDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/product/getRelatedProduct/" + url.PathEscape(productID),
	}, &dtos)
	if err != nil {
		return nil, err
	}
	return toDomainProducts(dtos), nil
}

func toDomainProducts(dtos []productDTO) []domain.Product {
	products := make([]domain.Product, len(dtos))
	for i, p := range dtos {
		products[i] = p.toDomain()
	}
	return products
}
