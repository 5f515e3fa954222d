package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/SaifulET/ciger-storefront/internal/domain"
)

func (c *Client) GetBrands(ctx context.Context) ([]Brand, error) {
	var out []Brand
	err := c.do(ctx, request{method: http.MethodGet, path: "/brand/getAllBrands"}, &out)
	return out, err
}

func (c *Client) GetBlogs(ctx context.Context) ([]Blog, error) {
	var out []Blog
	err := c.do(ctx, request{method: http.MethodGet, path: "/blog/getAllBlogs"}, &out)
	return out, err
}

func (c *Client) GetReviews(ctx context.Context) ([]Review, error) {
	var out []Review
	err := c.do(ctx, request{method: http.MethodGet, path: "/review/getAllReview"}, &out)
	return out, err
}

func (c *Client) GetCarouselImages(ctx context.Context) ([]CarouselImage, error) {
	var out []CarouselImage
	err := c.do(ctx, request{method: http.MethodGet, path: "/carousel/getAllImages"}, &out)
	return out, err
}

// GetNotifications is the one call with its own, shorter abort timeout.
func (c *Client) GetNotifications(ctx context.Context, id domain.Identity) ([]Notification, error) {
	var out []Notification
	err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "/notification/getNotifications/" + url.PathEscape(id.UserID),
		token:   id.Token,
		timeout: c.notificationTimeout,
	}, &out)
	return out, err
}

func (c *Client) GetUserOrders(ctx context.Context, id domain.Identity) ([]Order, error) {
	var out []Order
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/order/userOrder/" + url.PathEscape(id.UserID),
		token:  id.Token,
	}, &out)
	return out, err
}
