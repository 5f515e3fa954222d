// Package backend is the REST client for the storefront API (catalog, carts, orders,
// tax, discounts, payments and content). It never retries; every call gets its own
// timeout and passes through a circuit breaker.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("backend: not found")
	ErrCircuitOpen = errors.New("backend: circuit open")
	ErrRejected    = errors.New("backend: request rejected")
)

// APIError is a non-2xx answer (or a 2xx answer with success=false) from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRejected:
		return e.Status < http.StatusBadRequest
	}
	return false
}

type Options struct {
	BaseURL             string
	Timeout             time.Duration
	NotificationTimeout time.Duration
	Transport           http.RoundTripper
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a probe through.
	OpenTimeout time.Duration
}

type Client struct {
	baseURL             string
	httpClient          *http.Client
	breaker             *gobreaker.CircuitBreaker[*response]
	timeout             time.Duration
	notificationTimeout time.Duration
}

type response struct {
	status int
	body   []byte
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type request struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
	timeout time.Duration
}

func New(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.NotificationTimeout == 0 {
		opts.NotificationTimeout = 15 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:             strings.TrimRight(opts.BaseURL, "/"),
		httpClient:          &http.Client{Transport: otelhttp.NewTransport(transport)},
		breaker:             breaker,
		timeout:             opts.Timeout,
		notificationTimeout: opts.NotificationTimeout,
	}
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	timeout := req.timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel() // releases resources if the call completes before timeout elapses

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	if requestID := logger.RequestID(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	res, err := c.breaker.Execute(func() (*response, error) {
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		r := &response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, newAPIError(r)
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", req.method, req.path, ErrCircuitOpen)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	if res.status >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %w", req.method, req.path, newAPIError(res))
	}

	if err := decode(res, out); err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	return nil
}

// decode accepts both the {success, message, data} envelope and a bare JSON body.
func decode(res *response, out any) error {
	if len(bytes.TrimSpace(res.body)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		// Not an object: arrays and scalars are decoded as-is.
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	if env.Success != nil && !*env.Success {
		return &APIError{Status: res.status, Message: env.Message}
	}
	if out == nil {
		return nil
	}

	if env.Data == nil {
		// Flat object such as {"success":true,"orderId":"..."}; a bare status
		// envelope has nothing to decode into a list.
		err := json.Unmarshal(res.body, out)
		var typeErr *json.UnmarshalTypeError
		if err != nil && !(env.Success != nil && errors.As(err, &typeErr)) {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	if string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(res *response) *APIError {
	var env envelope
	msg := ""
	if err := json.Unmarshal(res.body, &env); err == nil {
		msg = env.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(res.body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	if msg == "" {
		msg = http.StatusText(res.status)
	}
	return &APIError{Status: res.status, Message: msg}
}
