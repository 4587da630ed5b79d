// Package gateway is the HTTP client for the remote cart service. It is a
// thin wrapper over the REST contract: every call is a single round trip that
// either returns the full post-operation cart snapshot or a
// cart.GatewayError. Retry policy belongs to the caller.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shopfront-labs/cartsync/internal/cart"
)

// maxResponseBody caps how much of a response we are willing to read. Cart
// snapshots are small; anything bigger is a misbehaving server.
const maxResponseBody = 1 << 20

var _ cart.Gateway = (*Client)(nil)

// Client talks to the remote cart service.
type Client struct {
	baseURL string
	httpc   *http.Client
	lg      *zap.Logger
	tp      trace.TracerProvider
	timeout time.Duration

	// newIdempotencyKey generates the Idempotency-Key header value for
	// mutating calls. Overridable in tests.
	newIdempotencyKey func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client entirely. The otelhttp
// transport is not installed in this case; the caller owns the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the logger for request-level debug output.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// WithTracerProvider sets the tracer provider for the otelhttp transport.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// WithTimeout sets the per-call timeout. Default is 15 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Client for the cart service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse gateway base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("gateway base URL must be http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		lg:                zap.NewNop(),
		timeout:           15 * time.Second,
		newIdempotencyKey: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpc == nil {
		var topts []otelhttp.Option
		if c.tp != nil {
			topts = append(topts, otelhttp.WithTracerProvider(c.tp))
		}
		c.httpc = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, topts...),
		}
	}
	return c, nil
}

// GetCart fetches the current snapshot: GET /cart/{cartId}.
func (c *Client) GetCart(ctx context.Context, cartID string) (*cart.Snapshot, error) {
	return c.do(ctx, http.MethodGet, "/cart/"+url.PathEscape(cartID), nil, nil, false)
}

// AddItem adds quantity units of a variant: POST /cart/{cartId}/add.
func (c *Client) AddItem(ctx context.Context, cartID, variantID string, quantity int) (*cart.Snapshot, error) {
	body := encodeAddRequest(variantID, quantity)
	return c.do(ctx, http.MethodPost, "/cart/"+url.PathEscape(cartID)+"/add", nil, body, true)
}

// UpdateQuantity steps a line quantity:
// PUT /cart/{cartId}/update-quantity?variantId=&action=increase|decrease.
func (c *Client) UpdateQuantity(ctx context.Context, cartID, variantID string, dir cart.Direction) (*cart.Snapshot, error) {
	q := url.Values{
		"variantId": {variantID},
		"action":    {string(dir)},
	}
	return c.do(ctx, http.MethodPut, "/cart/"+url.PathEscape(cartID)+"/update-quantity", q, nil, true)
}

// RemoveItem removes a line: DELETE /cart/{cartId}/remove/{variantId}.
func (c *Client) RemoveItem(ctx context.Context, cartID, variantID string) (*cart.Snapshot, error) {
	path := "/cart/" + url.PathEscape(cartID) + "/remove/" + url.PathEscape(variantID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

// do performs one round trip. Mutating calls carry a fresh Idempotency-Key so
// a server that supports it can dedupe an accidental double submit; the
// client itself never retries mutations.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, mutating bool) (*cart.Snapshot, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build gateway request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutating {
		req.Header.Set("Idempotency-Key", c.newIdempotencyKey())
	}

	c.lg.Debug("cart gateway call", zap.String("method", method), zap.String("url", u))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cart gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, errors.Wrap(err, "read gateway response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, data)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cart snapshot")
	}
	return snap, nil
}
