// Package shiprocket implements the shipment carrier port on the Shiprocket
// REST API.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/bookstore/internal/domain/shipment"
)

const (
	DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"

	// DefaultTokenTTL is one day short of the 10 day token lifetime.
	DefaultTokenTTL = 9 * 24 * time.Hour

	// FallbackPickupLocation is used when the account pickup lookup fails or
	// returns nothing.
	FallbackPickupLocation = "Primary"
)

var _ shipment.Carrier = (*Client)(nil)

// Package is the parcel size sent with every shipment. Real dimensions are
// not derived from catalog data.
type Package struct {
	// Length, Breadth and Height are in centimetres.
	Length  float64
	Breadth float64
	Height  float64
	// Weight is in kilograms.
	Weight float64
}

// DefaultPackage is the parcel size used when none is configured.
var DefaultPackage = Package{Length: 10, Breadth: 10, Height: 5, Weight: 0.5}

// Config holds Shiprocket credentials and shipment defaults.
type Config struct {
	Email    string
	Password string
	BaseURL  string
	TokenTTL time.Duration
	Timeout  time.Duration
	Package  Package

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client is a Shiprocket API client. It logs in lazily and shares one token
// between concurrent calls.
type Client struct {
	http     *http.Client
	base     string
	email    string
	password string
	ttl      time.Duration
	pkg      Package
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	login   singleflight.Group
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("shiprocket: email and password are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Package == (Package{}) {
		cfg.Package = DefaultPackage
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
			Timeout:   cfg.Timeout,
		},
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		ttl:      cfg.TokenTTL,
		pkg:      cfg.Package,
		now:      time.Now,
	}, nil
}

// APIError is a non-success Shiprocket response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket: %d: %s", e.StatusCode, e.Message)
}

// UpstreamMessage returns the message reported by Shiprocket.
func (e *APIError) UpstreamMessage() string {
	return e.Message
}

// authToken returns a valid token, logging in when there is none or it has
// expired. Concurrent logins collapse into one.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expires) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.login.Do("login", func() (any, error) {
		return c.doLogin(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doLogin(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", errors.Wrap(err, "encode login")
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return "", &shipment.AuthenticationError{Err: err}
	}
	if resp.Token == "" {
		return "", &shipment.AuthenticationError{Err: errors.New("empty token")}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.expires = c.now().Add(c.ttl)
	c.mu.Unlock()

	zctx.From(ctx).Info("Shiprocket token refreshed")
	return resp.Token, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
		c.expires = time.Time{}
	}
	c.mu.Unlock()
}

// call performs an authenticated request. A 401 drops the cached token so the
// next call logs in again.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	tok, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, method, path, tok, body, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.invalidate(tok)
		zctx.From(ctx).Warn("Shiprocket token rejected", zap.String("path", path))
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			apiErr.Message = er.Message
		}
		return apiErr
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = data
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
		return nil
	}
}
