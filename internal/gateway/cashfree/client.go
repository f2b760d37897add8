// Package cashfree implements the payment gateway port on the Cashfree PG
// REST API.
package cashfree

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/bookstore/internal/domain/payment"
)

const (
	SandboxURL    = "https://sandbox.cashfree.com/pg"
	ProductionURL = "https://api.cashfree.com/pg"

	DefaultAPIVersion = "2023-08-01"
)

var _ payment.Gateway = (*Client)(nil)

// Config holds Cashfree credentials and endpoint settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// Environment is "sandbox" or "production". BaseURL overrides it.
	Environment string
	BaseURL     string
	APIVersion  string
	Timeout     time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client is a Cashfree PG client.
type Client struct {
	http    *http.Client
	base    string
	id      string
	secret  string
	version string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("cashfree: client id and secret are required")
	}

	base := cfg.BaseURL
	if base == "" {
		switch cfg.Environment {
		case "", "sandbox":
			base = SandboxURL
		case "production":
			base = ProductionURL
		default:
			return nil, errors.Errorf("cashfree: unknown environment %q", cfg.Environment)
		}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
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
		base:    strings.TrimRight(base, "/"),
		id:      cfg.ClientID,
		secret:  cfg.ClientSecret,
		version: cfg.APIVersion,
	}, nil
}

type orderResponse struct {
	CfOrderID        json.Number `json:"cf_order_id"`
	OrderID          string      `json:"order_id"`
	OrderAmount      json.Number `json:"order_amount"`
	OrderStatus      string      `json:"order_status"`
	PaymentSessionID string      `json:"payment_session_id"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// CreateSession opens a payment session for an order.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	body := encodeOrder(req)

	var resp orderResponse
	if _, err := c.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	return &payment.Session{
		GatewayOrderID:   resp.CfOrderID.String(),
		PaymentSessionID: resp.PaymentSessionID,
	}, nil
}

// FetchOrderStatus returns the gateway status of an order.
func (c *Client) FetchOrderStatus(ctx context.Context, orderID string) (*payment.OrderStatus, error) {
	var resp orderResponse
	raw, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(resp.OrderAmount.String())
	if err != nil {
		amount = decimal.Zero
	}
	return &payment.OrderStatus{
		OrderID: resp.OrderID,
		Status:  resp.OrderStatus,
		Amount:  amount,
		Raw:     raw,
	}, nil
}

func encodeOrder(req payment.SessionRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(req.OrderID)
	e.FieldStart("order_amount")
	e.Raw([]byte(req.Amount.StringFixed(2)))
	e.FieldStart("order_currency")
	e.Str(req.Currency)

	e.FieldStart("customer_details")
	e.ObjStart()
	e.FieldStart("customer_id")
	e.Str(customerID(req))
	e.FieldStart("customer_name")
	e.Str(req.Customer.FullName())
	e.FieldStart("customer_email")
	e.Str(req.Customer.Email)
	e.FieldStart("customer_phone")
	e.Str(req.Customer.Phone)
	e.ObjEnd()

	if req.ReturnURL != "" {
		e.FieldStart("order_meta")
		e.ObjStart()
		e.FieldStart("return_url")
		e.Str(req.ReturnURL)
		e.ObjEnd()
	}

	if len(req.Items) > 0 {
		e.FieldStart("cart_details")
		e.ObjStart()
		e.FieldStart("cart_items")
		e.ArrStart()
		for _, it := range req.Items {
			e.ObjStart()
			e.FieldStart("item_id")
			e.Str(it.ID)
			e.FieldStart("item_name")
			e.Str(it.Name)
			e.FieldStart("item_quantity")
			e.Int(it.Quantity)
			e.FieldStart("item_original_unit_price")
			e.Raw([]byte(it.Price.StringFixed(2)))
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

// customerID falls back to the order id for guest checkouts; Cashfree
// rejects an empty customer id.
func customerID(req payment.SessionRequest) string {
	if req.Customer.ID != "" {
		return req.Customer.ID
	}
	return "guest_" + req.OrderID
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-client-id", c.id)
	req.Header.Set("x-client-secret", c.secret)
	req.Header.Set("x-api-version", c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &payment.Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			gwErr.Message = er.Message
			gwErr.Code = er.Code
		}
		return nil, gwErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return data, nil
}
