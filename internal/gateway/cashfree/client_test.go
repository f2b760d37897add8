package cashfree

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookstore/internal/domain/customer"
	"github.com/xenking/bookstore/internal/domain/payment"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{ClientID: "a", ClientSecret: "b", Environment: "staging"})
	require.Error(t, err)

	c, err := New(Config{ClientID: "a", ClientSecret: "b", Environment: "production"})
	require.NoError(t, err)
	assert.Equal(t, ProductionURL, c.base)

	c, err = New(Config{ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)
	assert.Equal(t, SandboxURL, c.base)
	assert.Equal(t, DefaultAPIVersion, c.version)
}

func TestCreateSession(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "id", r.Header.Get("x-client-id"))
		assert.Equal(t, "secret", r.Header.Get("x-client-secret"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("x-api-version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"cf_order_id":2149460581,"order_id":"abc123def456","order_status":"ACTIVE","payment_session_id":"session_xyz"}`)
	})

	sess, err := c.CreateSession(context.Background(), payment.SessionRequest{
		OrderID:  "abc123def456",
		Amount:   decimal.RequireFromString("1060"),
		Currency: "INR",
		Customer: customer.Customer{
			ID:        "user-1",
			FirstName: "Asha",
			LastName:  "Rao",
			Email:     "asha@example.com",
			Phone:     "9999999999",
		},
		ReturnURL: "https://shop.example.com/return?order_id={order_id}",
		Items: []payment.CartItem{
			{ID: "p1", Name: "Hardcover", Quantity: 2, Price: decimal.RequireFromString("500")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "2149460581", sess.GatewayOrderID)
	assert.Equal(t, "session_xyz", sess.PaymentSessionID)

	assert.Equal(t, "abc123def456", got["order_id"])
	assert.InDelta(t, 1060.0, got["order_amount"], 0.001)
	assert.Equal(t, "INR", got["order_currency"])

	cd := got["customer_details"].(map[string]any)
	assert.Equal(t, "user-1", cd["customer_id"])
	assert.Equal(t, "Asha Rao", cd["customer_name"])
	assert.Equal(t, "9999999999", cd["customer_phone"])

	meta := got["order_meta"].(map[string]any)
	assert.Equal(t, "https://shop.example.com/return?order_id={order_id}", meta["return_url"])

	items := got["cart_details"].(map[string]any)["cart_items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].(map[string]any)["item_id"])
}

func TestCreateSession_GuestCustomer(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"cf_order_id":1,"payment_session_id":"s"}`)
	})

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{
		OrderID:  "o1",
		Amount:   decimal.RequireFromString("10"),
		Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "guest_o1", got["customer_details"].(map[string]any)["customer_id"])
	assert.NotContains(t, got, "order_meta")
	assert.NotContains(t, got, "cart_details")
}

func TestCreateSession_Error(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"order_amount : must be greater than or equal to 1.00","code":"order_amount_invalid","type":"invalid_request_error"}`)
	})

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{OrderID: "o1", Currency: "INR"})

	var gwErr *payment.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "order_amount_invalid", gwErr.Code)
	assert.Contains(t, gwErr.Message, "must be greater than or equal")
}

func TestCreateSession_ErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{OrderID: "o1"})

	var gwErr *payment.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "Bad Gateway", gwErr.Message)
}

func TestFetchOrderStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders/abc123def456", r.URL.Path)
		_, _ = io.WriteString(w, `{"cf_order_id":2149460581,"order_id":"abc123def456","order_amount":1060.00,"order_status":"PAID"}`)
	})

	st, err := c.FetchOrderStatus(context.Background(), "abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", st.OrderID)
	assert.True(t, st.Paid())
	assert.True(t, decimal.RequireFromString("1060").Equal(st.Amount))
	assert.Contains(t, string(st.Raw), `"order_status":"PAID"`)
}

func TestFetchOrderStatus_Active(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"order_id":"o1","order_amount":10,"order_status":"ACTIVE"}`)
	})

	st, err := c.FetchOrderStatus(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, st.Paid())
	assert.Equal(t, "ACTIVE", st.Status)
}

func TestFetchOrderStatus_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"order not found","code":"order_not_found","type":"invalid_request_error"}`)
	})

	_, err := c.FetchOrderStatus(context.Background(), "o1")

	var gwErr *payment.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.Equal(t, "order not found", gwErr.Message)
}
