package shiprocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookstore/internal/domain/customer"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

type fakeShiprocket struct {
	t *testing.T

	logins     atomic.Int32
	loginFail  bool
	loginDelay time.Duration
	token      string

	pickupStatus int
	pickupBody   string

	mu        sync.Mutex
	created   map[string]any
	cancelled map[string]any
	trackBody string
	services  string
	query     map[string]string
	reject    bool
}

func (f *fakeShiprocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/login" {
		f.logins.Add(1)
		if f.loginDelay > 0 {
			time.Sleep(f.loginDelay)
		}
		var body map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if f.loginFail || body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"message":"Invalid email and password combination","status_code":400}`)
			return
		}
		_, _ = io.WriteString(w, `{"token":"`+f.token+`"}`)
		return
	}

	if f.reject || r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Token has expired","status_code":401}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/settings/company/pickup":
		if f.pickupStatus != 0 {
			w.WriteHeader(f.pickupStatus)
			return
		}
		_, _ = io.WriteString(w, f.pickupBody)
	case "/orders/create/adhoc":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.created))
		_, _ = io.WriteString(w, `{"order_id":123,"shipment_id":456,"status":"NEW","status_code":1}`)
	case "/orders/cancel":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.cancelled))
		_, _ = io.WriteString(w, `{"status_code":200,"message":"Order cancelled successfully."}`)
	case "/courier/track/shipment/456":
		_, _ = io.WriteString(w, f.trackBody)
	case "/courier/serviceability/":
		f.query = map[string]string{}
		for k := range r.URL.Query() {
			f.query[k] = r.URL.Query().Get(k)
		}
		_, _ = io.WriteString(w, f.services)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeShiprocket) {
	t.Helper()
	f := &fakeShiprocket{
		t:          t,
		token:      "tok-1",
		pickupBody: `{"data":{"shipping_address":[{"pickup_location":"Warehouse-BLR","pin_code":"560001"}]}}`,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(Config{Email: "ops@example.com", Password: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	return c, f
}

func testRequest() shipment.CreateRequest {
	return shipment.CreateRequest{
		OrderID:   "abc123def456",
		OrderDate: time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC),
		Customer: customer.Customer{
			FirstName: "Asha",
			LastName:  "Rao",
			Email:     "asha@example.com",
			Phone:     "9999999999",
			Address: &customer.Address{
				Street:   "12 MG Road",
				Landmark: "Near Metro",
				City:     "Bengaluru",
				State:    "Karnataka",
				Pincode:  "560001",
			},
		},
		Items: []shipment.Item{
			{SKU: "p1", Name: "Hardcover", Units: 2, SellingPrice: decimal.RequireFromString("500")},
		},
		SubTotal: decimal.RequireFromString("1000"),
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Email: "a"})
	require.Error(t, err)

	c, err := New(Config{Email: "a", Password: "b"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.base)
	assert.Equal(t, DefaultTokenTTL, c.ttl)
	assert.Equal(t, DefaultPackage, c.pkg)
}

func TestCreateShipment(t *testing.T) {
	c, f := newTestClient(t)

	created, err := c.CreateShipment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(123), created.CarrierOrderID)
	assert.Equal(t, int64(456), created.CarrierShipmentID)
	assert.Contains(t, string(created.Raw), `"status":"NEW"`)

	got := f.created
	assert.Equal(t, "abc123def456", got["order_id"])
	assert.Equal(t, "2026-04-02 15:30", got["order_date"])
	assert.Equal(t, "Warehouse-BLR", got["pickup_location"])
	assert.Equal(t, "Asha", got["billing_customer_name"])
	assert.Equal(t, "Near Metro", got["billing_address_2"])
	assert.Equal(t, "India", got["billing_country"])
	assert.Equal(t, true, got["shipping_is_billing"])
	assert.Equal(t, "Prepaid", got["payment_method"])
	assert.InDelta(t, 1000.0, got["sub_total"], 0.001)
	assert.InDelta(t, 10.0, got["length"], 0.001)
	assert.InDelta(t, 10.0, got["breadth"], 0.001)
	assert.InDelta(t, 5.0, got["height"], 0.001)
	assert.InDelta(t, 0.5, got["weight"], 0.001)

	items := got["order_items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "p1", item["sku"])
	assert.InDelta(t, 2.0, item["units"], 0.001)
	assert.InDelta(t, 500.0, item["selling_price"], 0.001)

	assert.Equal(t, int32(1), f.logins.Load())
}

func TestCreateShipment_PickupFallback(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "lookup fails", status: http.StatusInternalServerError},
		{name: "no locations", body: `{"data":{"shipping_address":[]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newTestClient(t)
			f.pickupStatus = tt.status
			f.pickupBody = tt.body

			_, err := c.CreateShipment(context.Background(), testRequest())
			require.NoError(t, err)
			assert.Equal(t, FallbackPickupLocation, f.created["pickup_location"])
		})
	}
}

func TestCreateShipment_ConfiguredPackage(t *testing.T) {
	c, f := newTestClient(t)
	c.pkg = Package{Length: 30, Breadth: 20, Height: 4, Weight: 1.2}

	_, err := c.CreateShipment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.InDelta(t, 30.0, f.created["length"], 0.001)
	assert.InDelta(t, 1.2, f.created["weight"], 0.001)
}

func TestCreateShipment_AuthenticationFailure(t *testing.T) {
	c, f := newTestClient(t)
	f.loginFail = true

	_, err := c.CreateShipment(context.Background(), testRequest())

	var authErr *shipment.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "Invalid email and password")
	assert.Nil(t, f.created)
}

func TestToken_ReusedUntilExpiry(t *testing.T) {
	c, f := newTestClient(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	f.trackBody = `{"tracking_data":{"track_status":0}}`

	for range 3 {
		_, err := c.TrackShipment(context.Background(), 456)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.logins.Load())

	now = now.Add(DefaultTokenTTL)
	_, err := c.TrackShipment(context.Background(), 456)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestToken_ConcurrentRefreshLogsInOnce(t *testing.T) {
	c, f := newTestClient(t)
	f.loginDelay = 50 * time.Millisecond
	f.trackBody = `{"tracking_data":{"track_status":0}}`

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.TrackShipment(context.Background(), 456)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.logins.Load())
}

func TestToken_UnauthorizedInvalidates(t *testing.T) {
	c, f := newTestClient(t)
	f.trackBody = `{"tracking_data":{"track_status":0}}`

	_, err := c.TrackShipment(context.Background(), 456)
	require.NoError(t, err)

	f.reject = true
	_, err = c.TrackShipment(context.Background(), 456)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	f.reject = false
	_, err = c.TrackShipment(context.Background(), 456)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestTrackShipment(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		state   shipment.TrackingState
		message string
		history bool
	}{
		{
			name:    "not picked up",
			body:    `{"tracking_data":{"track_status":0,"shipment_status":0,"shipment_track":[],"shipment_track_activities":[]}}`,
			state:   shipment.TrackingPending,
			message: notPickedUp,
		},
		{
			name:    "carrier error",
			body:    `{"tracking_data":{"track_status":1,"error":"Aahh! There is no activities found in our DB. Please have some patience it will be updated soon."}}`,
			state:   shipment.TrackingPending,
			message: "Aahh! There is no activities found in our DB. Please have some patience it will be updated soon.",
		},
		{
			name:    "in transit",
			body:    `{"tracking_data":{"track_status":1,"shipment_track_activities":[{"date":"2026-04-03 10:00:00","activity":"Picked up","location":"BLR"}]}}`,
			state:   shipment.TrackingInProgress,
			history: true,
		},
		{
			name:    "nested under shipment id",
			body:    `{"456":{"tracking_data":{"track_status":1,"shipment_track_activities":[{"activity":"In transit"}]}}}`,
			state:   shipment.TrackingInProgress,
			history: true,
		},
		{
			name:  "empty activities",
			body:  `{"tracking_data":{"track_status":1,"shipment_track_activities":null}}`,
			state: shipment.TrackingUnknown,
		},
		{
			name:  "no tracking data",
			body:  `{}`,
			state: shipment.TrackingUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newTestClient(t)
			f.trackBody = tt.body

			tr, err := c.TrackShipment(context.Background(), 456)
			require.NoError(t, err)
			assert.Equal(t, int64(456), tr.ShipmentID)
			assert.Equal(t, tt.state, tr.State)
			assert.Equal(t, tt.message, tr.Message)
			if tt.history {
				assert.NotEmpty(t, tr.History)
			} else {
				assert.Empty(t, tr.History)
			}
		})
	}
}

func TestCancelShipment(t *testing.T) {
	c, f := newTestClient(t)

	require.NoError(t, c.CancelShipment(context.Background(), 123))
	ids := f.cancelled["ids"].([]any)
	require.Len(t, ids, 1)
	assert.InDelta(t, 123.0, ids[0], 0.001)
}

func TestServiceability(t *testing.T) {
	c, f := newTestClient(t)
	f.services = `{"status":200,"data":{"available_courier_companies":[
		{"courier_company_id":10,"courier_name":"Delhivery Surface","rate":78.5,"estimated_delivery_days":"5","etd":"Apr 08, 2026"},
		{"courier_company_id":"24","courier_name":"Xpressbees","rate":"65","estimated_delivery_days":4,"etd":"Apr 07, 2026","extra":{"a":1}}
	]}}`

	couriers, err := c.Serviceability(context.Background(), shipment.ServiceabilityQuery{
		PickupPincode:   "110001",
		DeliveryPincode: "560001",
		Weight:          0.5,
	})
	require.NoError(t, err)
	require.Len(t, couriers, 2)

	assert.Equal(t, int64(10), couriers[0].ID)
	assert.Equal(t, "Delhivery Surface", couriers[0].Name)
	assert.True(t, decimal.RequireFromString("78.5").Equal(couriers[0].Rate))
	assert.Equal(t, 5, couriers[0].EstimatedDays)
	assert.Equal(t, "Apr 08, 2026", couriers[0].ETD)

	assert.Equal(t, int64(24), couriers[1].ID)
	assert.True(t, decimal.RequireFromString("65").Equal(couriers[1].Rate))
	assert.Equal(t, 4, couriers[1].EstimatedDays)

	assert.Equal(t, map[string]string{
		"pickup_postcode":   "110001",
		"delivery_postcode": "560001",
		"weight":            "0.5",
		"cod":               "0",
	}, f.query)
}

func TestServiceability_NoCouriers(t *testing.T) {
	c, f := newTestClient(t)
	f.services = `{"status":404,"message":"No courier serviceable"}`

	couriers, err := c.Serviceability(context.Background(), shipment.ServiceabilityQuery{DeliveryPincode: "000000"})
	require.NoError(t, err)
	assert.Empty(t, couriers)
}
