package shiprocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/shipment"
)

const orderDateLayout = "2006-01-02 15:04"

// pickupLocation returns the first pickup location registered on the
// account, or FallbackPickupLocation.
func (c *Client) pickupLocation(ctx context.Context) string {
	var resp struct {
		Data struct {
			ShippingAddress []struct {
				PickupLocation string `json:"pickup_location"`
			} `json:"shipping_address"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/settings/company/pickup", nil, &resp); err != nil {
		zctx.From(ctx).Warn("Pickup location lookup failed", zap.Error(err))
		return FallbackPickupLocation
	}
	for _, a := range resp.Data.ShippingAddress {
		if a.PickupLocation != "" {
			return a.PickupLocation
		}
	}
	return FallbackPickupLocation
}

// CreateShipment creates an ad-hoc prepaid order shipped to the billing
// address.
func (c *Client) CreateShipment(ctx context.Context, req shipment.CreateRequest) (*shipment.Created, error) {
	if req.Customer.Address == nil {
		return nil, errors.New("shipment requires a customer address")
	}
	// Authenticate before the pickup lookup; its failures are otherwise
	// swallowed by the fallback.
	if _, err := c.authToken(ctx); err != nil {
		return nil, err
	}

	body := c.encodeOrder(req, c.pickupLocation(ctx))

	var raw []byte
	if err := c.call(ctx, http.MethodPost, "/orders/create/adhoc", body, &raw); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	var resp struct {
		OrderID    int64  `json:"order_id"`
		ShipmentID int64  `json:"shipment_id"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode create order")
	}
	if resp.OrderID == 0 {
		msg := resp.Message
		if msg == "" {
			msg = "no order id in response"
		}
		return nil, &APIError{StatusCode: http.StatusOK, Message: msg}
	}

	return &shipment.Created{
		CarrierOrderID:    resp.OrderID,
		CarrierShipmentID: resp.ShipmentID,
		Raw:               raw,
	}, nil
}

func (c *Client) encodeOrder(req shipment.CreateRequest, pickup string) []byte {
	cust := req.Customer
	addr := cust.Address
	country := addr.Country
	if country == "" {
		country = "India"
	}

	var e jx.Encoder
	e.ObjStart()
	field := func(name, value string) {
		e.FieldStart(name)
		e.Str(value)
	}
	number := func(name string, v float64) {
		e.FieldStart(name)
		e.Float64(v)
	}

	field("order_id", req.OrderID)
	field("order_date", req.OrderDate.Format(orderDateLayout))
	field("pickup_location", pickup)
	field("billing_customer_name", cust.FirstName)
	field("billing_last_name", cust.LastName)
	field("billing_address", addr.Street)
	field("billing_address_2", addr.Landmark)
	field("billing_city", addr.City)
	field("billing_pincode", addr.Pincode)
	field("billing_state", addr.State)
	field("billing_country", country)
	field("billing_email", cust.Email)
	field("billing_phone", cust.Phone)
	e.FieldStart("shipping_is_billing")
	e.Bool(true)

	e.FieldStart("order_items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		field("name", it.Name)
		field("sku", it.SKU)
		e.FieldStart("units")
		e.Int(it.Units)
		e.FieldStart("selling_price")
		e.Raw([]byte(it.SellingPrice.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()

	field("payment_method", "Prepaid")
	e.FieldStart("sub_total")
	e.Raw([]byte(req.SubTotal.StringFixed(2)))
	number("length", c.pkg.Length)
	number("breadth", c.pkg.Breadth)
	number("height", c.pkg.Height)
	number("weight", c.pkg.Weight)
	e.ObjEnd()
	return e.Bytes()
}

// CancelShipment cancels a carrier order.
func (c *Client) CancelShipment(ctx context.Context, carrierOrderID int64) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("ids")
	e.ArrStart()
	e.Int64(carrierOrderID)
	e.ArrEnd()
	e.ObjEnd()

	if err := c.call(ctx, http.MethodPost, "/orders/cancel", e.Bytes(), nil); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	return nil
}

// TrackShipment returns the tracking state of a shipment.
func (c *Client) TrackShipment(ctx context.Context, shipmentID int64) (*shipment.Tracking, error) {
	var raw []byte
	path := "/courier/track/shipment/" + strconv.FormatInt(shipmentID, 10)
	if err := c.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "track shipment")
	}
	return parseTracking(shipmentID, raw)
}

// Serviceability lists couriers that deliver between two postcodes.
func (c *Client) Serviceability(ctx context.Context, q shipment.ServiceabilityQuery) ([]shipment.Courier, error) {
	v := url.Values{}
	v.Set("pickup_postcode", q.PickupPincode)
	v.Set("delivery_postcode", q.DeliveryPincode)
	v.Set("weight", strconv.FormatFloat(q.Weight, 'f', -1, 64))
	cod := "0"
	if q.COD {
		cod = "1"
	}
	v.Set("cod", cod)

	var raw []byte
	if err := c.call(ctx, http.MethodGet, "/courier/serviceability/?"+v.Encode(), nil, &raw); err != nil {
		return nil, errors.Wrap(err, "courier serviceability")
	}
	return parseCouriers(raw)
}
