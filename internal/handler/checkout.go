package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/checkout"
	"github.com/xenking/bookstore/internal/domain/customer"
	"github.com/xenking/bookstore/internal/domain/delivery"
)

type orderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Type      string          `json:"type"`
}

type placeOrderRequest struct {
	UserID       string            `json:"user_id"`
	Items        []orderItem       `json:"items"`
	Customer     customer.Customer `json:"customer"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
	CouponCode   string            `json:"coupon_code"`
}

func (req placeOrderRequest) domain() checkout.PlaceOrderRequest {
	c := req.Customer
	if c.ID == "" {
		c.ID = req.UserID
	}
	items := make([]checkout.LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = checkout.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Kind:      checkout.Kind(strings.ToLower(strings.TrimSpace(it.Type))),
		}
	}
	return checkout.PlaceOrderRequest{
		Items:        items,
		Customer:     c,
		ShippingCost: req.ShippingCost,
		CouponCode:   req.CouponCode,
	}
}

// PlaceOrder handles POST /orderPlace.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.PlaceOrder(r.Context(), req.domain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	respond(w, http.StatusOK, true, "Order placed", func(e *jx.Encoder) {
		str(e, "order_id", res.SessionID)
		str(e, "payment_session_id", res.PaymentSessionID)
		str(e, "cf_order_id", res.GatewayOrderID)
		e.FieldStart("order_summary")
		e.ObjStart()
		money(e, "subtotal", res.Summary.Subtotal)
		money(e, "discount", res.Summary.Discount)
		if res.Summary.CouponCode != "" {
			str(e, "coupon_code", res.Summary.CouponCode)
		}
		money(e, "shipping_cost", res.Summary.ShippingCost)
		money(e, "total", res.Summary.Total)
		e.ObjEnd()
	})
}

type verifyRequest struct {
	OrderID string `json:"order_id"`
}

// Verify handles POST /verify. Unpaid orders get success:false with 200, a
// paid order whose fulfilment failed gets success:true with the step errors.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		writeError(w, r, &checkout.ValidationError{Field: "order_id", Reason: "required"})
		return
	}

	res, err := h.checkout.Verify(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch res.State {
	case checkout.StateNotPaid:
		respond(w, http.StatusOK, false, "Payment not completed", func(e *jx.Encoder) {
			str(e, "order_id", res.SessionID)
			str(e, "state", string(res.State))
			str(e, "payment_status", res.PaymentStatus)
		})
	case checkout.StateFulfilled:
		respond(w, http.StatusOK, true, "Payment verified and order fulfilled", func(e *jx.Encoder) {
			encodeVerify(e, res)
		})
	default:
		respond(w, http.StatusOK, true, "Payment verified, fulfilment incomplete", func(e *jx.Encoder) {
			encodeVerify(e, res)
		})
	}
}

func encodeVerify(e *jx.Encoder, res *checkout.VerifyResult) {
	str(e, "order_id", res.SessionID)
	str(e, "state", string(res.State))
	if res.PaymentStatus != "" {
		str(e, "payment_status", res.PaymentStatus)
	}
	if res.CouponErr != nil {
		str(e, "coupon_error", detail(res.CouponErr))
	}
	if res.Delivery != nil {
		e.FieldStart("delivery")
		encodeDelivery(e, res.Delivery)
	}
	if res.DeliveryErr != nil {
		str(e, "delivery_error", detail(res.DeliveryErr))
	}
	if res.Shipment != nil {
		e.FieldStart("shipment")
		e.ObjStart()
		int64Field(e, "order_id", res.Shipment.CarrierOrderID)
		int64Field(e, "shipment_id", res.Shipment.CarrierShipmentID)
		e.ObjEnd()
	}
	if res.ShipmentErr != nil {
		str(e, "shipment_error", detail(res.ShipmentErr))
	}
}

func encodeDelivery(e *jx.Encoder, s *delivery.Summary) {
	e.ObjStart()
	e.FieldStart("delivered")
	e.Int(s.Delivered)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range s.Items {
		e.ObjStart()
		str(e, "title", it.Title)
		str(e, "author", it.Author)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
