package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore/internal/domain/checkout"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

// defaultWeight is the parcel weight in kilograms when a quote names none.
const defaultWeight = 0.5

type cancelRequest struct {
	OrderID json.Number `json:"order_id"`
}

// CancelOrder handles POST /cancelOrder. order_id is the carrier order id.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := req.OrderID.Int64()
	if err != nil || id <= 0 {
		writeError(w, r, &checkout.ValidationError{Field: "order_id", Reason: "must be a carrier order id"})
		return
	}

	rec, err := h.shipments.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, true, "Order cancelled", func(e *jx.Encoder) {
		int64Field(e, "order_id", rec.CarrierOrderID)
		str(e, "status", string(rec.Status))
	})
}

// TrackingDetails handles GET /getTrackingDetails/{user_id}.
func (h *Handler) TrackingDetails(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, r, &checkout.ValidationError{Field: "user_id", Reason: "required"})
		return
	}

	tracked, err := h.shipments.Track(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, true, "Tracking details", func(e *jx.Encoder) {
		e.FieldStart("shipments")
		e.ArrStart()
		for _, t := range tracked {
			e.ObjStart()
			int64Field(e, "order_id", t.Record.CarrierOrderID)
			int64Field(e, "shipment_id", t.Record.CarrierShipmentID)
			str(e, "payment_session_id", t.Record.PaymentSessionID)
			if t.Err != nil {
				str(e, "error", detail(t.Err))
			}
			if tr := t.Tracking; tr != nil {
				str(e, "state", string(tr.State))
				if tr.Message != "" {
					str(e, "tracking_message", tr.Message)
				}
				if len(tr.History) > 0 {
					e.FieldStart("history")
					e.Raw(tr.History)
				}
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// UserOrders handles GET /getUserOrders?userId=.
func (h *Handler) UserOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if strings.TrimSpace(userID) == "" {
		writeError(w, r, &checkout.ValidationError{Field: "userId", Reason: "required"})
		return
	}

	records, err := h.shipments.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, true, "User orders", func(e *jx.Encoder) {
		e.FieldStart("orders")
		e.ArrStart()
		for _, rec := range records {
			e.ObjStart()
			int64Field(e, "id", rec.ID)
			int64Field(e, "order_id", rec.CarrierOrderID)
			int64Field(e, "shipment_id", rec.CarrierShipmentID)
			str(e, "payment_session_id", rec.PaymentSessionID)
			str(e, "status", string(rec.Status))
			if len(rec.OrderSnapshot) > 0 {
				e.FieldStart("order")
				e.Raw(rec.OrderSnapshot)
			}
			timestamp(e, "created_at", rec.CreatedAt)
			timestamp(e, "updated_at", rec.UpdatedAt)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

type quoteRequest struct {
	PickupPincode   string  `json:"pickup_pincode"`
	DeliveryPincode string  `json:"delivery_pincode"`
	Weight          float64 `json:"weight"`
	COD             bool    `json:"cod"`
}

func (h *Handler) decodeQuote(r *http.Request) (shipment.ServiceabilityQuery, error) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		return shipment.ServiceabilityQuery{}, err
	}
	if strings.TrimSpace(req.DeliveryPincode) == "" {
		return shipment.ServiceabilityQuery{}, &checkout.ValidationError{Field: "delivery_pincode", Reason: "required"}
	}
	if req.Weight < 0 {
		return shipment.ServiceabilityQuery{}, &checkout.ValidationError{Field: "weight", Reason: "must not be negative"}
	}
	if req.Weight == 0 {
		req.Weight = defaultWeight
	}
	return shipment.ServiceabilityQuery{
		PickupPincode:   req.PickupPincode,
		DeliveryPincode: req.DeliveryPincode,
		Weight:          req.Weight,
		COD:             req.COD,
	}, nil
}

func encodeCourier(e *jx.Encoder, c shipment.Courier) {
	e.ObjStart()
	int64Field(e, "courier_id", c.ID)
	str(e, "name", c.Name)
	money(e, "rate", c.Rate)
	e.FieldStart("estimated_delivery_days")
	e.Int(c.EstimatedDays)
	if c.ETD != "" {
		str(e, "etd", c.ETD)
	}
	e.ObjEnd()
}

// CalculateShipping handles POST /calculate-shipping.
func (h *Handler) CalculateShipping(w http.ResponseWriter, r *http.Request) {
	q, err := h.decodeQuote(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	couriers, err := h.shipments.Quote(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, true, "Shipping charges", func(e *jx.Encoder) {
		e.FieldStart("couriers")
		e.ArrStart()
		for _, c := range couriers {
			encodeCourier(e, c)
		}
		e.ArrEnd()
	})
}

// CheapestShipping handles POST /cheapest-shipping.
func (h *Handler) CheapestShipping(w http.ResponseWriter, r *http.Request) {
	q, err := h.decodeQuote(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.shipments.Cheapest(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, true, "Cheapest shipping option", func(e *jx.Encoder) {
		e.FieldStart("courier")
		encodeCourier(e, *c)
	})
}

type pincodeRequest struct {
	Pincode string `json:"pincode"`
}

// VerifyPincode handles POST /verify-pincode.
func (h *Handler) VerifyPincode(w http.ResponseWriter, r *http.Request) {
	var req pincodeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Pincode) == "" {
		writeError(w, r, &checkout.ValidationError{Field: "pincode", Reason: "required"})
		return
	}

	ok, err := h.shipments.CheckPincode(r.Context(), req.Pincode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "Pincode is serviceable"
	if !ok {
		msg = "Pincode is not serviceable"
	}
	respond(w, http.StatusOK, true, msg, func(e *jx.Encoder) {
		e.FieldStart("serviceable")
		e.Bool(ok)
	})
}
