package checkout

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/customer"
	"github.com/xenking/bookstore/internal/domain/delivery"
	"github.com/xenking/bookstore/internal/domain/payment"
	"github.com/xenking/bookstore/internal/domain/pricing"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

const (
	sessionIDLength   = 12
	sessionIDAttempts = 3
)

// Options configures a Service.
type Options struct {
	// Currency of gateway sessions. Defaults to INR.
	Currency string
	// ReturnURL is where the gateway sends the customer after payment.
	ReturnURL string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.Currency == "" {
		o.Currency = "INR"
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items        []LineItem
	Customer     customer.Customer
	ShippingCost decimal.Decimal
	CouponCode   string
}

// PlaceOrderResult is returned for a placed order.
type PlaceOrderResult struct {
	SessionID        string
	PaymentSessionID string
	GatewayOrderID   string
	Summary          pricing.Summary
}

// ShipmentOutcome holds the carrier ids of a shipped order.
type ShipmentOutcome struct {
	CarrierOrderID    int64
	CarrierShipmentID int64
}

// VerifyResult is the outcome of a verify call. CouponErr, DeliveryErr and
// ShipmentErr are set on partial success and never cause Verify itself to
// fail.
type VerifyResult struct {
	SessionID     string
	State         State
	PaymentStatus string
	CouponErr     error
	Delivery      *delivery.Summary
	DeliveryErr   error
	Shipment      *ShipmentOutcome
	ShipmentErr   error
}

// Service orchestrates order placement and payment verification.
type Service struct {
	cache    OrderCache
	gateway  payment.Gateway
	pricer   Pricer
	delivery Deliverer
	carrier  ShipmentCreator
	records  RecordStore
	opts     Options

	tracer   trace.Tracer
	placed   metric.Int64Counter
	outcomes metric.Int64Counter

	now   func() time.Time
	newID func() (string, error)
}

// NewService creates a checkout Service.
func NewService(
	cache OrderCache,
	gateway payment.Gateway,
	pricer Pricer,
	deliverer Deliverer,
	carrier ShipmentCreator,
	records RecordStore,
	opts Options,
) (*Service, error) {
	opts.setDefaults()

	meter := opts.MeterProvider.Meter("checkout")
	placed, err := meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders with an open payment session"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	outcomes, err := meter.Int64Counter("checkout.verify.outcomes",
		metric.WithDescription("Verify results by state"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "outcomes counter")
	}

	return &Service{
		cache:    cache,
		gateway:  gateway,
		pricer:   pricer,
		delivery: deliverer,
		carrier:  carrier,
		records:  records,
		opts:     opts,
		tracer:   opts.TracerProvider.Tracer("checkout"),
		placed:   placed,
		outcomes: outcomes,
		now:      time.Now,
		newID:    newSessionID,
	}, nil
}

// newSessionID hashes 16 random bytes and keeps the first 12 hex characters.
func newSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	sum := sha256.Sum256([]byte(hex.EncodeToString(b[:])))
	return hex.EncodeToString(sum[:])[:sessionIDLength], nil
}

// PlaceOrder validates and prices the order, stores it in the cache and opens
// a payment session for it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	order, err := buildOrder(req)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = pricing.Line{Price: it.UnitPrice, Quantity: it.Quantity}
	}
	shipping := req.ShippingCost
	if len(order.Physical) == 0 {
		shipping = decimal.Zero
	}
	summary, err := s.pricer.Calculate(ctx, lines, shipping, strings.TrimSpace(req.CouponCode))
	if err != nil {
		return nil, errors.Wrap(err, "price order")
	}
	order.Summary = summary
	order.State = StatePlaced

	if err := s.insert(ctx, order); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.session_id", order.SessionID))

	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		OrderID:   order.SessionID,
		Amount:    summary.Total,
		Currency:  s.opts.Currency,
		Customer:  order.Customer,
		ReturnURL: s.opts.ReturnURL,
		Items:     cartItems(req.Items),
	})
	if err == nil && sess.PaymentSessionID == "" {
		err = ErrSessionCreation
	}
	if err != nil {
		if derr := s.cache.Delete(ctx, order.SessionID); derr != nil {
			zctx.From(ctx).Warn("Failed to drop unpaid order",
				zap.String("session_id", order.SessionID),
				zap.Error(derr),
			)
		}
		if errors.Is(err, ErrSessionCreation) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create payment session")
	}

	s.placed.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.String("session_id", order.SessionID),
		zap.String("total", summary.Total.StringFixed(2)),
		zap.Int("physical", len(order.Physical)),
		zap.Int("digital", len(order.Digital)),
	)

	return &PlaceOrderResult{
		SessionID:        order.SessionID,
		PaymentSessionID: sess.PaymentSessionID,
		GatewayOrderID:   sess.GatewayOrderID,
		Summary:          summary,
	}, nil
}

// insert stores the order under a fresh session id, regenerating the id on
// collision.
func (s *Service) insert(ctx context.Context, order *PendingOrder) error {
	for range sessionIDAttempts {
		id, err := s.newID()
		if err != nil {
			return errors.Wrap(err, "generate session id")
		}
		order.SessionID = id
		err = s.cache.Insert(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSessionExists) {
			return errors.Wrap(err, "store order")
		}
		zctx.From(ctx).Warn("Session id collision", zap.String("session_id", id))
	}
	return errors.Errorf("no free session id after %d attempts", sessionIDAttempts)
}

func buildOrder(req PlaceOrderRequest) (*PendingOrder, error) {
	if len(req.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item required"}
	}

	order := &PendingOrder{
		UserID:   req.Customer.ID,
		Customer: req.Customer,
	}
	for i, it := range req.Items {
		field := "items[" + strconv.Itoa(i) + "]"
		switch {
		case it.ProductID == "":
			return nil, &ValidationError{Field: field + ".product_id", Reason: "required"}
		case it.Quantity <= 0:
			return nil, &ValidationError{Field: field + ".quantity", Reason: "must be greater than 0"}
		case it.UnitPrice.IsNegative():
			return nil, &ValidationError{Field: field + ".unit_price", Reason: "must not be negative"}
		}
		switch it.Kind {
		case KindPhysical:
			order.Physical = append(order.Physical, PhysicalItem{
				ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice,
			})
		case KindDigital:
			order.Digital = append(order.Digital, DigitalItem{
				ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice,
			})
		default:
			return nil, &ValidationError{Field: field + ".type", Reason: "must be physical or digital"}
		}
	}

	c := req.Customer
	for _, f := range []struct{ name, value string }{
		{"customer.first_name", c.FirstName},
		{"customer.last_name", c.LastName},
		{"customer.email", c.Email},
		{"customer.phone", c.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	if !strings.Contains(c.Email, "@") {
		return nil, &ValidationError{Field: "customer.email", Reason: "invalid"}
	}
	if req.ShippingCost.IsNegative() {
		return nil, &ValidationError{Field: "shipping_cost", Reason: "must not be negative"}
	}

	if len(order.Physical) > 0 {
		if c.ID == "" {
			return nil, &ValidationError{Field: "customer.id", Reason: "required for shipped orders"}
		}
		a := c.Address
		if a == nil {
			return nil, &ValidationError{Field: "customer.address", Reason: "required for shipped orders"}
		}
		for _, f := range []struct{ name, value string }{
			{"customer.address.street", a.Street},
			{"customer.address.city", a.City},
			{"customer.address.state", a.State},
			{"customer.address.pincode", a.Pincode},
		} {
			if strings.TrimSpace(f.value) == "" {
				return nil, &ValidationError{Field: f.name, Reason: "required"}
			}
		}
	}
	return order, nil
}

func cartItems(items []LineItem) []payment.CartItem {
	out := make([]payment.CartItem, len(items))
	for i, it := range items {
		out[i] = payment.CartItem{ID: it.ProductID, Name: it.Name, Quantity: it.Quantity, Price: it.UnitPrice}
	}
	return out
}

// Verify checks payment of a placed order and runs the fulfilment steps that
// have not completed yet. Only one verify per session runs at a time.
func (s *Service) Verify(ctx context.Context, sessionID string) (_ *VerifyResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Verify",
		trace.WithAttributes(attribute.String("checkout.session_id", sessionID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx).With(zap.String("session_id", sessionID))

	unlock, err := s.cache.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{SessionID: sessionID, PaymentStatus: payment.StatusPaid}
	if !order.Progress.PaymentConfirmed {
		st, err := s.gateway.FetchOrderStatus(ctx, sessionID)
		if err != nil {
			return nil, errors.Wrap(err, "fetch payment status")
		}
		res.PaymentStatus = st.Status
		if !st.Paid() {
			res.State = StateNotPaid
			s.record(ctx, res.State)
			lg.Info("Payment not completed", zap.String("status", st.Status))
			return res, nil
		}
		order.Progress.PaymentConfirmed = true
		order.State = StatePaidPendingFulfillment
	}

	if order.Summary.CouponCode != "" && !order.Progress.CouponRedeemed {
		res.CouponErr = s.redeem(ctx, order)
		if res.CouponErr != nil {
			lg.Error("Coupon redemption failed", zap.Error(res.CouponErr))
		}
	}

	if len(order.Digital) > 0 {
		res.Delivery, res.DeliveryErr = s.deliver(ctx, order)
		if res.DeliveryErr != nil {
			lg.Error("Ebook delivery failed", zap.Error(res.DeliveryErr))
		}
	}
	if len(order.Physical) > 0 {
		res.Shipment, res.ShipmentErr = s.ship(ctx, order)
		if res.ShipmentErr != nil {
			lg.Error("Shipment failed", zap.Error(res.ShipmentErr))
		}
	}

	if order.Complete() {
		res.State = StateFulfilled
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			lg.Warn("Failed to drop fulfilled order", zap.Error(err))
		}
	} else {
		res.State = StatePaidFulfillmentFailed
		order.State = StatePaidFulfillmentFailed
		if err := s.cache.Save(ctx, order); err != nil {
			lg.Warn("Failed to save fulfilment progress", zap.Error(err))
		}
	}
	s.record(ctx, res.State)
	lg.Info("Order verified", zap.String("state", string(res.State)))
	return res, nil
}

func (s *Service) record(ctx context.Context, state State) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}

// redeem counts the coupon use of a paid order.
func (s *Service) redeem(ctx context.Context, order *PendingOrder) error {
	code := order.Summary.CouponCode
	err := s.pricer.Redeem(ctx, code)
	switch {
	case errors.Is(err, pricing.ErrCouponUsageLimitReached):
		// The discounted total is already paid; the overrun is only logged.
		zctx.From(ctx).Warn("Coupon redeemed past its usage limit",
			zap.String("session_id", order.SessionID),
			zap.String("coupon", code),
		)
	case err != nil:
		return errors.Wrap(err, "redeem coupon")
	}
	order.Progress.CouponRedeemed = true
	return nil
}

func (s *Service) deliver(ctx context.Context, order *PendingOrder) (*delivery.Summary, error) {
	if order.Progress.DeliveryDone {
		return order.Progress.Delivered, nil
	}
	ctx, span := s.tracer.Start(ctx, "checkout.deliver")
	defer span.End()

	items := make([]delivery.Item, len(order.Digital))
	for i, it := range order.Digital {
		items[i] = delivery.Item{ProductID: it.ProductID, Name: it.Name}
	}
	sum, err := s.delivery.Deliver(ctx, order.Customer, items, order.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	order.Progress.DeliveryDone = true
	order.Progress.Delivered = sum
	return sum, nil
}

func (s *Service) ship(ctx context.Context, order *PendingOrder) (*ShipmentOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ship")
	defer span.End()
	fail := func(err error) (*ShipmentOutcome, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p := &order.Progress
	if !p.ShipmentCreated {
		created, err := s.carrier.CreateShipment(ctx, shipmentRequest(order, s.now()))
		if err != nil {
			return fail(errors.Wrap(err, "create shipment"))
		}
		p.ShipmentCreated = true
		p.CarrierOrderID = created.CarrierOrderID
		p.CarrierShipmentID = created.CarrierShipmentID
		// Persist carrier ids before the record write; a retry must not create
		// a second carrier order.
		if err := s.cache.Save(ctx, order); err != nil {
			zctx.From(ctx).Warn("Failed to save carrier ids", zap.Error(err))
		}
	}

	if !p.ShipmentRecorded {
		snapshot, err := json.Marshal(order)
		if err != nil {
			return fail(errors.Wrap(err, "encode order snapshot"))
		}
		now := s.now()
		err = s.records.Create(ctx, &shipment.Record{
			UserID:            order.UserID,
			PaymentSessionID:  order.SessionID,
			CarrierOrderID:    p.CarrierOrderID,
			CarrierShipmentID: p.CarrierShipmentID,
			OrderSnapshot:     snapshot,
			Status:            shipment.StatusCreated,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil && !errors.Is(err, shipment.ErrDuplicate) {
			return fail(errors.Wrap(err, "record shipment"))
		}
		p.ShipmentRecorded = true
	}

	return &ShipmentOutcome{
		CarrierOrderID:    p.CarrierOrderID,
		CarrierShipmentID: p.CarrierShipmentID,
	}, nil
}

func shipmentRequest(order *PendingOrder, now time.Time) shipment.CreateRequest {
	items := make([]shipment.Item, len(order.Physical))
	subTotal := decimal.Zero
	for i, it := range order.Physical {
		items[i] = shipment.Item{
			SKU:          it.ProductID,
			Name:         it.Name,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice,
		}
		subTotal = subTotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return shipment.CreateRequest{
		OrderID:   order.SessionID,
		OrderDate: now,
		Customer:  order.Customer,
		Items:     items,
		SubTotal:  subTotal.Round(2),
	}
}
