package shipment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// trackConcurrency bounds parallel carrier tracking calls per request.
const trackConcurrency = 4

// TrackedShipment pairs a record with its current carrier tracking.
type TrackedShipment struct {
	Record   Record
	Tracking *Tracking
	// Err is set when tracking this shipment failed.
	Err error
}

// Service implements the user-facing shipment operations.
type Service struct {
	records       Repository
	carrier       Carrier
	pickupPincode string
	now           func() time.Time
}

// NewService creates a Service. pickupPincode is used for serviceability
// queries that do not name a pickup postcode.
func NewService(records Repository, carrier Carrier, pickupPincode string) *Service {
	return &Service{
		records:       records,
		carrier:       carrier,
		pickupPincode: pickupPincode,
		now:           time.Now,
	}
}

// ListByUser returns all shipment records of a user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	records, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list shipments")
	}
	return records, nil
}

// Cancel cancels the carrier order and marks its record cancelled. Orders
// without a record cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, carrierOrderID int64) (*Record, error) {
	rec, err := s.records.GetByCarrierOrderID(ctx, carrierOrderID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	if err := s.carrier.CancelShipment(ctx, carrierOrderID); err != nil {
		return nil, errors.Wrap(err, "cancel carrier order")
	}

	now := s.now()
	if err := s.records.UpdateStatus(ctx, rec.ID, StatusCancelled, now); err != nil {
		return nil, errors.Wrap(err, "update shipment status")
	}
	rec.Status = StatusCancelled
	rec.UpdatedAt = now
	return rec, nil
}

// Track returns the carrier tracking of every active shipment of a user.
// Per-shipment failures are reported in TrackedShipment.Err; a carrier
// authentication failure fails the whole call.
func (s *Service) Track(ctx context.Context, userID string) ([]TrackedShipment, error) {
	records, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list shipments")
	}

	var active []Record
	for _, r := range records {
		if r.Status == StatusCreated {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, ErrNotFound
	}

	out := make([]TrackedShipment, len(active))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(trackConcurrency)
	for i, r := range active {
		g.Go(func() error {
			tr, err := s.carrier.TrackShipment(ctx, r.CarrierShipmentID)
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				return err
			}

			mu.Lock()
			out[i] = TrackedShipment{Record: r, Tracking: tr, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Quote lists couriers serving the route, filling in the default pickup
// postcode.
func (s *Service) Quote(ctx context.Context, q ServiceabilityQuery) ([]Courier, error) {
	if q.PickupPincode == "" {
		q.PickupPincode = s.pickupPincode
	}
	couriers, err := s.carrier.Serviceability(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "courier serviceability")
	}
	return couriers, nil
}

// CheckPincode reports whether any courier delivers to pincode.
func (s *Service) CheckPincode(ctx context.Context, pincode string) (bool, error) {
	couriers, err := s.Quote(ctx, ServiceabilityQuery{DeliveryPincode: pincode, Weight: 0.5})
	if err != nil {
		return false, err
	}
	return len(couriers) > 0, nil
}

// Cheapest returns the lowest-rate courier for the route. Ties keep the
// faster courier.
func (s *Service) Cheapest(ctx context.Context, q ServiceabilityQuery) (*Courier, error) {
	couriers, err := s.Quote(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(couriers) == 0 {
		return nil, ErrNoCourier
	}

	best := couriers[0]
	for _, c := range couriers[1:] {
		switch {
		case c.Rate.LessThan(best.Rate):
			best = c
		case c.Rate.Equal(best.Rate) && c.EstimatedDays < best.EstimatedDays:
			best = c
		}
	}
	return &best, nil
}
