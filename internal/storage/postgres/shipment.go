package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/shipment"
)

const (
	shipmentColumns = `id, user_id, payment_session_id, carrier_order_id, carrier_shipment_id,
		order_snapshot, status, created_at, updated_at`

	createShipmentSQL = `INSERT INTO shipments (user_id, payment_session_id, carrier_order_id,
		carrier_shipment_id, order_snapshot, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	getShipmentByCarrierOrderSQL = `SELECT ` + shipmentColumns + `
		FROM shipments WHERE carrier_order_id = $1`

	listShipmentsByUserSQL = `SELECT ` + shipmentColumns + `
		FROM shipments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	updateShipmentStatusSQL = `UPDATE shipments SET status = $2, updated_at = $3 WHERE id = $1`
)

const uniqueViolation = "23505"

var _ shipment.Repository = (*ShipmentRepository)(nil)

// ShipmentRepository implements shipment.Repository backed by PostgreSQL.
type ShipmentRepository struct {
	pool *pgxpool.Pool
}

// NewShipmentRepository returns a ShipmentRepository that uses the given pool.
func NewShipmentRepository(pool *pgxpool.Pool) *ShipmentRepository {
	return &ShipmentRepository{pool: pool}
}

// Create inserts a record and sets its ID. A second record for the same
// payment session or carrier order yields shipment.ErrDuplicate.
func (r *ShipmentRepository) Create(ctx context.Context, rec *shipment.Record) error {
	snapshot := rec.OrderSnapshot
	if len(snapshot) == 0 {
		snapshot = []byte("{}")
	}
	if rec.Status == "" {
		rec.Status = shipment.StatusCreated
	}

	err := r.pool.QueryRow(ctx, createShipmentSQL,
		rec.UserID, rec.PaymentSessionID, rec.CarrierOrderID, rec.CarrierShipmentID,
		snapshot, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return shipment.ErrDuplicate
		}
		return fmt.Errorf("creating shipment for session %q: %w", rec.PaymentSessionID, err)
	}
	return nil
}

// GetByCarrierOrderID returns shipment.ErrNotFound when no record matches.
func (r *ShipmentRepository) GetByCarrierOrderID(ctx context.Context, carrierOrderID int64) (*shipment.Record, error) {
	rows, err := r.pool.Query(ctx, getShipmentByCarrierOrderSQL, carrierOrderID)
	if err != nil {
		return nil, fmt.Errorf("finding shipment %d: %w", carrierOrderID, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanShipment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipment.ErrNotFound
		}
		return nil, fmt.Errorf("finding shipment %d: %w", carrierOrderID, err)
	}
	return &rec, nil
}

// ListByUser returns the user's records, newest first.
func (r *ShipmentRepository) ListByUser(ctx context.Context, userID string) ([]shipment.Record, error) {
	rows, err := r.pool.Query(ctx, listShipmentsByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing shipments of %q: %w", userID, err)
	}

	recs, err := pgx.CollectRows(rows, scanShipment)
	if err != nil {
		return nil, fmt.Errorf("listing shipments of %q: %w", userID, err)
	}
	return recs, nil
}

// UpdateStatus sets the status of a record.
func (r *ShipmentRepository) UpdateStatus(ctx context.Context, id int64, status shipment.Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, updateShipmentStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating shipment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shipment.ErrNotFound
	}
	return nil
}

func scanShipment(row pgx.CollectableRow) (shipment.Record, error) {
	var (
		rec    shipment.Record
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.PaymentSessionID, &rec.CarrierOrderID, &rec.CarrierShipmentID,
		&rec.OrderSnapshot, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	rec.Status = shipment.Status(status)
	return rec, err
}
