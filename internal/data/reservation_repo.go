package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// RESERVATION REPOSITORY
// =============================================================================

type ReservationRepository struct{}

func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{}
}

const reservationColumns = `id, product_id, organization_id, order_id, quantity,
	status, expires_at, created_at`

func (r *ReservationRepository) Insert(ctx context.Context, q DBTX, res *Reservation) error {
	const stmt = `
		INSERT INTO reservations (
			id, product_id, organization_id, order_id, quantity, status, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, stmt,
		res.ID, res.ProductID, res.OrganizationID, res.OrderID, res.Quantity,
		res.Status, formatTime(res.ExpiresAt), formatTime(res.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, q DBTX, reservationID string) (*Reservation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, reservationID)
	return scanReservation(row)
}

// SetStatus transitions a held reservation to committed or released. Returns
// false when the reservation was not in held state, which makes finalization
// idempotent for replays and sweeps.
func (r *ReservationRepository) SetStatus(ctx context.Context, q DBTX, reservationID, status string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		status, reservationID, ReservationHeld)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AttachOrder links reservations taken during createOrder to the persisted
// order row.
func (r *ReservationRepository) AttachOrder(ctx context.Context, q DBTX, reservationID, orderID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE reservations SET order_id = ? WHERE id = ?`, orderID, reservationID)
	if err != nil {
		return fmt.Errorf("failed to attach reservation to order: %w", err)
	}
	return nil
}

// ListHeldByOrder returns the held reservations tied to an order.
func (r *ReservationRepository) ListHeldByOrder(ctx context.Context, q DBTX, orderID string) ([]Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = ? AND status = ?`,
		orderID, ReservationHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations by order: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListExpiredHeld returns held reservations whose TTL lapsed before cutoff.
func (r *ReservationRepository) ListExpiredHeld(ctx context.Context, q DBTX, cutoff time.Time, limit int) ([]Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND expires_at < ? LIMIT ?`,
		ReservationHeld, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

func collectReservations(rows *sql.Rows) ([]Reservation, error) {
	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}
	return result, rows.Err()
}

func scanReservation(row rowScanner) (*Reservation, error) {
	var res Reservation
	var expiresAt, createdAt string

	err := row.Scan(&res.ID, &res.ProductID, &res.OrganizationID, &res.OrderID,
		&res.Quantity, &res.Status, &expiresAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}

	if res.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &res, nil
}
