// Package inventory guarantees that no product with finite inventory is ever
// oversold. All checks happen transactionally at reservation time, never
// reconciled after the fact.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regbackend/internal/data"
	"regbackend/internal/logger"
)

// InsufficientInventoryError is returned synchronously from Reserve before
// any order or payment object is created.
type InsufficientInventoryError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ErrProductNotFound is returned when the product does not exist or is not
// available for sale.
var ErrProductNotFound = errors.New("product not found")

// ErrInvalidQuantity rejects non-positive reservation quantities.
var ErrInvalidQuantity = errors.New("reservation quantity must be positive")

// Allocator tracks finite per-product inventory against committed and
// reserved counts.
type Allocator struct {
	products     *data.ProductRepository
	reservations *data.ReservationRepository
	ttl          time.Duration
}

func NewAllocator(ttl time.Duration) *Allocator {
	return &Allocator{
		products:     data.NewProductRepository(),
		reservations: data.NewReservationRepository(),
		ttl:          ttl,
	}
}

// Reserve places a TTL-bounded hold on qty units of a product. The headroom
// check and the reserved-count bump happen in one conditional UPDATE inside
// one transaction, so two concurrent calls for the last unit resolve to
// exactly one winner.
func (a *Allocator) Reserve(ctx context.Context, productID, orgID string, qty int) (*data.Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}

	now := time.Now()
	res := &data.Reservation{
		ID:             uuid.NewString(),
		ProductID:      productID,
		OrganizationID: orgID,
		Quantity:       qty,
		Status:         data.ReservationHeld,
		ExpiresAt:      now.Add(a.ttl),
		CreatedAt:      now,
	}

	err := data.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := a.products.TryReserveStock(ctx, tx, productID, qty)
		if err != nil {
			return err
		}
		if !ok {
			// Re-read to distinguish a missing product from a shortfall and
			// to report current headroom.
			product, err := a.products.GetByID(ctx, tx, productID)
			if err == sql.ErrNoRows {
				return ErrProductNotFound
			}
			if err != nil {
				return err
			}
			if !product.Available {
				return ErrProductNotFound
			}
			available := 0
			if product.TotalInventory != nil {
				available = *product.TotalInventory - product.SoldCount - product.ReservedCount
				if available < 0 {
					available = 0
				}
			}
			return &InsufficientInventoryError{
				ProductID: productID,
				Requested: qty,
				Available: available,
			}
		}

		return a.reservations.Insert(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}

	logger.LogInfo("Reserved %d unit(s) of product %s for org %s (reservation %s, expires %s)",
		qty, productID, orgID, res.ID, res.ExpiresAt.Format(time.RFC3339))
	return res, nil
}

// Commit moves a held reservation's units from reserved to sold. The
// sold+reserved sum is unchanged. Replays against an already finalized
// reservation are no-ops.
func (a *Allocator) Commit(ctx context.Context, reservationID string) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		return a.CommitTx(ctx, tx, reservationID)
	})
}

// CommitTx is Commit running inside a caller-owned transaction, used when a
// payment outcome and its reservation commit must land atomically.
func (a *Allocator) CommitTx(ctx context.Context, tx *sql.Tx, reservationID string) error {
	res, err := a.reservations.GetByID(ctx, tx, reservationID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("reservation %s not found", reservationID)
	}
	if err != nil {
		return err
	}

	moved, err := a.reservations.SetStatus(ctx, tx, reservationID, data.ReservationCommitted)
	if err != nil {
		return err
	}
	if !moved {
		// Already committed or released; nothing to do.
		return nil
	}

	return a.products.CommitStock(ctx, tx, res.ProductID, res.Quantity)
}

// Release returns a held reservation's units to headroom. Idempotent: a
// reservation that was already committed or released is left alone.
func (a *Allocator) Release(ctx context.Context, reservationID string) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		return a.ReleaseTx(ctx, tx, reservationID)
	})
}

// ReleaseTx is Release running inside a caller-owned transaction.
func (a *Allocator) ReleaseTx(ctx context.Context, tx *sql.Tx, reservationID string) error {
	res, err := a.reservations.GetByID(ctx, tx, reservationID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	moved, err := a.reservations.SetStatus(ctx, tx, reservationID, data.ReservationReleased)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	return a.products.ReleaseStock(ctx, tx, res.ProductID, res.Quantity)
}

// ReleaseExpired sweeps held reservations whose TTL lapsed before cutoff and
// returns how many were released. Called by the periodic cleanup routine.
func (a *Allocator) ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var expired []data.Reservation

	dbConn, err := data.GetDB()
	if err != nil {
		return 0, err
	}
	expired, err = a.reservations.ListExpiredHeld(ctx, dbConn, cutoff, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range expired {
		if err := a.Release(ctx, res.ID); err != nil {
			logger.LogError("Failed to release expired reservation %s: %v", res.ID, err)
			continue
		}
		released++
	}
	return released, nil
}

// ReleaseForOrder releases every held reservation tied to an order. Used on
// payment failure, cancellation and abandoned-order cleanup.
func (a *Allocator) ReleaseForOrder(ctx context.Context, orderID string) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		return a.ReleaseForOrderTx(ctx, tx, orderID)
	})
}

// ReleaseForOrderTx is ReleaseForOrder running inside a caller-owned
// transaction, so an order delete and its inventory return land atomically.
func (a *Allocator) ReleaseForOrderTx(ctx context.Context, tx *sql.Tx, orderID string) error {
	held, err := a.reservations.ListHeldByOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	for _, res := range held {
		if err := a.ReleaseTx(ctx, tx, res.ID); err != nil {
			return err
		}
	}
	return nil
}
