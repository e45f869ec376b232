package cleanup

import (
	"context"
	"database/sql"
	"time"

	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/inventory"
	"regbackend/internal/logger"
)

const maxDeletionPerRun = 25 // Maximum orders to delete per run

// Sweeper periodically releases expired reservations, deletes abandoned
// zero-paid orders, and marks unpaid invoices overdue.
type Sweeper struct {
	orders    *data.OrderRepository
	invoices  *data.InvoiceRepository
	quotas    *data.QuotaRepository
	allocator *inventory.Allocator
}

func NewSweeper(allocator *inventory.Allocator) *Sweeper {
	return &Sweeper{
		orders:    data.NewOrderRepository(),
		invoices:  data.NewInvoiceRepository(),
		quotas:    data.NewQuotaRepository(),
		allocator: allocator,
	}
}

// StartCleanupRoutine starts the periodic sweep. The loop stops when ctx is
// cancelled.
func (s *Sweeper) StartCleanupRoutine(ctx context.Context) {
	interval := config.CleanupInterval()
	go func() {
		logger.LogInfo("Cleanup routine started - will run every %v", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.LogInfo("Cleanup routine stopped")
				return
			case <-ticker.C:
				s.RunSweep(ctx)
			}
		}
	}()
}

// RunSweep performs one pass. Each stage proceeds even if an earlier one
// fails; a wedged stage must not stop reservations from expiring.
func (s *Sweeper) RunSweep(ctx context.Context) {
	now := time.Now()

	released, err := s.allocator.ReleaseExpired(ctx, now, maxDeletionPerRun)
	if err != nil {
		logger.LogError("Failed to release expired reservations: %v", err)
	} else if released > 0 {
		logger.LogInfo("Released %d expired reservation(s)", released)
	}

	deleted, err := s.deleteAbandonedOrders(ctx, now)
	if err != nil {
		logger.LogError("Failed to delete abandoned orders: %v", err)
	} else if deleted > 0 {
		logger.LogInfo("Deleted %d abandoned order(s)", deleted)
	}

	overdue, err := s.invoices.MarkOverdue(now)
	if err != nil {
		logger.LogError("Failed to mark overdue invoices: %v", err)
	} else if overdue > 0 {
		logger.LogInfo("Marked %d invoice(s) overdue", overdue)
	}
}

// deleteAbandonedOrders removes pending orders past the retention window
// that never saw a completed payment. Held inventory and quota claims go
// back first, then the order row; items, invoice and failed payments cascade.
func (s *Sweeper) deleteAbandonedOrders(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-config.CleanupRetention())

	ids, err := s.orders.ListAbandonedPending(cutoff, maxDeletionPerRun)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, orderID := range ids {
		err := data.WithTx(ctx, func(tx *sql.Tx) error {
			o, err := s.orders.GetByID(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if err := s.allocator.ReleaseForOrderTx(ctx, tx, orderID); err != nil {
				return err
			}
			items, err := s.orders.GetItems(ctx, tx, orderID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := s.quotas.Return(ctx, tx, o.OrganizationID, item.ProductID, o.EventYearID, item.Quantity); err != nil {
					return err
				}
			}
			return s.orders.Delete(ctx, tx, orderID)
		})
		if err != nil {
			logger.LogError("Failed to delete abandoned order %s: %v", orderID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
