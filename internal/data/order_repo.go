package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// ORDER REPOSITORY
// =============================================================================

type OrderRepository struct{}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

const orderColumns = `id, organization_id, event_year_id, status, total_amount,
	deposit_amount, balance_owed, is_sponsorship, contact_name, contact_email,
	metadata_json, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, q DBTX, order *Order) error {
	metadataJSON, err := marshalMetadata(order.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO orders (
			id, organization_id, event_year_id, status, total_amount, deposit_amount,
			balance_owed, is_sponsorship, contact_name, contact_email, metadata_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = q.ExecContext(ctx, stmt,
		order.ID, order.OrganizationID, order.EventYearID, order.Status,
		order.TotalAmount, order.DepositAmount, order.BalanceOwed,
		order.IsSponsorship, order.ContactName, order.ContactEmail, metadataJSON,
		formatTime(order.CreatedAt), formatTime(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, q DBTX, orderID string) (*Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	return scanOrder(row)
}

// Update rewrites the mutable fields of an order. Items and payments are
// never touched here.
func (r *OrderRepository) Update(ctx context.Context, q DBTX, order *Order) error {
	metadataJSON, err := marshalMetadata(order.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
		UPDATE orders SET status = ?, total_amount = ?, deposit_amount = ?,
			balance_owed = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, stmt,
		order.Status, order.TotalAmount, order.DepositAmount, order.BalanceOwed,
		metadataJSON, formatTime(time.Now()), order.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an order row; items, invoice and payments cascade.
func (r *OrderRepository) Delete(ctx context.Context, q DBTX, orderID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func (r *OrderRepository) InsertItem(ctx context.Context, q DBTX, item *OrderItem) error {
	const stmt = `
		INSERT INTO order_items (
			id, order_id, product_id, product_name, category, quantity,
			unit_price, deposit_price, total_price
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, stmt,
		item.ID, item.OrderID, item.ProductID, item.ProductName, item.Category,
		item.Quantity, item.UnitPrice, item.DepositPrice, item.TotalPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetItems(ctx context.Context, q DBTX, orderID string) ([]OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, category, quantity,
			unit_price, deposit_price, total_price
		FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Category, &item.Quantity, &item.UnitPrice, &item.DepositPrice,
			&item.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListByEventYear returns orders for one event year restricted to the given
// statuses, oldest first.
func (r *OrderRepository) ListByEventYear(ctx context.Context, q DBTX, eventYearID string, statuses []string) ([]Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	stmt := `SELECT ` + orderColumns + ` FROM orders WHERE event_year_id = ? AND status IN (?` +
		repeatPlaceholder(len(statuses)-1) + `) ORDER BY created_at`

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, eventYearID)
	for _, s := range statuses {
		args = append(args, s)
	}

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by event year: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListByOrgEventYear returns an organization's orders for one event year
// restricted to the given statuses.
func (r *OrderRepository) ListByOrgEventYear(ctx context.Context, q DBTX, orgID, eventYearID string, statuses []string) ([]Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	stmt := `SELECT ` + orderColumns + ` FROM orders
		WHERE organization_id = ? AND event_year_id = ? AND status IN (?` +
		repeatPlaceholder(len(statuses)-1) + `) ORDER BY created_at`

	args := make([]interface{}, 0, len(statuses)+2)
	args = append(args, orgID, eventYearID)
	for _, s := range statuses {
		args = append(args, s)
	}

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by org and event year: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListAbandonedPending returns pending orders with no completed payments
// created before the cutoff, bounded by limit. Used by the cleanup sweep.
func (r *OrderRepository) ListAbandonedPending(cutoff time.Time, limit int) ([]string, error) {
	const stmt = `
		SELECT id FROM orders
		WHERE status = 'pending'
		AND created_at < ?
		AND id NOT IN (SELECT order_id FROM payments WHERE status = 'completed')
		LIMIT ?`

	rows, err := QueryDB(stmt, formatTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan abandoned order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var order Order
	var metadataJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&order.ID, &order.OrganizationID, &order.EventYearID, &order.Status,
		&order.TotalAmount, &order.DepositAmount, &order.BalanceOwed,
		&order.IsSponsorship, &order.ContactName, &order.ContactEmail,
		&metadataJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if err := unmarshalMetadata(metadataJSON, &order.Metadata); err != nil {
		return nil, err
	}
	if order.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if order.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var result []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

// repeatPlaceholder returns n copies of ", ?" for IN clauses.
func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
