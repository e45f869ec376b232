package data

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// PAYMENT REPOSITORY
// =============================================================================

type PaymentRepository struct{}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{}
}

func (r *PaymentRepository) Insert(ctx context.Context, q DBTX, p *Payment) error {
	const stmt = `
		INSERT INTO payments (
			id, order_id, amount, method, status, transaction_id, failure_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, stmt,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status,
		p.TransactionID, p.FailureReason, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetByTransactionID returns the payment recorded for a processor transaction
// id, or nil when the id has not been seen. Used for idempotent replays.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, q DBTX, txnID string) (*Payment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, order_id, amount, method, status, transaction_id, failure_reason, created_at
		FROM payments WHERE transaction_id = ?`, txnID)

	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// SumCompleted returns the sum of completed payment amounts for an order.
func (r *PaymentRepository) SumCompleted(ctx context.Context, q DBTX, orderID string) (float64, error) {
	var total float64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE order_id = ? AND status = ?`, orderID, PaymentCompleted).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum completed payments: %w", err)
	}
	return total, nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, q DBTX, orderID string) ([]Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, amount, method, status, transaction_id, failure_reason, created_at
		FROM payments WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var createdAt string

	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status,
		&p.TransactionID, &p.FailureReason, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}
