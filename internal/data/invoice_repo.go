package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// INVOICE REPOSITORY
// =============================================================================

type InvoiceRepository struct{}

func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{}
}

const invoiceColumns = `id, order_id, invoice_number, event_year_id, total_amount,
	paid_amount, balance_owed, status, sent_at, paid_at, due_date, metadata_json`

func (r *InvoiceRepository) Insert(ctx context.Context, q DBTX, inv *Invoice) error {
	metadataJSON, err := marshalMetadata(inv.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO invoices (
			id, order_id, invoice_number, event_year_id, total_amount, paid_amount,
			balance_owed, status, sent_at, paid_at, due_date, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = q.ExecContext(ctx, stmt,
		inv.ID, inv.OrderID, inv.InvoiceNumber, inv.EventYearID,
		inv.TotalAmount, inv.PaidAmount, inv.BalanceOwed, inv.Status,
		formatNullableTime(inv.SentAt), formatNullableTime(inv.PaidAt),
		formatNullableTime(inv.DueDate), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, q DBTX, orderID string) (*Invoice, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE order_id = ?`, orderID)
	return scanInvoice(row)
}

// Update rewrites the mutable fields of an invoice so it mirrors its order.
func (r *InvoiceRepository) Update(ctx context.Context, q DBTX, inv *Invoice) error {
	metadataJSON, err := marshalMetadata(inv.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
		UPDATE invoices SET total_amount = ?, paid_amount = ?, balance_owed = ?,
			status = ?, sent_at = ?, paid_at = ?, due_date = ?, metadata_json = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, stmt,
		inv.TotalAmount, inv.PaidAmount, inv.BalanceOwed, inv.Status,
		formatNullableTime(inv.SentAt), formatNullableTime(inv.PaidAt),
		formatNullableTime(inv.DueDate), metadataJSON, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// NextInvoiceNumber assigns the next sequential number for an event year,
// formatted INV-<year>-<seq>. Must run inside the order-creation transaction.
// The sequence continues from the highest number ever assigned, not the row
// count: hard deletes must never cause a number to be reissued.
func (r *InvoiceRepository) NextInvoiceNumber(ctx context.Context, q DBTX, eventYearID string) (string, error) {
	// substr is 1-based; skip past the "INV-<year>-" prefix.
	seqStart := len("INV-"+eventYearID+"-") + 1

	var highest int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substr(invoice_number, ?) AS INTEGER)), 0)
		FROM invoices WHERE event_year_id = ?`, seqStart, eventYearID).Scan(&highest)
	if err != nil {
		return "", fmt.Errorf("failed to read highest invoice number for event year: %w", err)
	}
	return fmt.Sprintf("INV-%s-%04d", eventYearID, highest+1), nil
}

// MarkOverdue flags sent invoices with an unpaid balance past their due date.
// Derived status only; balances are never touched here.
func (r *InvoiceRepository) MarkOverdue(now time.Time) (int, error) {
	const stmt = `
		UPDATE invoices SET status = 'overdue'
		WHERE status = 'sent' AND balance_owed > 0
		AND due_date IS NOT NULL AND due_date < ?`

	result, err := ExecDB(stmt, formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var inv Invoice
	var metadataJSON sql.NullString
	var sentAt, paidAt, dueDate sql.NullString

	err := row.Scan(
		&inv.ID, &inv.OrderID, &inv.InvoiceNumber, &inv.EventYearID,
		&inv.TotalAmount, &inv.PaidAmount, &inv.BalanceOwed, &inv.Status,
		&sentAt, &paidAt, &dueDate, &metadataJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	if err := unmarshalMetadata(metadataJSON, &inv.Metadata); err != nil {
		return nil, err
	}
	if inv.SentAt, err = parseNullableTime(sentAt); err != nil {
		return nil, err
	}
	if inv.PaidAt, err = parseNullableTime(paidAt); err != nil {
		return nil, err
	}
	if inv.DueDate, err = parseNullableTime(dueDate); err != nil {
		return nil, err
	}

	return &inv, nil
}
