package order

import (
	"context"
	"database/sql"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/logger"
	"regbackend/internal/money"
)

// EditSponsorship re-prices a sponsorship order in place. Edits are locked
// out as soon as any payment has been recorded against the invoice: the
// issued amounts are then a financial record and a new order is required
// instead.
func (s *Service) EditSponsorship(ctx context.Context, orderID string, newBase float64, newDescription string, actor Actor) (*data.Order, error) {
	if newBase <= 0 {
		return nil, validationf("sponsorship base amount must be positive")
	}

	var result *data.Order
	var invOut *data.Invoice

	err := data.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetByID(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if !o.IsSponsorship {
			return ErrNotSponsorship
		}

		inv, err := s.invoices.GetByOrderID(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if inv.PaidAmount > 0 || inv.Status == InvoicePaid || inv.Status == InvoicePartial {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "edit paid sponsorship"}
		}

		var oldBase float64
		var oldDescription string
		if o.Metadata.Sponsorship != nil {
			oldBase = o.Metadata.Sponsorship.BaseAmount
			oldDescription = o.Metadata.Sponsorship.Description
		}

		entry := newAuditEntry(auditSponsorshipUpdated, actor)
		entry.Changes = map[string]data.FieldChange{
			"base_amount": {From: oldBase, To: newBase},
			"description": {From: oldDescription, To: newDescription},
		}
		appendAudit(o, inv, entry)

		total := money.TotalWithFee(newBase)
		sponsorship := &data.SponsorshipInfo{
			BaseAmount:    newBase,
			ProcessingFee: money.ProcessingFee(newBase),
			Description:   newDescription,
		}

		o.Metadata.Sponsorship = sponsorship
		o.TotalAmount = total
		o.BalanceOwed = total
		o.DepositAmount = total
		if err := s.orders.Update(ctx, tx, o); err != nil {
			return err
		}

		now := time.Now()
		inv.Metadata.Sponsorship = sponsorship
		inv.TotalAmount = total
		inv.BalanceOwed = total
		inv.Status = InvoiceSent
		inv.SentAt = &now
		if err := s.invoices.Update(ctx, tx, inv); err != nil {
			return err
		}

		result = o
		invOut = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.LogInfo("Sponsorship order %s re-priced to %.2f by %s", result.ID, result.TotalAmount, actor.ID)
	s.notifyInvoice(ctx, result, invOut)
	return result, nil
}

// DeleteSponsorship removes an unpaid sponsorship outright. Once money has
// moved the order is soft-cancelled instead, keeping payments and audit
// trail. Returns true when the order was hard-deleted.
func (s *Service) DeleteSponsorship(ctx context.Context, orderID, reason string, actor Actor) (bool, error) {
	deleted := false
	err := data.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetByID(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if !o.IsSponsorship {
			return ErrNotSponsorship
		}

		inv, err := s.invoices.GetByOrderID(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		if err := s.releaseHeldTx(ctx, tx, o.ID); err != nil {
			return err
		}
		if err := s.returnQuotaTx(ctx, tx, o); err != nil {
			return err
		}

		if inv.PaidAmount > 0 {
			entry := newAuditEntry(auditSponsorshipCancelled, actor)
			entry.Reason = reason
			appendAudit(o, inv, entry)

			o.Status = string(StatusCancelled)
			if err := s.orders.Update(ctx, tx, o); err != nil {
				return err
			}
			inv.Status = InvoiceCancelled
			return s.invoices.Update(ctx, tx, inv)
		}

		deleted = true
		return s.orders.Delete(ctx, tx, o.ID)
	})
	if err != nil {
		return false, err
	}

	if deleted {
		logger.LogInfo("Sponsorship order %s deleted by %s", orderID, actor.ID)
	} else {
		logger.LogInfo("Sponsorship order %s cancelled (payments on record) by %s", orderID, actor.ID)
	}
	return deleted, nil
}
