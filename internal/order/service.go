// internal/order/service.go
package order

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"regbackend/internal/data"
	"regbackend/internal/email"
	"regbackend/internal/inventory"
	"regbackend/internal/logger"
	"regbackend/internal/money"
)

// Payment types
const (
	PaymentTypeFull    = "full"
	PaymentTypeDeposit = "deposit"
)

const invoiceDueDays = 30

// Service owns the order and invoice lifecycle. Every mutation runs inside a
// single transaction; the invoice always mirrors its order when that
// transaction commits.
type Service struct {
	orders       *data.OrderRepository
	invoices     *data.InvoiceRepository
	payments     *data.PaymentRepository
	products     *data.ProductRepository
	quotas       *data.QuotaRepository
	reservations *data.ReservationRepository
	allocator    *inventory.Allocator
	notifier     email.Notifier
}

func NewService(allocator *inventory.Allocator, notifier email.Notifier) *Service {
	return &Service{
		orders:       data.NewOrderRepository(),
		invoices:     data.NewInvoiceRepository(),
		payments:     data.NewPaymentRepository(),
		products:     data.NewProductRepository(),
		quotas:       data.NewQuotaRepository(),
		reservations: data.NewReservationRepository(),
		allocator:    allocator,
		notifier:     notifier,
	}
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SponsorshipInput struct {
	BaseAmount  float64 `json:"base_amount"`
	Description string  `json:"description"`
}

type CreateOrderInput struct {
	OrganizationID string
	EventYearID    string
	Items          []ItemInput
	PaymentType    string
	Sponsorship    *SponsorshipInput
	Coupon         *data.CouponInfo
	ContactName    string
	ContactEmail   string
	Actor          Actor
}

// quotaClaim carries an item's quota charge into the order's write
// transaction, where the limit is enforced.
type quotaClaim struct {
	productID  string
	quantity   int
	maxAllowed int
}

// CreateOrder validates items against quotas and pricing overrides, reserves
// inventory for finite-stock products, claims per-organization quota, and
// persists order, items and invoice atomically. Any reservation taken during
// a call that later fails is released before the error is returned; quota
// claims roll back with the transaction.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*data.Order, error) {
	switch in.PaymentType {
	case "":
		in.PaymentType = PaymentTypeFull
	case PaymentTypeFull, PaymentTypeDeposit:
	default:
		return nil, validationf("unknown payment type %q", in.PaymentType)
	}
	if in.Sponsorship == nil && len(in.Items) == 0 {
		return nil, validationf("order must contain at least one item")
	}

	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &data.Order{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		EventYearID:    in.EventYearID,
		Status:         string(StatusPending),
		ContactName:    in.ContactName,
		ContactEmail:   in.ContactEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var taken []*data.Reservation
	success := false
	defer func() {
		if success {
			return
		}
		for _, res := range taken {
			if err := s.allocator.Release(ctx, res.ID); err != nil {
				logger.LogError("Failed to release reservation %s after aborted order: %v", res.ID, err)
			}
		}
	}()

	var total, depositTotal float64

	if in.Sponsorship != nil {
		if in.Sponsorship.BaseAmount <= 0 {
			return nil, validationf("sponsorship base amount must be positive")
		}
		o.IsSponsorship = true
		o.Metadata.Sponsorship = &data.SponsorshipInfo{
			BaseAmount:    in.Sponsorship.BaseAmount,
			ProcessingFee: money.ProcessingFee(in.Sponsorship.BaseAmount),
			Description:   in.Sponsorship.Description,
		}
		total = money.TotalWithFee(in.Sponsorship.BaseAmount)
	}

	var items []data.OrderItem
	var claims []quotaClaim
	for _, itemIn := range in.Items {
		if itemIn.Quantity <= 0 {
			return nil, validationf("item quantity must be positive for product %s", itemIn.ProductID)
		}

		product, err := s.products.GetByID(ctx, dbConn, itemIn.ProductID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, itemIn.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if !product.Available {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, itemIn.ProductID)
		}

		if product.MaxPerOrg > 0 {
			// Fast-fail read; the binding check is the claim inside the
			// write transaction below.
			quota, err := s.quotas.Get(ctx, dbConn, in.OrganizationID, product.ID, in.EventYearID)
			if err != nil {
				return nil, err
			}
			if itemIn.Quantity > quota.Remaining() {
				return nil, &QuantityExceedsLimitError{
					ProductID: product.ID,
					Requested: itemIn.Quantity,
					Remaining: quota.Remaining(),
				}
			}
			claims = append(claims, quotaClaim{
				productID:  product.ID,
				quantity:   itemIn.Quantity,
				maxAllowed: product.MaxPerOrg,
			})
		}

		price, err := s.products.UnitPriceFor(ctx, dbConn, in.OrganizationID, product)
		if err != nil {
			return nil, err
		}

		itemTotal := money.Round2(price * float64(itemIn.Quantity))
		items = append(items, data.OrderItem{
			ID:           uuid.NewString(),
			ProductID:    product.ID,
			ProductName:  product.Name,
			Category:     product.Category,
			Quantity:     itemIn.Quantity,
			UnitPrice:    price,
			DepositPrice: product.DepositAmount,
			TotalPrice:   itemTotal,
		})
		total = money.Round2(total + itemTotal)
		depositTotal = money.Round2(depositTotal + product.DepositAmount*float64(itemIn.Quantity))

		// Finite inventory is checked and held before anything is persisted.
		if product.TotalInventory != nil {
			res, err := s.allocator.Reserve(ctx, product.ID, in.OrganizationID, itemIn.Quantity)
			if err != nil {
				return nil, err
			}
			taken = append(taken, res)
		}
	}

	if in.Coupon != nil {
		if in.Coupon.Code == "" {
			return nil, validationf("coupon code is required")
		}
		if in.Coupon.Discount <= 0 || in.Coupon.Discount >= total {
			return nil, validationf("coupon discount %.2f is out of range for order total %.2f",
				in.Coupon.Discount, total)
		}
		o.Metadata.Coupon = &data.CouponInfo{
			Code:          in.Coupon.Code,
			Discount:      in.Coupon.Discount,
			OriginalTotal: total,
		}
		total = money.Round2(total - in.Coupon.Discount)
	}

	if total <= 0 {
		return nil, ErrZeroPaymentAmount
	}

	o.TotalAmount = total
	o.BalanceOwed = total
	if in.PaymentType == PaymentTypeDeposit && depositTotal > 0 && depositTotal < total {
		o.DepositAmount = depositTotal
	} else {
		o.DepositAmount = total
	}

	appendAudit(o, nil, newAuditEntry(auditOrderCreated, in.Actor))

	dueDate := now.AddDate(0, 0, invoiceDueDays)
	inv := &data.Invoice{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		EventYearID: in.EventYearID,
		TotalAmount: total,
		BalanceOwed: total,
		Status:      InvoiceSent,
		SentAt:      &now,
		DueDate:     &dueDate,
		Metadata:    o.Metadata,
	}

	err = data.WithTx(ctx, func(tx *sql.Tx) error {
		// Two orders racing past the quota read above serialize on this
		// conditional update; the loser rolls back before any row lands.
		for _, c := range claims {
			ok, err := s.quotas.Claim(ctx, tx, in.OrganizationID, c.productID, in.EventYearID, c.quantity, c.maxAllowed)
			if err != nil {
				return err
			}
			if !ok {
				quota, err := s.quotas.Get(ctx, tx, in.OrganizationID, c.productID, in.EventYearID)
				if err != nil {
					return err
				}
				return &QuantityExceedsLimitError{
					ProductID: c.productID,
					Requested: c.quantity,
					Remaining: quota.Remaining(),
				}
			}
		}

		number, err := s.invoices.NextInvoiceNumber(ctx, tx, in.EventYearID)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number

		if err := s.orders.Insert(ctx, tx, o); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = o.ID
			if err := s.orders.InsertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		if err := s.invoices.Insert(ctx, tx, inv); err != nil {
			return err
		}
		for _, res := range taken {
			if err := s.reservations.AttachOrder(ctx, tx, res.ID, o.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	success = true

	logger.LogInfo("Created order %s for org %s (total %.2f, invoice %s)",
		o.ID, o.OrganizationID, o.TotalAmount, inv.InvoiceNumber)
	s.notifyInvoice(ctx, o, inv)
	return o, nil
}

type ApplyPaymentInput struct {
	OrderID       string
	TransactionID string
	Amount        float64
	Method        string
	Succeeded     bool
	FailureReason string
}

// ApplyPayment records a charge outcome and reconciles balances. Idempotent
// per processor transaction id: a replay with a known id has no balance
// effect. On success the order's held reservations are committed in the same
// transaction as the balance change.
func (s *Service) ApplyPayment(ctx context.Context, in ApplyPaymentInput) (*data.Order, error) {
	if in.TransactionID == "" {
		return nil, validationf("transaction id is required")
	}

	var result *data.Order
	var receipt *email.ReceiptNotification

	err := data.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.payments.GetByTransactionID(ctx, tx, in.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			// Replay of a transaction we already recorded.
			logger.LogInfo("Payment replay ignored for transaction %s (order %s)",
				in.TransactionID, existing.OrderID)
			result, err = s.orders.GetByID(ctx, tx, existing.OrderID)
			if err == sql.ErrNoRows {
				return ErrOrderNotFound
			}
			return err
		}

		o, err := s.orders.GetByID(ctx, tx, in.OrderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if !in.Succeeded {
			// A failed charge is recorded but has no effect on balances or status.
			p := &data.Payment{
				ID:            uuid.NewString(),
				OrderID:       o.ID,
				Amount:        in.Amount,
				Method:        in.Method,
				Status:        data.PaymentFailed,
				TransactionID: in.TransactionID,
				FailureReason: in.FailureReason,
				CreatedAt:     time.Now(),
			}
			if err := s.payments.Insert(ctx, tx, p); err != nil {
				return err
			}
			result = o
			return nil
		}

		if Status(o.Status).IsTerminal() {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "apply payment to"}
		}
		if in.Amount <= 0 {
			return validationf("payment amount must be positive, got %.2f", in.Amount)
		}

		p := &data.Payment{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			Amount:        in.Amount,
			Method:        in.Method,
			Status:        data.PaymentCompleted,
			TransactionID: in.TransactionID,
			CreatedAt:     time.Now(),
		}
		if err := s.payments.Insert(ctx, tx, p); err != nil {
			return err
		}

		paid, err := s.payments.SumCompleted(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		balance := money.ClampBalance(o.TotalAmount, paid)

		newStatus := StatusDepositPaid
		if balance == 0 {
			newStatus = StatusFullyPaid
		}
		if !CanTransition(Status(o.Status), newStatus) {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "apply payment to"}
		}

		inv, err := s.invoices.GetByOrderID(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		o.Status = string(newStatus)
		o.BalanceOwed = balance
		if o.IsSponsorship {
			entry := newAuditEntry(auditPaymentApplied, Actor{ID: "system", Name: "payment-processor"})
			entry.Changes = map[string]data.FieldChange{
				"balance_owed": {From: inv.BalanceOwed, To: balance},
			}
			appendAudit(o, inv, entry)
		}
		if err := s.orders.Update(ctx, tx, o); err != nil {
			return err
		}

		inv.PaidAmount = money.Round2(paid)
		inv.BalanceOwed = balance
		if balance == 0 {
			inv.Status = InvoicePaid
			paidAt := time.Now()
			inv.PaidAt = &paidAt
		} else {
			inv.Status = InvoicePartial
		}
		if err := s.invoices.Update(ctx, tx, inv); err != nil {
			return err
		}

		held, err := s.reservations.ListHeldByOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, res := range held {
			if err := s.allocator.CommitTx(ctx, tx, res.ID); err != nil {
				return err
			}
		}

		if err := assertBalanceInvariant(o, paid); err != nil {
			return err
		}

		result = o
		receipt = &email.ReceiptNotification{
			RecipientEmail: o.ContactEmail,
			RecipientName:  o.ContactName,
			OrderID:        o.ID,
			InvoiceNumber:  inv.InvoiceNumber,
			AmountPaid:     in.Amount,
			BalanceOwed:    balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if receipt != nil && s.notifier != nil && receipt.RecipientEmail != "" {
		if err := s.notifier.SendReceipt(ctx, *receipt); err != nil {
			logger.LogError("Failed to send receipt email for order %s: %v", result.ID, err)
		}
	}
	return result, nil
}

// ConfirmOrder moves a pending order to confirmed when its charge has been
// created at the processor. Confirming twice is a no-op.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetByID(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if Status(o.Status) == StatusConfirmed {
			return nil
		}
		if !CanTransition(Status(o.Status), StatusConfirmed) {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "confirm"}
		}

		o.Status = string(StatusConfirmed)
		return s.orders.Update(ctx, tx, o)
	})
}

// CancelOrder soft-cancels an order that has not been fully paid, releasing
// any held inventory. Financial history is kept.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string, actor Actor) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetByID(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if !CanTransition(Status(o.Status), StatusCancelled) {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "cancel"}
		}

		inv, err := s.invoices.GetByOrderID(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		entry := newAuditEntry(auditOrderCancelled, actor)
		entry.Reason = reason
		appendAudit(o, inv, entry)

		o.Status = string(StatusCancelled)
		if err := s.orders.Update(ctx, tx, o); err != nil {
			return err
		}

		inv.Status = InvoiceCancelled
		if err := s.invoices.Update(ctx, tx, inv); err != nil {
			return err
		}

		if err := s.releaseHeldTx(ctx, tx, o.ID); err != nil {
			return err
		}
		return s.returnQuotaTx(ctx, tx, o)
	})
}

// CompleteOrder settles the remaining balance of a deposit-paid order with a
// manual payment (e.g. a check recorded by an admin). Completing an order
// with no prior payment is an invalid transition.
func (s *Service) CompleteOrder(ctx context.Context, orderID string, actor Actor) (*data.Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if Status(o.Status) != StatusDepositPaid {
		return nil, &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "complete"}
	}

	return s.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID:       o.ID,
		TransactionID: "manual-" + uuid.NewString(),
		Amount:        o.BalanceOwed,
		Method:        "manual",
		Succeeded:     true,
	})
}

// RefundOrder records a refund against a fully paid order as a new payment
// row of negative effect; the original payments are never mutated.
func (s *Service) RefundOrder(ctx context.Context, orderID, refundTxnID, reason string, actor Actor) error {
	return data.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetByID(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if !CanTransition(Status(o.Status), StatusRefunded) {
			return &InvalidStateTransitionError{OrderID: o.ID, Status: Status(o.Status), Op: "refund"}
		}

		paid, err := s.payments.SumCompleted(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		if refundTxnID == "" {
			refundTxnID = "refund-" + uuid.NewString()
		}
		p := &data.Payment{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			Amount:        -paid,
			Method:        "refund",
			Status:        data.PaymentRefunded,
			TransactionID: refundTxnID,
			CreatedAt:     time.Now(),
		}
		if err := s.payments.Insert(ctx, tx, p); err != nil {
			return err
		}

		inv, err := s.invoices.GetByOrderID(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		entry := newAuditEntry(auditOrderRefunded, actor)
		entry.Reason = reason
		appendAudit(o, inv, entry)

		o.Status = string(StatusRefunded)
		if err := s.orders.Update(ctx, tx, o); err != nil {
			return err
		}

		inv.Status = InvoiceCancelled
		return s.invoices.Update(ctx, tx, inv)
	})
}

// GetOrder loads an order by id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*data.Order, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, dbConn, orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// GetInvoice loads the invoice owned by an order.
func (s *Service) GetInvoice(ctx context.Context, orderID string) (*data.Invoice, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByOrderID(ctx, dbConn, orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return inv, err
}

// GetOrganizationQuota returns the derived quota view for an
// org/product/event-year.
func (s *Service) GetOrganizationQuota(ctx context.Context, orgID, productID, eventYearID string) (*data.OrganizationQuota, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	quota, err := s.quotas.Get(ctx, dbConn, orgID, productID, eventYearID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return quota, err
}

// returnQuotaTx gives an order's quota claims back when the order is
// cancelled or deleted. Items whose product never had a limit have no quota
// row; returning against them is a no-op.
func (s *Service) returnQuotaTx(ctx context.Context, tx *sql.Tx, o *data.Order) error {
	items, err := s.orders.GetItems(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.quotas.Return(ctx, tx, o.OrganizationID, item.ProductID, o.EventYearID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) releaseHeldTx(ctx context.Context, tx *sql.Tx, orderID string) error {
	held, err := s.reservations.ListHeldByOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	for _, res := range held {
		if err := s.allocator.ReleaseTx(ctx, tx, res.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) notifyInvoice(ctx context.Context, o *data.Order, inv *data.Invoice) {
	if s.notifier == nil || o.ContactEmail == "" {
		return
	}
	n := email.InvoiceNotification{
		RecipientEmail: o.ContactEmail,
		RecipientName:  o.ContactName,
		OrderID:        o.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		TotalAmount:    inv.TotalAmount,
		BalanceOwed:    inv.BalanceOwed,
		DueDate:        inv.DueDate,
	}
	if err := s.notifier.SendInvoice(ctx, n); err != nil {
		logger.LogError("Failed to send invoice email for order %s: %v", o.ID, err)
	}
}

// assertBalanceInvariant checks total == balance + completed payments before
// a reconciling transaction commits. Overpayment clamps the balance at zero.
func assertBalanceInvariant(o *data.Order, paid float64) error {
	if paid >= o.TotalAmount {
		if o.BalanceOwed != 0 {
			return fmt.Errorf("balance invariant violated for order %s: overpaid but balance %.2f",
				o.ID, o.BalanceOwed)
		}
		return nil
	}
	if math.Abs(o.TotalAmount-(o.BalanceOwed+paid)) > 0.005 {
		return fmt.Errorf("balance invariant violated for order %s: total %.2f != balance %.2f + paid %.2f",
			o.ID, o.TotalAmount, o.BalanceOwed, paid)
	}
	return nil
}
