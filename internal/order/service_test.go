package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/inventory"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	if err := data.InitDB(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	if err := data.CreateTables(); err != nil {
		t.Fatalf("CreateTables failed: %v", err)
	}
	t.Cleanup(func() { data.CloseDB() })
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	setupTestDB(t)
	return NewService(inventory.NewAllocator(30*time.Minute), nil)
}

func insertProduct(t *testing.T, p *data.Product) {
	t.Helper()
	dbConn, err := data.GetDB()
	if err != nil {
		t.Fatalf("GetDB failed: %v", err)
	}
	if err := data.NewProductRepository().Insert(context.Background(), dbConn, p); err != nil {
		t.Fatalf("insert product failed: %v", err)
	}
}

func intPtr(v int) *int { return &v }

var testActor = Actor{ID: "admin-1", Name: "Test Admin", IsSuperAdmin: true}

func teamRegProduct() *data.Product {
	return &data.Product{
		ID: "team-reg", Name: "Team Registration", Category: data.CategoryTeamRegistration,
		BasePrice: 425, MaxPerOrg: 10, Available: true,
	}
}

func createTeamOrder(t *testing.T, svc *Service, qty int) *data.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []ItemInput{{ProductID: "team-reg", Quantity: qty}},
		ContactName:    "Pat Jordan",
		ContactEmail:   "pat@example.com",
		Actor:          testActor,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return o
}

func TestCreateOrderAndPartialPayment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())

	o := createTeamOrder(t, svc, 3)
	if o.TotalAmount != 1275.00 || o.BalanceOwed != 1275.00 {
		t.Fatalf("total=%.2f balance=%.2f, want 1275.00/1275.00", o.TotalAmount, o.BalanceOwed)
	}
	if o.Status != string(StatusPending) {
		t.Fatalf("status = %s, want pending", o.Status)
	}

	inv, err := svc.GetInvoice(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.InvoiceNumber != "INV-2026-0001" {
		t.Fatalf("invoice number = %s, want INV-2026-0001", inv.InvoiceNumber)
	}
	if inv.TotalAmount != 1275.00 || inv.Status != InvoiceSent {
		t.Fatalf("invoice total=%.2f status=%s, want 1275.00/sent", inv.TotalAmount, inv.Status)
	}

	// Partial payment.
	o, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 425.00, Method: "processor", Succeeded: true,
	})
	if err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}
	if o.Status != string(StatusDepositPaid) || o.BalanceOwed != 850.00 {
		t.Fatalf("status=%s balance=%.2f, want deposit_paid/850.00", o.Status, o.BalanceOwed)
	}

	inv, _ = svc.GetInvoice(ctx, o.ID)
	if inv.PaidAmount != 425.00 || inv.BalanceOwed != 850.00 || inv.Status != InvoicePartial {
		t.Fatalf("invoice paid=%.2f balance=%.2f status=%s, want 425.00/850.00/partial",
			inv.PaidAmount, inv.BalanceOwed, inv.Status)
	}

	// Replay of the same transaction id must have no balance effect.
	o, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 425.00, Method: "processor", Succeeded: true,
	})
	if err != nil {
		t.Fatalf("ApplyPayment replay failed: %v", err)
	}
	if o.BalanceOwed != 850.00 {
		t.Fatalf("balance after replay = %.2f, want 850.00", o.BalanceOwed)
	}

	// Settle the rest.
	o, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-2", Amount: 850.00, Method: "processor", Succeeded: true,
	})
	if err != nil {
		t.Fatalf("final ApplyPayment failed: %v", err)
	}
	if o.Status != string(StatusFullyPaid) || o.BalanceOwed != 0 {
		t.Fatalf("status=%s balance=%.2f, want fully_paid/0", o.Status, o.BalanceOwed)
	}

	inv, _ = svc.GetInvoice(ctx, o.ID)
	if inv.Status != InvoicePaid || inv.PaidAt == nil {
		t.Fatalf("invoice status=%s paidAt=%v, want paid with timestamp", inv.Status, inv.PaidAt)
	}

	// Paying a fully paid order is rejected.
	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-3", Amount: 10, Method: "processor", Succeeded: true,
	})
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
}

func TestFailedPaymentHasNoEffect(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())
	o := createTeamOrder(t, svc, 1)

	got, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-fail", Amount: 425.00,
		Method: "processor", Succeeded: false, FailureReason: "card declined",
	})
	if err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}
	if got.Status != string(StatusPending) || got.BalanceOwed != 425.00 {
		t.Fatalf("status=%s balance=%.2f, want pending/425.00", got.Status, got.BalanceOwed)
	}

	dbConn, _ := data.GetDB()
	payments, err := data.NewPaymentRepository().ListByOrder(ctx, dbConn, o.ID)
	if err != nil {
		t.Fatalf("ListByOrder failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Status != data.PaymentFailed {
		t.Fatalf("payments = %+v, want one failed row", payments)
	}
}

func TestApplyPaymentValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())
	o := createTeamOrder(t, svc, 1)

	var validationErr *ValidationError
	_, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-zero", Amount: 0, Succeeded: true,
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("zero amount: expected ValidationError, got %v", err)
	}

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{OrderID: o.ID, Succeeded: true, Amount: 10})
	if !errors.As(err, &validationErr) {
		t.Fatalf("missing transaction id: expected ValidationError, got %v", err)
	}

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: "missing", TransactionID: "txn-x", Amount: 10, Succeeded: true,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown order: expected ErrOrderNotFound, got %v", err)
	}
}

func TestQuantityExceedsLimit(t *testing.T) {
	svc := newTestService(t)
	insertProduct(t, &data.Product{
		ID: "team-reg", Name: "Team Registration", Category: data.CategoryTeamRegistration,
		BasePrice: 425, MaxPerOrg: 2, Available: true,
	})

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []ItemInput{{ProductID: "team-reg", Quantity: 3}},
		Actor:          testActor,
	})
	var quantityErr *QuantityExceedsLimitError
	if !errors.As(err, &quantityErr) {
		t.Fatalf("expected QuantityExceedsLimitError, got %v", err)
	}
	if quantityErr.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", quantityErr.Remaining)
	}
}

func TestQuotaEnforcedAcrossOrders(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct()) // max_per_org 10, no finite stock

	first := createTeamOrder(t, svc, 6)

	quota, err := svc.GetOrganizationQuota(ctx, "org-1", "team-reg", "2026")
	if err != nil {
		t.Fatalf("GetOrganizationQuota failed: %v", err)
	}
	if quota.QuantityPurchased != 6 || quota.Remaining() != 4 {
		t.Fatalf("quota purchased=%d remaining=%d, want 6/4", quota.QuantityPurchased, quota.Remaining())
	}

	// The second order only gets what is left of the limit.
	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1", EventYearID: "2026",
		Items: []ItemInput{{ProductID: "team-reg", Quantity: 6}},
		Actor: testActor,
	})
	var quantityErr *QuantityExceedsLimitError
	if !errors.As(err, &quantityErr) {
		t.Fatalf("expected QuantityExceedsLimitError, got %v", err)
	}
	if quantityErr.Remaining != 4 {
		t.Fatalf("remaining = %d, want 4", quantityErr.Remaining)
	}

	// Cancelling the first order gives its claim back.
	if err := svc.CancelOrder(ctx, first.ID, "changed plans", testActor); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1", EventYearID: "2026",
		Items: []ItemInput{{ProductID: "team-reg", Quantity: 6}},
		Actor: testActor,
	}); err != nil {
		t.Fatalf("CreateOrder after cancel failed: %v", err)
	}
}

func TestQuotaLastUnitsRace(t *testing.T) {
	svc := newTestService(t)
	insertProduct(t, teamRegProduct())

	// Two concurrent orders for 6 of a max-10 product: only one may land.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
				OrganizationID: "org-1", EventYearID: "2026",
				Items: []ItemInput{{ProductID: "team-reg", Quantity: 6}},
				Actor: testActor,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var quantityErr *QuantityExceedsLimitError
		if !errors.As(err, &quantityErr) {
			t.Fatalf("unexpected error type: %v", err)
		}
		failures++
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("got %d successes and %d failures, want exactly 1 of each", successes, failures)
	}
}

func TestOrgPriceOverride(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())

	dbConn, _ := data.GetDB()
	if err := data.NewProductRepository().SetOrgPrice(ctx, dbConn, "org-1", "team-reg", 400.00); err != nil {
		t.Fatalf("SetOrgPrice failed: %v", err)
	}

	o := createTeamOrder(t, svc, 3)
	if o.TotalAmount != 1200.00 {
		t.Fatalf("total = %.2f, want 1200.00 with override", o.TotalAmount)
	}
}

func TestCouponDiscount(t *testing.T) {
	svc := newTestService(t)
	insertProduct(t, teamRegProduct())

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []ItemInput{{ProductID: "team-reg", Quantity: 1}},
		Coupon:         &data.CouponInfo{Code: "EARLY50", Discount: 50.00},
		Actor:          testActor,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if o.TotalAmount != 375.00 {
		t.Fatalf("total = %.2f, want 375.00 after discount", o.TotalAmount)
	}
	if o.Metadata.Coupon == nil || o.Metadata.Coupon.OriginalTotal != 425.00 {
		t.Fatalf("coupon metadata = %+v, want original total 425.00", o.Metadata.Coupon)
	}
}

func TestCancelReleasesInventory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "plot", Name: "Exhibit Plot", Category: data.CategoryProduct,
		BasePrice: 100, TotalInventory: intPtr(5), MaxPerOrg: 5, Available: true,
	})

	o, err := svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []ItemInput{{ProductID: "plot", Quantity: 2}},
		Actor:          testActor,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	dbConn, _ := data.GetDB()
	products := data.NewProductRepository()
	p, _ := products.GetByID(ctx, dbConn, "plot")
	if p.ReservedCount != 2 {
		t.Fatalf("reserved = %d after create, want 2", p.ReservedCount)
	}

	if err := svc.CancelOrder(ctx, o.ID, "changed plans", testActor); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	p, _ = products.GetByID(ctx, dbConn, "plot")
	if p.ReservedCount != 0 {
		t.Fatalf("reserved = %d after cancel, want 0", p.ReservedCount)
	}

	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Status != string(StatusCancelled) {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	inv, _ := svc.GetInvoice(ctx, o.ID)
	if inv.Status != InvoiceCancelled {
		t.Fatalf("invoice status = %s, want cancelled", inv.Status)
	}

	// A cancelled order cannot be cancelled again.
	err = svc.CancelOrder(ctx, o.ID, "again", testActor)
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
}

func TestCompleteOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())
	o := createTeamOrder(t, svc, 3)

	// Completing with no prior payment is an invalid transition.
	_, err := svc.CompleteOrder(ctx, o.ID, testActor)
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}

	if _, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 425.00, Succeeded: true,
	}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	got, err := svc.CompleteOrder(ctx, o.ID, testActor)
	if err != nil {
		t.Fatalf("CompleteOrder failed: %v", err)
	}
	if got.Status != string(StatusFullyPaid) || got.BalanceOwed != 0 {
		t.Fatalf("status=%s balance=%.2f, want fully_paid/0", got.Status, got.BalanceOwed)
	}
}

func TestRefundOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())
	o := createTeamOrder(t, svc, 1)

	// Refunding before full payment is rejected.
	err := svc.RefundOrder(ctx, o.ID, "", "event cancelled", testActor)
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}

	if _, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 425.00, Succeeded: true,
	}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	if err := svc.RefundOrder(ctx, o.ID, "refund-1", "event cancelled", testActor); err != nil {
		t.Fatalf("RefundOrder failed: %v", err)
	}

	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Status != string(StatusRefunded) {
		t.Fatalf("status = %s, want refunded", got.Status)
	}

	// The original payment row is preserved; the refund is its own row.
	dbConn, _ := data.GetDB()
	payments, _ := data.NewPaymentRepository().ListByOrder(ctx, dbConn, o.ID)
	if len(payments) != 2 {
		t.Fatalf("payment rows = %d, want 2", len(payments))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertProduct(t, teamRegProduct())

	var validationErr *ValidationError

	_, err := svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1", EventYearID: "2026", Actor: testActor,
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("empty order: expected ValidationError, got %v", err)
	}

	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1", EventYearID: "2026",
		Items: []ItemInput{{ProductID: "team-reg", Quantity: 0}},
		Actor: testActor,
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("zero quantity: expected ValidationError, got %v", err)
	}

	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		OrganizationID: "org-1", EventYearID: "2026",
		Items: []ItemInput{{ProductID: "missing", Quantity: 1}},
		Actor: testActor,
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("missing product: expected ErrProductNotFound, got %v", err)
	}
}
