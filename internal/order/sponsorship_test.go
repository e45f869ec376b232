package order

import (
	"context"
	"errors"
	"testing"

	"regbackend/internal/data"
)

func createSponsorship(t *testing.T, svc *Service, base float64) *data.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Sponsorship:    &SponsorshipInput{BaseAmount: base, Description: "Gold sponsor"},
		ContactName:    "Sam Rivera",
		ContactEmail:   "sam@example.com",
		Actor:          testActor,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return o
}

func TestSponsorshipTotalsIncludeFee(t *testing.T) {
	svc := newTestService(t)
	o := createSponsorship(t, svc, 1000.00)

	// 1000 * 0.029 + 0.30 = 29.30
	if o.TotalAmount != 1029.30 {
		t.Fatalf("total = %.2f, want 1029.30", o.TotalAmount)
	}
	if o.Metadata.Sponsorship == nil || o.Metadata.Sponsorship.ProcessingFee != 29.30 {
		t.Fatalf("sponsorship metadata = %+v, want fee 29.30", o.Metadata.Sponsorship)
	}
	if !o.IsSponsorship {
		t.Fatal("order not flagged as sponsorship")
	}
}

func TestEditSponsorshipRepricesAndAudits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	o := createSponsorship(t, svc, 1000.00)

	edited, err := svc.EditSponsorship(ctx, o.ID, 500.00, "Silver sponsor", testActor)
	if err != nil {
		t.Fatalf("EditSponsorship failed: %v", err)
	}

	// 500 * 0.029 + 0.30 = 14.80
	if edited.TotalAmount != 514.80 || edited.BalanceOwed != 514.80 {
		t.Fatalf("total=%.2f balance=%.2f, want 514.80/514.80", edited.TotalAmount, edited.BalanceOwed)
	}

	trail := edited.Metadata.AuditTrail
	if len(trail) != 2 {
		t.Fatalf("audit trail has %d entries, want 2 (created + updated)", len(trail))
	}
	entry := trail[1]
	if entry.Action != auditSponsorshipUpdated || entry.ActorID != testActor.ID {
		t.Fatalf("audit entry = %+v, want sponsorship_updated by %s", entry, testActor.ID)
	}
	change, ok := entry.Changes["base_amount"]
	if !ok {
		t.Fatal("audit entry missing base_amount change")
	}
	if change.From.(float64) != 1000.00 || change.To.(float64) != 500.00 {
		t.Fatalf("base_amount change = %+v, want 1000 -> 500", change)
	}

	// Invoice mirrors the new totals and carries the same trail.
	inv, err := svc.GetInvoice(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.TotalAmount != 514.80 || inv.BalanceOwed != 514.80 {
		t.Fatalf("invoice total=%.2f balance=%.2f, want 514.80/514.80", inv.TotalAmount, inv.BalanceOwed)
	}
	if len(inv.Metadata.AuditTrail) != 2 {
		t.Fatalf("invoice audit trail has %d entries, want 2", len(inv.Metadata.AuditTrail))
	}
}

func TestEditPaidSponsorshipLockedOut(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	o := createSponsorship(t, svc, 1000.00)

	if _, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 100.00, Succeeded: true,
	}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	_, err := svc.EditSponsorship(ctx, o.ID, 500.00, "Silver sponsor", testActor)
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
}

func TestEditNonSponsorship(t *testing.T) {
	svc := newTestService(t)
	insertProduct(t, teamRegProduct())
	o := createTeamOrder(t, svc, 1)

	if _, err := svc.EditSponsorship(context.Background(), o.ID, 500.00, "x", testActor); !errors.Is(err, ErrNotSponsorship) {
		t.Fatalf("expected ErrNotSponsorship, got %v", err)
	}
}

func TestDeleteUnpaidSponsorshipHardDeletes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	o := createSponsorship(t, svc, 1000.00)

	deleted, err := svc.DeleteSponsorship(ctx, o.ID, "duplicate entry", testActor)
	if err != nil {
		t.Fatalf("DeleteSponsorship failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected hard delete for unpaid sponsorship")
	}
	if _, err := svc.GetOrder(ctx, o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound after delete, got %v", err)
	}
}

func TestInvoiceNumbersNeverReissuedAfterDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := createSponsorship(t, svc, 1000.00)
	second := createSponsorship(t, svc, 500.00)

	inv, err := svc.GetInvoice(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.InvoiceNumber != "INV-2026-0002" {
		t.Fatalf("invoice number = %s, want INV-2026-0002", inv.InvoiceNumber)
	}

	// Hard-deleting the first order burns its number for good; the sequence
	// continues past it instead of reissuing 0002.
	deleted, err := svc.DeleteSponsorship(ctx, first.ID, "duplicate entry", testActor)
	if err != nil {
		t.Fatalf("DeleteSponsorship failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected hard delete for unpaid sponsorship")
	}

	third := createSponsorship(t, svc, 250.00)
	inv, err = svc.GetInvoice(ctx, third.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.InvoiceNumber != "INV-2026-0003" {
		t.Fatalf("invoice number = %s, want INV-2026-0003", inv.InvoiceNumber)
	}
}

func TestDeletePaidSponsorshipSoftCancels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	o := createSponsorship(t, svc, 1000.00)

	if _, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-1", Amount: 200.00, Succeeded: true,
	}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	deleted, err := svc.DeleteSponsorship(ctx, o.ID, "sponsor withdrew", testActor)
	if err != nil {
		t.Fatalf("DeleteSponsorship failed: %v", err)
	}
	if deleted {
		t.Fatal("expected soft cancel for paid sponsorship")
	}

	got, err := svc.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != string(StatusCancelled) {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Financial history survives.
	dbConn, _ := data.GetDB()
	payments, _ := data.NewPaymentRepository().ListByOrder(ctx, dbConn, o.ID)
	if len(payments) != 1 {
		t.Fatalf("payment rows = %d, want 1", len(payments))
	}

	last := got.Metadata.AuditTrail[len(got.Metadata.AuditTrail)-1]
	if last.Action != auditSponsorshipCancelled || last.Reason != "sponsor withdrew" {
		t.Fatalf("last audit entry = %+v, want sponsorship_cancelled with reason", last)
	}
}
