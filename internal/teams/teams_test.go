package teams

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/inventory"
	"regbackend/internal/order"
)

func setupTest(t *testing.T) (*order.Service, *Synchronizer) {
	t.Helper()
	if err := data.InitDB(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	if err := data.CreateTables(); err != nil {
		t.Fatalf("CreateTables failed: %v", err)
	}
	t.Cleanup(func() { data.CloseDB() })

	dbConn, err := data.GetDB()
	if err != nil {
		t.Fatalf("GetDB failed: %v", err)
	}
	err = data.NewProductRepository().Insert(context.Background(), dbConn, &data.Product{
		ID: "team-reg", Name: "Team Registration", Category: data.CategoryTeamRegistration,
		BasePrice: 425, MaxPerOrg: 10, Available: true,
	})
	if err != nil {
		t.Fatalf("insert product failed: %v", err)
	}

	return order.NewService(inventory.NewAllocator(30*time.Minute), nil), NewSynchronizer()
}

func paidTeamOrder(t *testing.T, svc *order.Service, qty int) *data.Order {
	t.Helper()
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, order.CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []order.ItemInput{{ProductID: "team-reg", Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if _, err := svc.ApplyPayment(ctx, order.ApplyPaymentInput{
		OrderID: o.ID, TransactionID: "txn-" + o.ID, Amount: o.TotalAmount, Succeeded: true,
	}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}
	return o
}

func teamNumbers(teams []data.CompanyTeam) []int {
	numbers := make([]int, 0, len(teams))
	for _, team := range teams {
		numbers = append(numbers, team.TeamNumber)
	}
	return numbers
}

func TestSyncCreatesTeamsFromPaidOrders(t *testing.T) {
	svc, s := setupTest(t)
	ctx := context.Background()
	paidTeamOrder(t, svc, 3)

	created, err := s.Sync(ctx, "org-1", "2026")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d teams, want 3", len(created))
	}
	if got := teamNumbers(created); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("team numbers = %v, want [1 2 3]", got)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	svc, s := setupTest(t)
	ctx := context.Background()
	paidTeamOrder(t, svc, 2)

	if _, err := s.Sync(ctx, "org-1", "2026"); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	created, err := s.Sync(ctx, "org-1", "2026")
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("second sync created %d teams, want 0", len(created))
	}

	roster, err := s.List(ctx, "org-1", "2026")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster has %d teams, want 2", len(roster))
	}
}

func TestUnpaidOrdersDoNotProduceTeams(t *testing.T) {
	svc, s := setupTest(t)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, order.CreateOrderInput{
		OrganizationID: "org-1",
		EventYearID:    "2026",
		Items:          []order.ItemInput{{ProductID: "team-reg", Quantity: 2}},
	}); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	created, err := s.Sync(ctx, "org-1", "2026")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("sync created %d teams from an unpaid order, want 0", len(created))
	}
}

func TestCancelledTeamNumberIsNeverReused(t *testing.T) {
	svc, s := setupTest(t)
	ctx := context.Background()
	paidTeamOrder(t, svc, 3)

	if _, err := s.Sync(ctx, "org-1", "2026"); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	roster, _ := s.List(ctx, "org-1", "2026")
	if err := s.CancelTeam(ctx, roster[1].ID); err != nil { // team number 2
		t.Fatalf("CancelTeam failed: %v", err)
	}

	// Paid count is still 3, active is 2; sync backfills one team but must
	// skip the cancelled number 2.
	created, err := s.Sync(ctx, "org-1", "2026")
	if err != nil {
		t.Fatalf("Sync after cancel failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d teams, want 1", len(created))
	}
	if created[0].TeamNumber != 4 {
		t.Fatalf("backfilled team number = %d, want 4 (2 stays claimed)", created[0].TeamNumber)
	}

	roster, _ = s.List(ctx, "org-1", "2026")
	if got := teamNumbers(roster); len(got) != 4 {
		t.Fatalf("roster numbers = %v, want 4 rows including the cancelled one", got)
	}
}

func TestRenameTeam(t *testing.T) {
	svc, s := setupTest(t)
	ctx := context.Background()
	paidTeamOrder(t, svc, 1)

	if _, err := s.Sync(ctx, "org-1", "2026"); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	roster, _ := s.List(ctx, "org-1", "2026")

	if err := s.RenameTeam(ctx, roster[0].ID, "The Crankshafts"); err != nil {
		t.Fatalf("RenameTeam failed: %v", err)
	}
	roster, _ = s.List(ctx, "org-1", "2026")
	if roster[0].Name != "The Crankshafts" {
		t.Fatalf("name = %q, want The Crankshafts", roster[0].Name)
	}
}
