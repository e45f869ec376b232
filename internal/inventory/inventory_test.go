package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"regbackend/internal/data"
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

func getProduct(t *testing.T, id string) *data.Product {
	t.Helper()
	dbConn, err := data.GetDB()
	if err != nil {
		t.Fatalf("GetDB failed: %v", err)
	}
	p, err := data.NewProductRepository().GetByID(context.Background(), dbConn, id)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	return p
}

func intPtr(v int) *int { return &v }

func TestReserveCommitRelease(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "plot-a", Name: "Exhibit Plot A", Category: data.CategoryProduct,
		BasePrice: 100, TotalInventory: intPtr(5), MaxPerOrg: 5, Available: true,
	})

	alloc := NewAllocator(30 * time.Minute)

	res, err := alloc.Reserve(ctx, "plot-a", "org-1", 2)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if p := getProduct(t, "plot-a"); p.ReservedCount != 2 || p.SoldCount != 0 {
		t.Fatalf("after reserve: reserved=%d sold=%d, want 2/0", p.ReservedCount, p.SoldCount)
	}

	if err := alloc.Commit(ctx, res.ID); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if p := getProduct(t, "plot-a"); p.ReservedCount != 0 || p.SoldCount != 2 {
		t.Fatalf("after commit: reserved=%d sold=%d, want 0/2", p.ReservedCount, p.SoldCount)
	}

	// A committed reservation is final: replaying the commit changes nothing.
	if err := alloc.Commit(ctx, res.ID); err != nil {
		t.Fatalf("Commit replay failed: %v", err)
	}
	if p := getProduct(t, "plot-a"); p.SoldCount != 2 {
		t.Fatalf("commit replay double-counted: sold=%d", p.SoldCount)
	}

	res2, err := alloc.Reserve(ctx, "plot-a", "org-1", 3)
	if err != nil {
		t.Fatalf("second Reserve failed: %v", err)
	}
	if err := alloc.Release(ctx, res2.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := alloc.Release(ctx, res2.ID); err != nil {
		t.Fatalf("Release replay failed: %v", err)
	}
	if p := getProduct(t, "plot-a"); p.ReservedCount != 0 || p.SoldCount != 2 {
		t.Fatalf("after release: reserved=%d sold=%d, want 0/2", p.ReservedCount, p.SoldCount)
	}
}

func TestReserveInsufficientInventory(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "booth", Name: "Vendor Booth", Category: data.CategoryProduct,
		BasePrice: 250, TotalInventory: intPtr(3), MaxPerOrg: 3, Available: true,
	})

	alloc := NewAllocator(30 * time.Minute)

	if _, err := alloc.Reserve(ctx, "booth", "org-1", 2); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	_, err := alloc.Reserve(ctx, "booth", "org-2", 2)
	var invErr *InsufficientInventoryError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InsufficientInventoryError, got %v", err)
	}
	if invErr.Available != 1 {
		t.Fatalf("reported available = %d, want 1", invErr.Available)
	}
}

func TestReserveInvalidQuantity(t *testing.T) {
	setupTestDB(t)
	alloc := NewAllocator(30 * time.Minute)

	for _, qty := range []int{0, -1} {
		if _, err := alloc.Reserve(context.Background(), "anything", "org-1", qty); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestReserveMissingProduct(t *testing.T) {
	setupTestDB(t)
	alloc := NewAllocator(30 * time.Minute)

	if _, err := alloc.Reserve(context.Background(), "nope", "org-1", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestLastUnitRace(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "last-plot", Name: "Last Plot", Category: data.CategoryProduct,
		BasePrice: 100, TotalInventory: intPtr(1), MaxPerOrg: 1, Available: true,
	})

	alloc := NewAllocator(30 * time.Minute)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(org string) {
			defer wg.Done()
			_, err := alloc.Reserve(ctx, "last-plot", org, 1)
			results <- err
		}("org-" + string(rune('a'+i)))
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var invErr *InsufficientInventoryError
		if !errors.As(err, &invErr) {
			t.Fatalf("unexpected error type: %v", err)
		}
		failures++
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("got %d successes and %d failures, want exactly 1 of each", successes, failures)
	}

	if p := getProduct(t, "last-plot"); p.SoldCount+p.ReservedCount != 1 {
		t.Fatalf("sold+reserved = %d, want 1", p.SoldCount+p.ReservedCount)
	}
}

func TestReserveUnlimitedInventory(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "team-reg", Name: "Team Registration", Category: data.CategoryTeamRegistration,
		BasePrice: 425, MaxPerOrg: 5, Available: true,
	})

	alloc := NewAllocator(30 * time.Minute)
	if _, err := alloc.Reserve(ctx, "team-reg", "org-1", 100); err != nil {
		t.Fatalf("Reserve against unlimited inventory failed: %v", err)
	}
}

func TestReleaseExpired(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, &data.Product{
		ID: "plot-b", Name: "Exhibit Plot B", Category: data.CategoryProduct,
		BasePrice: 100, TotalInventory: intPtr(4), MaxPerOrg: 4, Available: true,
	})

	// Negative TTL makes every hold expire immediately.
	expired := NewAllocator(-time.Minute)
	if _, err := expired.Reserve(ctx, "plot-b", "org-1", 3); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	alloc := NewAllocator(30 * time.Minute)
	released, err := alloc.ReleaseExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ReleaseExpired failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("released %d reservations, want 1", released)
	}
	if p := getProduct(t, "plot-b"); p.ReservedCount != 0 {
		t.Fatalf("reserved = %d after sweep, want 0", p.ReservedCount)
	}
}
