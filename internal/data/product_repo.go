package data

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// PRODUCT REPOSITORY
// =============================================================================

type ProductRepository struct{}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{}
}

const productColumns = `id, name, category, base_price, deposit_amount,
	total_inventory, sold_count, reserved_count, max_per_org, available`

func (r *ProductRepository) Insert(ctx context.Context, q DBTX, p *Product) error {
	const stmt = `
		INSERT INTO products (
			id, name, category, base_price, deposit_amount, total_inventory,
			sold_count, reserved_count, max_per_org, available
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var totalInventory interface{}
	if p.TotalInventory != nil {
		totalInventory = *p.TotalInventory
	}

	_, err := q.ExecContext(ctx, stmt,
		p.ID, p.Name, p.Category, p.BasePrice, p.DepositAmount, totalInventory,
		p.SoldCount, p.ReservedCount, p.MaxPerOrg, p.Available,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *ProductRepository) GetByID(ctx context.Context, q DBTX, productID string) (*Product, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	return scanProduct(row)
}

// UnitPriceFor returns the org-specific override when one exists, otherwise
// the product's base price.
func (r *ProductRepository) UnitPriceFor(ctx context.Context, q DBTX, orgID string, p *Product) (float64, error) {
	var price float64
	err := q.QueryRowContext(ctx, `
		SELECT price FROM org_product_prices
		WHERE organization_id = ? AND product_id = ?`, orgID, p.ID).Scan(&price)
	if err == sql.ErrNoRows {
		return p.BasePrice, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query org price override: %w", err)
	}
	return price, nil
}

// SetOrgPrice records a per-organization price override for a product.
func (r *ProductRepository) SetOrgPrice(ctx context.Context, q DBTX, orgID, productID string, price float64) error {
	const stmt = `
		INSERT INTO org_product_prices (organization_id, product_id, price)
		VALUES (?, ?, ?)
		ON CONFLICT (organization_id, product_id) DO UPDATE SET price = excluded.price`

	_, err := q.ExecContext(ctx, stmt, orgID, productID, price)
	if err != nil {
		return fmt.Errorf("failed to set org price override: %w", err)
	}
	return nil
}

// TryReserveStock atomically bumps reserved_count when headroom exists.
// The WHERE clause is the inventory invariant: sold + reserved + qty must not
// exceed total_inventory. Returns false when the conditional update matched
// no row, which means either the product is missing or headroom ran out.
func (r *ProductRepository) TryReserveStock(ctx context.Context, q DBTX, productID string, qty int) (bool, error) {
	const stmt = `
		UPDATE products SET reserved_count = reserved_count + ?
		WHERE id = ? AND available = 1
		AND (total_inventory IS NULL OR sold_count + reserved_count + ? <= total_inventory)`

	result, err := q.ExecContext(ctx, stmt, qty, productID, qty)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CommitStock moves reserved units to sold; the sold+reserved sum is unchanged.
func (r *ProductRepository) CommitStock(ctx context.Context, q DBTX, productID string, qty int) error {
	const stmt = `
		UPDATE products SET reserved_count = reserved_count - ?, sold_count = sold_count + ?
		WHERE id = ? AND reserved_count >= ?`

	result, err := q.ExecContext(ctx, stmt, qty, qty, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to commit stock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("commit stock matched no row for product %s (qty %d)", productID, qty)
	}
	return nil
}

// ReleaseStock returns reserved units to headroom.
func (r *ProductRepository) ReleaseStock(ctx context.Context, q DBTX, productID string, qty int) error {
	const stmt = `
		UPDATE products SET reserved_count = reserved_count - ?
		WHERE id = ? AND reserved_count >= ?`

	result, err := q.ExecContext(ctx, stmt, qty, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("release stock matched no row for product %s (qty %d)", productID, qty)
	}
	return nil
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var totalInventory sql.NullInt64

	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.BasePrice, &p.DepositAmount,
		&totalInventory, &p.SoldCount, &p.ReservedCount, &p.MaxPerOrg, &p.Available)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	if totalInventory.Valid {
		v := int(totalInventory.Int64)
		p.TotalInventory = &v
	}
	return &p, nil
}

// =============================================================================
// ORGANIZATION QUOTA REPOSITORY
// =============================================================================

type QuotaRepository struct{}

func NewQuotaRepository() *QuotaRepository {
	return &QuotaRepository{}
}

// Get returns the quota row for org/product/event-year, or a zero row seeded
// with the product's max_per_org when nothing has been claimed yet.
func (r *QuotaRepository) Get(ctx context.Context, q DBTX, orgID, productID, eventYearID string) (*OrganizationQuota, error) {
	quota := &OrganizationQuota{
		OrganizationID: orgID,
		ProductID:      productID,
		EventYearID:    eventYearID,
	}

	err := q.QueryRowContext(ctx, `
		SELECT quantity_purchased, max_allowed FROM organization_quotas
		WHERE organization_id = ? AND product_id = ? AND event_year_id = ?`,
		orgID, productID, eventYearID).Scan(&quota.QuantityPurchased, &quota.MaxAllowed)
	if err == sql.ErrNoRows {
		var maxPerOrg int
		err = q.QueryRowContext(ctx,
			`SELECT max_per_org FROM products WHERE id = ?`, productID).Scan(&maxPerOrg)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, err
			}
			return nil, fmt.Errorf("failed to read product quota limit: %w", err)
		}
		quota.MaxAllowed = maxPerOrg
		return quota, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query organization quota: %w", err)
	}
	return quota, nil
}

// Claim counts qty against the organization's limit, seeding the quota row on
// first use. The limit check and the increment are one conditional UPDATE, so
// concurrent claims against the last remaining units resolve to one winner.
// Returns false when the claim would exceed max_allowed; nothing is written
// in that case.
func (r *QuotaRepository) Claim(ctx context.Context, q DBTX, orgID, productID, eventYearID string, qty, maxAllowed int) (bool, error) {
	const seed = `
		INSERT INTO organization_quotas (
			organization_id, product_id, event_year_id, quantity_purchased, max_allowed
		) VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (organization_id, product_id, event_year_id) DO NOTHING`

	if _, err := q.ExecContext(ctx, seed, orgID, productID, eventYearID, maxAllowed); err != nil {
		return false, fmt.Errorf("failed to seed organization quota: %w", err)
	}

	const claim = `
		UPDATE organization_quotas SET quantity_purchased = quantity_purchased + ?
		WHERE organization_id = ? AND product_id = ? AND event_year_id = ?
		AND quantity_purchased + ? <= max_allowed`

	result, err := q.ExecContext(ctx, claim, qty, orgID, productID, eventYearID, qty)
	if err != nil {
		return false, fmt.Errorf("failed to claim organization quota: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Return gives a claim back, flooring at zero. A missing row is a no-op so
// cleanup can call this blindly for every item of a deleted order.
func (r *QuotaRepository) Return(ctx context.Context, q DBTX, orgID, productID, eventYearID string, qty int) error {
	const stmt = `
		UPDATE organization_quotas
		SET quantity_purchased = MAX(quantity_purchased - ?, 0)
		WHERE organization_id = ? AND product_id = ? AND event_year_id = ?`

	_, err := q.ExecContext(ctx, stmt, qty, orgID, productID, eventYearID)
	if err != nil {
		return fmt.Errorf("failed to return organization quota: %w", err)
	}
	return nil
}

// Remaining returns max(0, maxAllowed - quantityPurchased).
func (quota *OrganizationQuota) Remaining() int {
	remaining := quota.MaxAllowed - quota.QuantityPurchased
	if remaining < 0 {
		return 0
	}
	return remaining
}
