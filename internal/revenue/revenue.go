// internal/revenue/revenue.go
package revenue

import (
	"context"

	"regbackend/internal/data"
	"regbackend/internal/money"
	"regbackend/internal/order"
)

// Report is the per-event-year revenue attribution. Category buckets carry
// the collected money split pro-rata across line items; processor fees on
// sponsorships land in their own bucket so category totals reflect what the
// sponsor actually gave.
type Report struct {
	EventYearID    string             `json:"event_year_id"`
	OrderCount     int                `json:"order_count"`
	TotalCollected float64            `json:"total_collected"`
	Categories     map[string]float64 `json:"categories"`
	ProcessingFees float64            `json:"processing_fees"`
}

// Attributor computes revenue reports from paid orders. Orders outside the
// paid statuses contribute nothing, including cancelled orders with payment
// history.
type Attributor struct {
	orders *data.OrderRepository
}

func NewAttributor() *Attributor {
	return &Attributor{orders: data.NewOrderRepository()}
}

// Summarize attributes collected revenue for one event year across all
// organizations.
func (a *Attributor) Summarize(ctx context.Context, eventYearID string) (*Report, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	orders, err := a.orders.ListByEventYear(ctx, dbConn, eventYearID, order.PaidStatuses())
	if err != nil {
		return nil, err
	}
	return a.attribute(ctx, eventYearID, orders)
}

// SummarizeOrganization attributes collected revenue for a single
// organization within one event year.
func (a *Attributor) SummarizeOrganization(ctx context.Context, orgID, eventYearID string) (*Report, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	orders, err := a.orders.ListByOrgEventYear(ctx, dbConn, orgID, eventYearID, order.PaidStatuses())
	if err != nil {
		return nil, err
	}
	return a.attribute(ctx, eventYearID, orders)
}

// attribute splits each order's collected amount across its line-item
// categories in proportion to item totals, accumulating raw shares and
// rounding once per bucket at the end. Per order the raw shares sum exactly
// to the collected amount, so the report can never attribute more money than
// was received.
func (a *Attributor) attribute(ctx context.Context, eventYearID string, orders []data.Order) (*Report, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}

	raw := make(map[string]float64)
	var rawFees, rawCollected float64
	count := 0

	for i := range orders {
		o := &orders[i]
		collected := o.TotalAmount - o.BalanceOwed
		if collected <= 0 {
			continue
		}
		count++
		rawCollected += collected

		if o.IsSponsorship && o.Metadata.Sponsorship != nil {
			// The sponsor's gift is the base amount; the fee markup goes to
			// the fee bucket in the same paid proportion.
			base := o.Metadata.Sponsorship.BaseAmount
			share := base * collected / o.TotalAmount
			raw[data.CategorySponsorship] += share
			rawFees += collected - share
			continue
		}

		items, err := a.orders.GetItems(ctx, dbConn, o.ID)
		if err != nil {
			return nil, err
		}

		var itemSum float64
		for _, item := range items {
			itemSum += item.TotalPrice
		}
		if itemSum <= 0 {
			continue
		}

		// Coupon discounts make itemSum exceed the order total; dividing by
		// itemSum keeps the shares summing to the collected amount.
		for _, item := range items {
			raw[item.Category] += item.TotalPrice * collected / itemSum
		}
	}

	report := &Report{
		EventYearID:    eventYearID,
		OrderCount:     count,
		TotalCollected: money.Round2(rawCollected),
		Categories:     make(map[string]float64, len(raw)),
		ProcessingFees: money.Round2(rawFees),
	}
	for category, amount := range raw {
		report.Categories[category] = money.Round2(amount)
	}
	return report, nil
}
