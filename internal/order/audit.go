package order

import (
	"time"

	"regbackend/internal/data"
)

// Actor identifies who performed a mutation. Supplied by the authorization
// boundary; the core performs no authentication itself.
type Actor struct {
	ID           string
	Name         string
	IsSuperAdmin bool
}

// Audit actions recorded on sponsorship orders.
const (
	auditOrderCreated         = "order_created"
	auditPaymentApplied       = "payment_applied"
	auditOrderCancelled       = "order_cancelled"
	auditOrderRefunded        = "order_refunded"
	auditSponsorshipUpdated   = "sponsorship_updated"
	auditSponsorshipCancelled = "sponsorship_cancelled"
)

func newAuditEntry(action string, actor Actor) data.AuditEntry {
	return data.AuditEntry{
		Action:    action,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Timestamp: time.Now().UTC(),
	}
}

// appendAudit records a mutation in both the order and invoice metadata so
// the two trails never diverge. Append-only: existing entries are untouched.
func appendAudit(o *data.Order, inv *data.Invoice, entry data.AuditEntry) {
	o.Metadata.AppendAudit(entry)
	if inv != nil {
		inv.Metadata.AppendAudit(entry)
	}
}
