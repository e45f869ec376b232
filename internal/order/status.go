package order

// Status is the closed set of order states. Every transition goes through
// CanTransition; anything not in the table is rejected.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusDepositPaid Status = "deposit_paid"
	StatusFullyPaid   Status = "fully_paid"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
)

// Invoice states
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoicePartial   = "partial"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusConfirmed, StatusDepositPaid, StatusFullyPaid, StatusCancelled},
	StatusConfirmed:   {StatusDepositPaid, StatusFullyPaid, StatusCancelled},
	StatusDepositPaid: {StatusDepositPaid, StatusFullyPaid, StatusCancelled},
	StatusFullyPaid:   {StatusRefunded},
	StatusCancelled:   {},
	StatusRefunded:    {},
}

// CanTransition reports whether from → to is a legal move. A repeated
// deposit_paid is legal: further partial payments keep the status.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further payment applies to an order in this
// state. Administrative metadata edits remain possible.
func (s Status) IsTerminal() bool {
	return s == StatusFullyPaid || s == StatusCancelled || s == StatusRefunded
}

// CountsAsPaid reports whether the status contributes to revenue and team
// derivation.
func (s Status) CountsAsPaid() bool {
	return s == StatusDepositPaid || s == StatusFullyPaid
}

// PaidStatuses is the fixed "counts as paid" set used by the revenue
// attributor and the team synchronizer.
func PaidStatuses() []string {
	return []string{string(StatusDepositPaid), string(StatusFullyPaid)}
}
