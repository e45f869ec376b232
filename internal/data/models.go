package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// CORE ENTITY TYPES
// =============================================================================

// Order is an organization's purchase for one event year.
type Order struct {
	ID             string
	OrganizationID string
	EventYearID    string
	Status         string
	TotalAmount    float64
	DepositAmount  float64
	BalanceOwed    float64
	IsSponsorship  bool
	ContactName    string
	ContactEmail   string
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem is a single line item, immutable once the order leaves pending.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	ProductName  string
	Category     string
	Quantity     int
	UnitPrice    float64
	DepositPrice float64
	TotalPrice   float64
}

// Invoice mirrors its owning order's totals at all times.
type Invoice struct {
	ID            string
	OrderID       string
	InvoiceNumber string
	EventYearID   string
	TotalAmount   float64
	PaidAmount    float64
	BalanceOwed   float64
	Status        string
	SentAt        *time.Time
	PaidAt        *time.Time
	DueDate       *time.Time
	Metadata      Metadata
}

// Payment is an immutable record of a charge outcome against an order.
// A refund is a separate row, never a mutation of the original.
type Payment struct {
	ID            string
	OrderID       string
	Amount        float64
	Method        string
	Status        string
	TransactionID string
	FailureReason string
	CreatedAt     time.Time
}

// Product is a sellable item with an optional finite inventory.
// TotalInventory nil means unlimited.
type Product struct {
	ID             string
	Name           string
	Category       string
	BasePrice      float64
	DepositAmount  float64
	TotalInventory *int
	SoldCount      int
	ReservedCount  int
	MaxPerOrg      int
	Available      bool
}

// Reservation is a time-bounded hold against inventory headroom.
type Reservation struct {
	ID             string
	ProductID      string
	OrganizationID string
	OrderID        string
	Quantity       int
	Status         string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// OrganizationQuota tracks per-org purchases of a quota-limited product.
type OrganizationQuota struct {
	OrganizationID    string
	ProductID         string
	EventYearID       string
	QuantityPurchased int
	MaxAllowed        int
}

// CompanyTeam is a derived, durable team slot. Team numbers are never
// reassigned, even after the team is cancelled.
type CompanyTeam struct {
	ID             string
	OrganizationID string
	EventYearID    string
	TeamNumber     int
	Name           string
	IsPaid         bool
	Cancelled      bool
	CreatedAt      time.Time
}

// Product categories
const (
	CategoryTeamRegistration = "team_registration"
	CategorySponsorship      = "sponsorship"
	CategoryProduct          = "product"
)

// Reservation states
const (
	ReservationHeld      = "held"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

// Payment states
const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// =============================================================================
// STRUCTURED METADATA
// =============================================================================

// Metadata is the structured extension stored on orders and invoices.
// The audit trail is append-only: entries are added, never rewritten.
type Metadata struct {
	Sponsorship *SponsorshipInfo `json:"sponsorship,omitempty"`
	Coupon      *CouponInfo      `json:"coupon,omitempty"`
	AuditTrail  []AuditEntry     `json:"audit_trail,omitempty"`
}

type SponsorshipInfo struct {
	BaseAmount    float64 `json:"base_amount"`
	ProcessingFee float64 `json:"processing_fee"`
	Description   string  `json:"description,omitempty"`
}

type CouponInfo struct {
	Code          string  `json:"code"`
	Discount      float64 `json:"discount"`
	OriginalTotal float64 `json:"original_total"`
}

type AuditEntry struct {
	Action    string                 `json:"action"`
	ActorID   string                 `json:"actor_id"`
	ActorName string                 `json:"actor_name"`
	Timestamp time.Time              `json:"timestamp"`
	Changes   map[string]FieldChange `json:"changes,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}

type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// AppendAudit adds an entry to the trail. The existing slice is never
// truncated or reordered.
func (m *Metadata) AppendAudit(entry AuditEntry) {
	m.AuditTrail = append(m.AuditTrail, entry)
}

// =============================================================================
// JSON AND TIME HELPERS
// =============================================================================

func marshalMetadata(m Metadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(nullStr sql.NullString, m *Metadata) error {
	if !nullStr.Valid || nullStr.String == "" {
		*m = Metadata{}
		return nil
	}
	if err := json.Unmarshal([]byte(nullStr.String), m); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(TimeFormat)
}

func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(TimeFormat, timeStr)
}

func parseNullableTime(nullStr sql.NullString) (*time.Time, error) {
	if !nullStr.Valid || nullStr.String == "" {
		return nil, nil
	}

	parsedTime, err := time.Parse(TimeFormat, nullStr.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time: %w", err)
	}

	return &parsedTime, nil
}
