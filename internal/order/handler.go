// internal/order/handler.go
package order

import (
	"errors"
	"net/http"

	"regbackend/internal/data"
	"regbackend/internal/inventory"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

// Package-level service wired at startup.
var svc *Service

// SetService injects the order service used by the HTTP handlers.
func SetService(s *Service) {
	svc = s
}

func actorFromRequest(r *http.Request) Actor {
	info := middleware.GetActor(r.Context())
	return Actor{ID: info.ID, Name: info.Name, IsSuperAdmin: info.IsSuperAdmin}
}

// WriteDomainError maps typed business errors onto stable API codes.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	var quantityErr *QuantityExceedsLimitError
	var transitionErr *InvalidStateTransitionError
	var inventoryErr *inventory.InsufficientInventoryError
	var externalErr *ExternalServiceError

	switch {
	case errors.As(err, &validationErr):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", validationErr.Message, "")
	case errors.As(err, &quantityErr):
		middleware.WriteAPIError(w, r, http.StatusConflict, "quantity_exceeds_limit", err.Error(), "")
	case errors.As(err, &inventoryErr):
		middleware.WriteAPIError(w, r, http.StatusConflict, "insufficient_inventory", err.Error(), "")
	case errors.As(err, &transitionErr):
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_state_transition", err.Error(), "")
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProductNotFound),
		errors.Is(err, inventory.ErrProductNotFound):
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", err.Error(), "")
	case errors.Is(err, ErrZeroPaymentAmount), errors.Is(err, ErrNotSponsorship),
		errors.Is(err, inventory.ErrInvalidQuantity):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), "")
	case errors.Is(err, ErrAuthorization):
		middleware.WriteAPIError(w, r, http.StatusForbidden, "forbidden", err.Error(), "")
	case errors.As(err, &externalErr):
		logger.LogError("External service failure: %v", err)
		middleware.WriteAPIError(w, r, http.StatusBadGateway, "external_service_error",
			"An upstream service failed", "")
	default:
		logger.LogError("Unhandled error in order handler: %v", err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"An internal error occurred", "")
	}
}

type createOrderRequest struct {
	OrganizationID string            `json:"organization_id"`
	EventYearID    string            `json:"event_year_id"`
	Items          []ItemInput       `json:"items"`
	PaymentType    string            `json:"payment_type"`
	Sponsorship    *SponsorshipInput `json:"sponsorship"`
	Coupon         *data.CouponInfo  `json:"coupon"`
	ContactName    string            `json:"contact_name"`
	ContactEmail   string            `json:"contact_email"`
}

// HandleCreateOrder creates an order with its invoice.
// POST /api/orders
func HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var req createOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	if req.OrganizationID == "" || req.EventYearID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"organization_id and event_year_id are required", "")
		return
	}

	o, err := svc.CreateOrder(r.Context(), CreateOrderInput{
		OrganizationID: req.OrganizationID,
		EventYearID:    req.EventYearID,
		Items:          req.Items,
		PaymentType:    req.PaymentType,
		Sponsorship:    req.Sponsorship,
		Coupon:         req.Coupon,
		ContactName:    req.ContactName,
		ContactEmail:   req.ContactEmail,
		Actor:          actorFromRequest(r),
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	inv, err := svc.GetInvoice(r.Context(), o.ID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"order":   o,
		"invoice": inv,
	})
}

// HandleGetOrder returns an order with its invoice and items.
// GET /api/orders?order_id=...
func HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "GET required", "")
		return
	}

	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "order_id is required", "")
		return
	}

	o, err := svc.GetOrder(r.Context(), orderID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	inv, err := svc.GetInvoice(r.Context(), orderID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"order":   o,
		"invoice": inv,
	})
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// HandleCancelOrder soft-cancels an order and releases its held inventory.
// POST /api/orders/cancel
func HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var req cancelOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	if err := svc.CancelOrder(r.Context(), req.OrderID, req.Reason, actorFromRequest(r)); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"order_id": req.OrderID, "status": string(StatusCancelled)})
}

type completeOrderRequest struct {
	OrderID string `json:"order_id"`
}

// HandleCompleteOrder settles the remaining balance with a manual payment.
// Admin only. POST /api/orders/complete
func HandleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	actor := actorFromRequest(r)
	if !actor.IsSuperAdmin {
		WriteDomainError(w, r, ErrAuthorization)
		return
	}

	var req completeOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	o, err := svc.CompleteOrder(r.Context(), req.OrderID, actor)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, o)
}

type refundOrderRequest struct {
	OrderID             string `json:"order_id"`
	RefundTransactionID string `json:"refund_transaction_id"`
	Reason              string `json:"reason"`
}

// HandleRefundOrder records a refund against a fully paid order. Admin only.
// POST /api/orders/refund
func HandleRefundOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	actor := actorFromRequest(r)
	if !actor.IsSuperAdmin {
		WriteDomainError(w, r, ErrAuthorization)
		return
	}

	var req refundOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	if err := svc.RefundOrder(r.Context(), req.OrderID, req.RefundTransactionID, req.Reason, actor); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"order_id": req.OrderID, "status": string(StatusRefunded)})
}

type editSponsorshipRequest struct {
	OrderID     string  `json:"order_id"`
	BaseAmount  float64 `json:"base_amount"`
	Description string  `json:"description"`
}

// HandleEditSponsorship re-prices an unpaid sponsorship order. Admin only.
// POST /api/sponsorships/edit
func HandleEditSponsorship(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	actor := actorFromRequest(r)
	if !actor.IsSuperAdmin {
		WriteDomainError(w, r, ErrAuthorization)
		return
	}

	var req editSponsorshipRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	o, err := svc.EditSponsorship(r.Context(), req.OrderID, req.BaseAmount, req.Description, actor)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, o)
}

type deleteSponsorshipRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// HandleDeleteSponsorship deletes an unpaid sponsorship or soft-cancels a
// paid one. Admin only. POST /api/sponsorships/delete
func HandleDeleteSponsorship(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	actor := actorFromRequest(r)
	if !actor.IsSuperAdmin {
		WriteDomainError(w, r, ErrAuthorization)
		return
	}

	var req deleteSponsorshipRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	deleted, err := svc.DeleteSponsorship(r.Context(), req.OrderID, req.Reason, actor)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"order_id": req.OrderID,
		"deleted":  deleted,
	})
}

// HandleGetQuota returns the remaining quota for an org/product/event-year.
// GET /api/quota?organization_id=...&product_id=...&event_year_id=...
func HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "GET required", "")
		return
	}

	q := r.URL.Query()
	orgID := q.Get("organization_id")
	productID := q.Get("product_id")
	eventYearID := q.Get("event_year_id")
	if orgID == "" || productID == "" || eventYearID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"organization_id, product_id and event_year_id are required", "")
		return
	}

	quota, err := svc.GetOrganizationQuota(r.Context(), orgID, productID, eventYearID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"organization_id":    quota.OrganizationID,
		"product_id":         quota.ProductID,
		"event_year_id":      quota.EventYearID,
		"quantity_purchased": quota.QuantityPurchased,
		"max_allowed":        quota.MaxAllowed,
		"remaining":          quota.Remaining(),
	})
}
