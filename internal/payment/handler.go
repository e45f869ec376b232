// internal/payment/handler.go
package payment

import (
	"net/http"

	"regbackend/internal/middleware"
	"regbackend/internal/order"
)

// Package-level collaborators wired at startup.
var (
	svc       *order.Service
	processor Processor
)

// SetService injects the order service used by payment handlers.
func SetService(s *order.Service) {
	svc = s
}

// SetProcessor injects the outbound payment processor.
func SetProcessor(p Processor) {
	processor = p
}

type createChargeRequest struct {
	OrderID     string `json:"order_id"`
	PaymentType string `json:"payment_type"`
}

// HandleCreateCharge initiates a processor charge for an order's current
// balance and confirms the order. The balance itself only moves when the
// webhook reports a capture.
// POST /api/orders/payment
func HandleCreateCharge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var req createChargeRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	if req.OrderID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "order_id is required", "")
		return
	}

	o, err := svc.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		order.WriteDomainError(w, r, err)
		return
	}

	amount := o.BalanceOwed
	paymentType := req.PaymentType
	if paymentType == "" {
		paymentType = order.PaymentTypeFull
	}
	if paymentType == order.PaymentTypeDeposit && o.DepositAmount < o.BalanceOwed {
		amount = o.DepositAmount
	}
	if amount <= 0 {
		order.WriteDomainError(w, r, order.ErrZeroPaymentAmount)
		return
	}

	charge, err := processor.CreateCharge(r.Context(), ChargeRequest{
		OrderID:        o.ID,
		OrganizationID: o.OrganizationID,
		PaymentType:    paymentType,
		Amount:         amount,
		Description:    "Registration order " + o.ID,
	})
	if err != nil {
		order.WriteDomainError(w, r, err)
		return
	}

	// A later charge against the remaining balance leaves the status alone.
	if o.Status == string(order.StatusPending) {
		if err := svc.ConfirmOrder(r.Context(), o.ID); err != nil {
			order.WriteDomainError(w, r, err)
			return
		}
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"order_id": o.ID,
		"amount":   amount,
		"charge":   charge,
	})
}
