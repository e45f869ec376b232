// internal/payment/webhook.go
package payment

import (
	"errors"
	"net/http"
	"strconv"

	"regbackend/internal/logger"
	"regbackend/internal/middleware"
	"regbackend/internal/order"
)

// Webhook event types we act on. Everything else is acknowledged and
// ignored so the processor stops retrying.
const (
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	eventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		CustomID     string `json:"custom_id"`
		StatusReason string `json:"status_reason"`
	} `json:"resource"`
}

// HandleWebhook reconciles processor capture outcomes into the ledger. The
// processor retries deliveries, so everything here must be safe to replay;
// the balance effect is keyed on the capture id.
// POST /api/payments/webhook
func HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var event webhookEvent
	if err := middleware.ParseJSONRequest(r, &event); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	logger.LogInfo("Webhook %s received: %s for capture %s (order %s)",
		event.ID, event.EventType, event.Resource.ID, event.Resource.CustomID)

	switch event.EventType {
	case eventCaptureCompleted, eventCaptureDenied:
	default:
		// Acknowledge unhandled event types.
		middleware.WriteAPISuccess(w, r, map[string]string{"status": "ignored"})
		return
	}

	if event.Resource.CustomID == "" || event.Resource.ID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"webhook resource is missing capture id or order reference", "")
		return
	}

	amount, err := strconv.ParseFloat(event.Resource.Amount.Value, 64)
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"webhook amount is not a number", "")
		return
	}

	_, err = svc.ApplyPayment(r.Context(), order.ApplyPaymentInput{
		OrderID:       event.Resource.CustomID,
		TransactionID: event.Resource.ID,
		Amount:        amount,
		Method:        "processor",
		Succeeded:     event.EventType == eventCaptureCompleted,
		FailureReason: event.Resource.StatusReason,
	})
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Nothing to reconcile; acknowledge so the processor stops retrying.
			logger.LogWarn("Webhook for unknown order %s acknowledged", event.Resource.CustomID)
			middleware.WriteAPISuccess(w, r, map[string]string{"status": "ignored"})
			return
		}
		order.WriteDomainError(w, r, err)
		return
	}

	middleware.WriteAPISuccess(w, r, map[string]string{"status": "processed"})
}
