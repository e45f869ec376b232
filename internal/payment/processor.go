// internal/payment/processor.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"regbackend/internal/config"
	"regbackend/internal/logger"
	"regbackend/internal/order"
)

// ChargeRequest carries what the processor needs to create a charge. The
// metadata travels with the charge and comes back on the webhook so the
// payment can be matched to its order.
type ChargeRequest struct {
	OrderID        string
	OrganizationID string
	PaymentType    string
	Amount         float64
	Currency       string
	Description    string
}

// Charge is the processor's handle for an initiated payment.
type Charge struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ApprovalURL string `json:"approval_url,omitempty"`
}

// RefundResult reports the processor's answer to a refund request.
type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Processor is the outbound payment contract. Charge creation happens
// outside the order transaction; the outcome is reconciled later through the
// webhook.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	RefundCharge(ctx context.Context, chargeID string, amount float64) (*RefundResult, error)
}

const (
	tokenExpiryBuffer = 60 * time.Second
	requestTimeout    = 30 * time.Second
)

// Client talks to the hosted payment processor, caching its OAuth access
// token until shortly before expiry.
type Client struct {
	httpClient   *http.Client
	apiBase      string
	clientID     string
	clientSecret string

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient() *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		apiBase:      config.ProcessorAPIBase(),
		clientID:     config.ProcessorClientID(),
		clientSecret: config.ProcessorClientSecret(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpiryBuffer)) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	formData := url.Values{}
	formData.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v1/oauth2/token", strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &order.ExternalServiceError{Service: "payment processor", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &order.ExternalServiceError{Service: "payment processor",
			Err: fmt.Errorf("token request returned %d: %s", resp.StatusCode, string(body))}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.tokenMu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.tokenMu.Unlock()

	logger.LogInfo("Fetched and cached new processor access token (expires at %v)", c.tokenExpiry)
	return tr.AccessToken, nil
}

// CreateCharge initiates a charge at the processor. No Payment row is
// written here; the balance effect lands when the webhook reports an
// outcome.
func (c *Client) CreateCharge(ctx context.Context, chargeReq ChargeRequest) (*Charge, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	currency := chargeReq.Currency
	if currency == "" {
		currency = "USD"
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": chargeReq.OrderID,
			"custom_id":    chargeReq.OrderID,
			"description":  chargeReq.Description,
			"amount": map[string]string{
				"currency_code": currency,
				"value":         fmt.Sprintf("%.2f", chargeReq.Amount),
			},
		}},
		"metadata": map[string]string{
			"order_id":        chargeReq.OrderID,
			"organization_id": chargeReq.OrganizationID,
			"payment_type":    chargeReq.PaymentType,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v2/checkout/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &order.ExternalServiceError{Service: "payment processor", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &order.ExternalServiceError{Service: "payment processor",
			Err: fmt.Errorf("charge creation returned %d: %s", resp.StatusCode, string(respBody))}
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}

	charge := &Charge{ID: result.ID, Status: result.Status}
	for _, link := range result.Links {
		if link.Rel == "approve" {
			charge.ApprovalURL = link.Href
		}
	}

	logger.LogInfo("Created processor charge %s for order %s (%.2f %s)",
		charge.ID, chargeReq.OrderID, chargeReq.Amount, currency)
	return charge, nil
}

// RefundCharge asks the processor to return money for a captured charge.
func (c *Client) RefundCharge(ctx context.Context, chargeID string, amount float64) (*RefundResult, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"amount": map[string]string{
			"currency_code": "USD",
			"value":         fmt.Sprintf("%.2f", amount),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v2/payments/captures/"+chargeID+"/refund", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refund request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &order.ExternalServiceError{Service: "payment processor", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &order.ExternalServiceError{Service: "payment processor",
			Err: fmt.Errorf("refund returned %d: %s", resp.StatusCode, string(respBody))}
	}

	var result RefundResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode refund response: %w", err)
	}

	logger.LogInfo("Refunded %.2f on charge %s (refund %s, status %s)",
		amount, chargeID, result.ID, result.Status)
	return &result, nil
}

// MockProcessor approves every charge and refund without leaving the
// process. Used in development and tests.
type MockProcessor struct{}

func NewMockProcessor() *MockProcessor {
	return &MockProcessor{}
}

func (m *MockProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	charge := &Charge{
		ID:          "mock-charge-" + uuid.NewString(),
		Status:      "CREATED",
		ApprovalURL: "https://processor.example.com/approve/" + uuid.NewString(),
	}
	logger.LogInfo("Mock processor created charge %s for order %s (%.2f)",
		charge.ID, req.OrderID, req.Amount)
	return charge, nil
}

func (m *MockProcessor) RefundCharge(ctx context.Context, chargeID string, amount float64) (*RefundResult, error) {
	logger.LogInfo("Mock processor refunded %.2f on charge %s", amount, chargeID)
	return &RefundResult{ID: "mock-refund-" + uuid.NewString(), Status: "COMPLETED"}, nil
}
