// internal/email/email.go
package email

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"regbackend/internal/logger"
)

// Config holds notification configuration
type Config struct {
	Sender            string
	SendNotifications bool
	MockMode          bool
	LogEmails         bool
}

// LoadConfig loads notification configuration from environment variables
func LoadConfig() Config {
	return Config{
		Sender:            getEnvOrDefault("EMAIL_SENDER", "billing@yourdomain.org"),
		SendNotifications: getEnvOrDefault("SEND_NOTIFICATION_EMAILS", "true") == "true",
		MockMode:          getEnvOrDefault("EMAIL_MOCK_MODE", "false") == "true",
		LogEmails:         getEnvOrDefault("EMAIL_LOG_MODE", "true") == "true",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// InvoiceNotification carries everything the invoice/update email needs.
type InvoiceNotification struct {
	RecipientEmail string
	RecipientName  string
	OrderID        string
	InvoiceNumber  string
	TotalAmount    float64
	BalanceOwed    float64
	DueDate        *time.Time
}

// ReceiptNotification carries everything the payment receipt email needs.
type ReceiptNotification struct {
	RecipientEmail string
	RecipientName  string
	OrderID        string
	InvoiceNumber  string
	AmountPaid     float64
	BalanceOwed    float64
}

// Notifier is the outbound notification contract. Send failures are logged
// by callers and never roll back ledger state.
type Notifier interface {
	SendInvoice(ctx context.Context, n InvoiceNotification) error
	SendReceipt(ctx context.Context, n ReceiptNotification) error
}

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"currency": func(amount float64) string {
		return "$" + humanize.CommafWithDigits(amount, 2)
	},
}).Parse(`Subject: Invoice {{.InvoiceNumber}}

Dear {{.RecipientName}},

An invoice has been issued for your order {{.OrderID}}.

Invoice Number: {{.InvoiceNumber}}
Total Amount:   {{currency .TotalAmount}}
Balance Owed:   {{currency .BalanceOwed}}
{{if .DueDate}}Due Date:       {{.DueDate.Format "January 2, 2006"}}
{{end}}
If you have any questions, please contact us.

Best regards,
The Registration Team`))

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"currency": func(amount float64) string {
		return "$" + humanize.CommafWithDigits(amount, 2)
	},
}).Parse(`Subject: Payment Received - Invoice {{.InvoiceNumber}}

Dear {{.RecipientName}},

We received your payment of {{currency .AmountPaid}} on order {{.OrderID}}.

{{if gt .BalanceOwed 0.0}}Remaining balance: {{currency .BalanceOwed}}
{{else}}Your order is paid in full. Thank you!
{{end}}
Best regards,
The Registration Team`))

// Sender delivers rendered messages through local sendmail, or logs them in
// mock mode.
type Sender struct {
	config Config
}

func NewSender(config Config) *Sender {
	return &Sender{config: config}
}

func (s *Sender) SendInvoice(ctx context.Context, n InvoiceNotification) error {
	var body bytes.Buffer
	if err := invoiceTemplate.Execute(&body, n); err != nil {
		return fmt.Errorf("failed to render invoice email: %w", err)
	}
	return s.deliver(ctx, n.RecipientEmail, body.String())
}

func (s *Sender) SendReceipt(ctx context.Context, n ReceiptNotification) error {
	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, n); err != nil {
		return fmt.Errorf("failed to render receipt email: %w", err)
	}
	return s.deliver(ctx, n.RecipientEmail, body.String())
}

func (s *Sender) deliver(ctx context.Context, recipient, message string) error {
	if !s.config.SendNotifications {
		logger.LogInfo("Notification emails disabled, skipping email to %s", recipient)
		return nil
	}

	if s.config.LogEmails {
		logger.LogInfo("Email to %s:\n%s", recipient, message)
	}

	if s.config.MockMode {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sendmail", "-f", s.config.Sender, recipient)
	cmd.Stdin = bytes.NewBufferString(message)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sendmail failed for %s: %w", recipient, err)
	}

	logger.LogInfo("Sent email to %s", recipient)
	return nil
}
