package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeInvoiceCreated       = "INVOICE_CREATED"
	EventTypeInvoicePaid          = "INVOICE_PAID"
	EventTypeInvoiceCancelled     = "INVOICE_CANCELLED"
	EventTypeInvoiceRefunded      = "INVOICE_REFUNDED"
	EventTypeInvoiceStatusChanged = "INVOICE_STATUS_CHANGED"
)

// Transition sources, recorded on status events
const (
	SourceSettlement = "settlement"
	SourceCheckout   = "checkout"
	SourceStaff      = "staff"
	SourceCapture    = "capture"
	SourceWebhook    = "webhook"
	SourceOverride   = "customer_override"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// InvoiceCreatedEvent published after a settlement commits
type InvoiceCreatedEvent struct {
	BaseEvent
	InvoiceID     int64             `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	CustomerID    int64             `json:"customer_id"`
	Status        string            `json:"status"`
	PaymentMethod string            `json:"payment_method"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Source        string            `json:"source"`
	Items         []InvoiceItemData `json:"items"`
}

// InvoiceStatusChangedEvent published after a payment transition commits
type InvoiceStatusChangedEvent struct {
	BaseEvent
	InvoiceID     int64  `json:"invoice_id"`
	FromStatus    string `json:"from_status"`
	ToStatus      string `json:"to_status"`
	Source        string `json:"source"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// InvoiceItemData represents item data in events
type InvoiceItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// StatusEventType maps a target status to the event type announcing it
func StatusEventType(status string) string {
	switch status {
	case InvoiceStatusPaid:
		return EventTypeInvoicePaid
	case InvoiceStatusCancelled:
		return EventTypeInvoiceCancelled
	case InvoiceStatusRefunded:
		return EventTypeInvoiceRefunded
	}
	return EventTypeInvoiceStatusChanged
}
