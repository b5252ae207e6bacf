package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog; only stock and pricing fields are used here
type Product struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Brand         string          `db:"brand" json:"brand"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Customer is the billing profile attached to an authenticated user
type Customer struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Address   string    `db:"address" json:"address"`
	ZipCode   string    `db:"zip_code" json:"zip_code"`
	City      string    `db:"city" json:"city"`
	Country   string    `db:"country" json:"country"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Billing is the address snapshot copied onto an invoice at creation
type Billing struct {
	FirstName string `db:"billing_first_name" json:"billing_first_name"`
	LastName  string `db:"billing_last_name" json:"billing_last_name"`
	Address   string `db:"billing_address" json:"billing_address"`
	ZipCode   string `db:"billing_zip_code" json:"billing_zip_code"`
	City      string `db:"billing_city" json:"billing_city"`
	Country   string `db:"billing_country" json:"billing_country"`
}

// IsZero reports whether no billing field is set
func (b Billing) IsZero() bool {
	return b == Billing{}
}

// BillingFromCustomer snapshots a customer profile
func BillingFromCustomer(c *Customer) Billing {
	return Billing{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Address:   c.Address,
		ZipCode:   c.ZipCode,
		City:      c.City,
		Country:   c.Country,
	}
}

// Invoice is created once by settlement; afterwards only payment fields mutate
type Invoice struct {
	ID                  int64           `db:"id" json:"id"`
	InvoiceNumber       string          `db:"invoice_number" json:"invoice_number"`
	CustomerID          int64           `db:"customer_id" json:"customer"`
	Status              string          `db:"status" json:"status"`
	PaymentMethod       string          `db:"payment_method" json:"payment_method"`
	Subtotal            decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxRate             decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	TaxAmount           decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount         decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaypalTransactionID string          `db:"paypal_transaction_id" json:"paypal_transaction_id"`
	PaypalPayerEmail    string          `db:"paypal_payer_email" json:"paypal_payer_email"`
	Notes               string          `db:"notes" json:"notes"`
	Billing
	PaidAt    *time.Time `db:"paid_at" json:"paid_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// InvoiceItem snapshots product data so old invoices survive catalog edits
type InvoiceItem struct {
	ID           int64           `db:"id" json:"id"`
	InvoiceID    int64           `db:"invoice_id" json:"invoice_id"`
	ProductID    int64           `db:"product_id" json:"product"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ProductBrand string          `db:"product_brand" json:"product_brand"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// TotalPrice is derived, never stored
func (i InvoiceItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is created lazily, one per customer
type Cart struct {
	ID         int64     `db:"id" json:"id"`
	CustomerID int64     `db:"customer_id" json:"customer"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem holds at most one line per (cart, product)
type CartItem struct {
	ID        int64           `db:"id" json:"id"`
	CartID    int64           `db:"cart_id" json:"cart_id"`
	ProductID int64           `db:"product_id" json:"product"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TotalPrice is derived, never stored
func (i CartItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Invoice statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusRefunded  = "refunded"
)

// Payment methods
const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodPaypal = "paypal"
	PaymentMethodOther  = "other"
)

// ValidPaymentMethod reports whether m is one of the recognised methods
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodPaypal, PaymentMethodOther:
		return true
	}
	return false
}

// InvoiceEvent is one entry of an invoice's lifecycle history
type InvoiceEvent struct {
	ID         int64     `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"event_id"`
	InvoiceID  int64     `db:"invoice_id" json:"invoice_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Source     string    `db:"source" json:"source"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
