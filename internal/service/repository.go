package service

import (
	"context"
	"encoding/json"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/paypal"
	"invoice-service/internal/store"

	"github.com/shopspring/decimal"
)

// TxRunner opens database transactions
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// InvoiceRepository is the storage the invoice side needs
type InvoiceRepository interface {
	TxRunner
	GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error)
	GetInvoiceItems(ctx context.Context, invoiceID int64) ([]models.InvoiceItem, error)
	GetInvoiceEvents(ctx context.Context, invoiceID int64) ([]models.InvoiceEvent, error)
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
}

// CartRepository is the storage the cart aggregate needs
type CartRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetOrCreateCart(ctx context.Context, customerID int64) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	UpsertCartItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error)
	GetCartItemForCustomer(ctx context.Context, customerID, itemID int64) (*models.CartItem, error)
	SetCartItemQuantity(ctx context.Context, itemID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error)
	DeleteCartItem(ctx context.Context, customerID, itemID int64) error
	ClearCart(ctx context.Context, customerID int64) error
}

// EventPublisher announces committed invoice changes
type EventPublisher interface {
	PublishInvoiceCreated(ctx context.Context, event *models.InvoiceCreatedEvent) error
	PublishInvoiceStatusChanged(ctx context.Context, event *models.InvoiceStatusChangedEvent) error
}

// PaymentProvider is the PayPal wire contract
type PaymentProvider interface {
	CreateOrder(ctx context.Context, order paypal.OrderRequest) (*paypal.Response, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Response, error)
	VerifyWebhookSignature(ctx context.Context, headers paypal.WebhookHeaders, event json.RawMessage) (bool, error)
	WebhookID() string
}

// IdempotencyStore remembers keys for a while
type IdempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID     string
	CustomerID int64 // 0 when the user has no customer profile
	Privileged bool
}

// canSee reports whether the actor may read or act on the invoice
func (a Actor) canSee(invoice *models.Invoice) bool {
	return a.Privileged || (a.CustomerID != 0 && invoice.CustomerID == a.CustomerID)
}
