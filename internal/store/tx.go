package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"invoice-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Tx is the set of writes that must share one database transaction
type Tx interface {
	// LockProduct reads a product row under an exclusive lock held until commit
	LockProduct(ctx context.Context, productID int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	CreateInvoiceItem(ctx context.Context, item *models.InvoiceItem) error
	// LockInvoice reads an invoice row under an exclusive lock held until commit
	LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error)
	UpdateInvoicePayment(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoiceNotes(ctx context.Context, invoiceID int64, notes string) error
	ClearCart(ctx context.Context, customerID int64) error
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) LockProduct(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	err := t.tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return &product, nil
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = NOW() WHERE id = $2 AND stock_quantity >= $1",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stock row for product %d not updated", productID)
	}
	return nil
}

func (t *sqlTx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (
			invoice_number, customer_id, status, payment_method,
			subtotal, tax_rate, tax_amount, total_amount,
			paypal_transaction_id, paypal_payer_email, notes,
			billing_first_name, billing_last_name, billing_address,
			billing_zip_code, billing_city, billing_country, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at, updated_at`

	var created struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := t.tx.GetContext(ctx, &created, query,
		invoice.InvoiceNumber, invoice.CustomerID, invoice.Status, invoice.PaymentMethod,
		invoice.Subtotal, invoice.TaxRate, invoice.TaxAmount, invoice.TotalAmount,
		invoice.PaypalTransactionID, invoice.PaypalPayerEmail, invoice.Notes,
		invoice.FirstName, invoice.LastName, invoice.Address,
		invoice.ZipCode, invoice.City, invoice.Country, invoice.PaidAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("invoice number %s: %w", invoice.InvoiceNumber, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	invoice.ID = created.ID
	invoice.CreatedAt = created.CreatedAt
	invoice.UpdatedAt = created.UpdatedAt
	return nil
}

func (t *sqlTx) CreateInvoiceItem(ctx context.Context, item *models.InvoiceItem) error {
	query := `
		INSERT INTO invoice_items (invoice_id, product_id, product_name, product_brand, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.InvoiceID, item.ProductID, item.ProductName, item.ProductBrand, item.Quantity, item.UnitPrice)
}

func (t *sqlTx) LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := t.tx.GetContext(ctx, &invoice,
		"SELECT * FROM invoices WHERE id = $1 FOR UPDATE", invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}
	return &invoice, nil
}

func (t *sqlTx) UpdateInvoicePayment(ctx context.Context, invoice *models.Invoice) error {
	query := `
		UPDATE invoices
		SET status = $1, payment_method = $2, paid_at = $3,
			paypal_transaction_id = $4, paypal_payer_email = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	return t.tx.GetContext(ctx, &invoice.UpdatedAt, query,
		invoice.Status, invoice.PaymentMethod, invoice.PaidAt,
		invoice.PaypalTransactionID, invoice.PaypalPayerEmail, invoice.ID)
}

func (t *sqlTx) UpdateInvoiceNotes(ctx context.Context, invoiceID int64, notes string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE invoices SET notes = $1, updated_at = NOW() WHERE id = $2",
		notes, invoiceID)
	return err
}

func (t *sqlTx) ClearCart(ctx context.Context, customerID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE customer_id = $1)",
		customerID)
	return err
}
