package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"invoice-service/internal/models"

	"github.com/shopspring/decimal"
)

// GetOrCreateCart returns the customer's cart, creating it on first access
func (s *Store) GetOrCreateCart(ctx context.Context, customerID int64) (*models.Cart, error) {
	query := `
		INSERT INTO carts (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO UPDATE SET customer_id = EXCLUDED.customer_id
		RETURNING *`

	var cart models.Cart
	if err := s.db.GetContext(ctx, &cart, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}
	return &cart, nil
}

// GetCartItems lists the lines of a cart
func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	return items, err
}

// UpsertCartItem adds quantity to the (cart, product) line, creating it if
// needed, and refreshes its unit price. The unique key makes this atomic.
func (s *Store) UpsertCartItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			updated_at = NOW()
		RETURNING *`

	var item models.CartItem
	if err := s.db.GetContext(ctx, &item, query, cartID, productID, quantity, unitPrice); err != nil {
		return nil, fmt.Errorf("failed to upsert cart item: %w", err)
	}
	return &item, nil
}

// GetCartItemForCustomer returns a line only if it belongs to the customer's cart
func (s *Store) GetCartItemForCustomer(ctx context.Context, customerID, itemID int64) (*models.CartItem, error) {
	query := `
		SELECT ci.* FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE ci.id = $1 AND c.customer_id = $2`

	var item models.CartItem
	err := s.db.GetContext(ctx, &item, query, itemID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetCartItemQuantity overwrites the quantity and price of a line
func (s *Store) SetCartItemQuantity(ctx context.Context, itemID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	query := `
		UPDATE cart_items SET quantity = $1, unit_price = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING *`

	var item models.CartItem
	err := s.db.GetContext(ctx, &item, query, quantity, unitPrice, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteCartItem removes a line from the customer's cart
func (s *Store) DeleteCartItem(ctx context.Context, customerID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id IN (SELECT id FROM carts WHERE customer_id = $2)",
		itemID, customerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// ClearCart removes every line of the customer's cart
func (s *Store) ClearCart(ctx context.Context, customerID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE customer_id = $1)",
		customerID)
	return err
}
