package service

import (
	"context"
	"errors"
	"fmt"

	"invoice-service/internal/models"
	"invoice-service/internal/store"
	"invoice-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartItemView is a cart line with its computed total
type CartItemView struct {
	models.CartItem
	ProductName  string          `json:"product_name"`
	ProductBrand string          `json:"product_brand"`
	InStock      int             `json:"in_stock"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

// CartView is a cart with its derived totals
type CartView struct {
	*models.Cart
	Items      []CartItemView  `json:"items"`
	TotalItems int             `json:"total_items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// AddCartItemRequest represents a request to add a product to the cart
type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// CheckoutRequest settles the current cart
type CheckoutRequest struct {
	PaymentMethod string           `json:"payment_method" binding:"required"`
	TaxRate       *decimal.Decimal `json:"tax_rate"`
	Notes         string           `json:"notes"`
	models.Billing
}

// CartService owns the per-customer shopping cart
type CartService struct {
	repo     CartRepository
	invoices *InvoiceService
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo CartRepository, invoices *InvoiceService) *CartService {
	return &CartService{
		repo:     repo,
		invoices: invoices,
		logger:   util.GetLogger(),
	}
}

func cartOwner(actor Actor) (int64, error) {
	if actor.CustomerID == 0 {
		return 0, fmt.Errorf("%w: customer profile not found", ErrValidation)
	}
	return actor.CustomerID, nil
}

func recordCartOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	util.CartOperationsTotal.WithLabelValues(op, result).Inc()
}

// Get returns the actor's cart, creating an empty one on first access
func (s *CartService) Get(ctx context.Context, actor Actor) (*CartView, error) {
	customerID, err := cartOwner(actor)
	if err != nil {
		return nil, err
	}

	cart, err := s.repo.GetOrCreateCart(ctx, customerID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	view := &CartView{Cart: cart, Items: make([]CartItemView, 0, len(items)), Subtotal: decimal.Zero}
	for _, item := range items {
		total := item.TotalPrice()
		product := byID[item.ProductID]
		view.Items = append(view.Items, CartItemView{
			CartItem:     item,
			ProductName:  product.Name,
			ProductBrand: product.Brand,
			InStock:      product.StockQuantity,
			TotalPrice:   total,
		})
		view.TotalItems += item.Quantity
		view.Subtotal = view.Subtotal.Add(total)
	}
	return view, nil
}

// checkStock compares quantity with the live stock without reserving it
func (s *CartService) checkStock(ctx context.Context, productID int64, quantity int) (*models.Product, error) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if quantity > product.StockQuantity {
		return nil, &InsufficientStockError{
			ProductID: product.ID,
			Product:   product.Name,
			Available: product.StockQuantity,
			Requested: quantity,
		}
	}
	return product, nil
}

// AddItem adds quantity of a product to the cart, merging into an existing
// line for the same product. A zero quantity means one.
func (s *CartService) AddItem(ctx context.Context, actor Actor, req AddCartItemRequest) (item *models.CartItem, err error) {
	defer func() { recordCartOp("add", err) }()

	customerID, err := cartOwner(actor)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.checkStock(ctx, req.ProductID, quantity)
	if err != nil {
		return nil, err
	}

	cart, err := s.repo.GetOrCreateCart(ctx, customerID)
	if err != nil {
		return nil, err
	}

	item, err = s.repo.UpsertCartItem(ctx, cart.ID, product.ID, quantity, product.Price)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateItem sets the quantity of a line in the actor's cart
func (s *CartService) UpdateItem(ctx context.Context, actor Actor, itemID int64, quantity int) (item *models.CartItem, err error) {
	defer func() { recordCartOp("update", err) }()

	customerID, err := cartOwner(actor)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetCartItemForCustomer(ctx, customerID, itemID)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("cart item %d", itemID))
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.checkStock(ctx, current.ProductID, quantity)
	if err != nil {
		return nil, err
	}

	return s.repo.SetCartItemQuantity(ctx, current.ID, quantity, product.Price)
}

// RemoveItem deletes a line from the actor's cart
func (s *CartService) RemoveItem(ctx context.Context, actor Actor, itemID int64) (err error) {
	defer func() { recordCartOp("remove", err) }()

	customerID, err := cartOwner(actor)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCartItem(ctx, customerID, itemID); err != nil {
		return notFound(err, fmt.Sprintf("cart item %d", itemID))
	}
	return nil
}

// Clear empties the actor's cart; an empty cart is fine
func (s *CartService) Clear(ctx context.Context, actor Actor) (err error) {
	defer func() { recordCartOp("clear", err) }()

	customerID, err := cartOwner(actor)
	if err != nil {
		return err
	}
	return s.repo.ClearCart(ctx, customerID)
}

// Checkout settles the cart into an invoice and empties it in the same transaction
func (s *CartService) Checkout(ctx context.Context, actor Actor, req CheckoutRequest) (detail *InvoiceDetail, err error) {
	defer func() { recordCartOp("checkout", err) }()

	view, err := s.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	if len(view.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrValidation)
	}

	lines := make([]LineRequest, 0, len(view.Items))
	for _, item := range view.Items {
		lines = append(lines, LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	return s.invoices.CreateFor(ctx, actor, SettleRequest{
		CustomerID:    actor.CustomerID,
		PaymentMethod: req.PaymentMethod,
		TaxRate:       req.TaxRate,
		Notes:         req.Notes,
		Billing:       req.Billing,
		Items:         lines,
		Source:        models.SourceCheckout,
		ClearCart:     true,
	})
}
