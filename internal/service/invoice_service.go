package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/pricing"
	"invoice-service/internal/store"
	"invoice-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService settles invoices and serves them back
type InvoiceService struct {
	repo           InvoiceRepository
	ledger         *StockLedger
	stateMachine   *PaymentStateMachine
	eventPublisher EventPublisher
	defaultTaxRate decimal.Decimal
	logger         *zap.Logger
	now            func() time.Time
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(
	repo InvoiceRepository,
	ledger *StockLedger,
	stateMachine *PaymentStateMachine,
	eventPublisher EventPublisher,
	defaultTaxRate decimal.Decimal,
) *InvoiceService {
	return &InvoiceService{
		repo:           repo,
		ledger:         ledger,
		stateMachine:   stateMachine,
		eventPublisher: eventPublisher,
		defaultTaxRate: defaultTaxRate,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// LineRequest is one requested invoice line
type LineRequest struct {
	ProductID int64            `json:"product" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateInvoiceRequest represents a request to create an invoice
type CreateInvoiceRequest struct {
	CustomerID    int64            `json:"customer"`
	InvoiceNumber string           `json:"invoice_number"`
	PaymentMethod string           `json:"payment_method" binding:"required"`
	TaxRate       *decimal.Decimal `json:"tax_rate"`
	Notes         string           `json:"notes"`
	models.Billing
	Items []LineRequest `json:"items" binding:"required"`
}

// UpdateInvoiceRequest is the staff record update
type UpdateInvoiceRequest struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

// InvoiceDetail is an invoice with its lines
type InvoiceDetail struct {
	*models.Invoice
	Items []models.InvoiceItem `json:"items"`
}

// SettleRequest is the input of one settlement
type SettleRequest struct {
	CustomerID    int64
	InvoiceNumber string
	PaymentMethod string
	TaxRate       *decimal.Decimal
	Notes         string
	Billing       models.Billing
	Items         []LineRequest
	Source        string
	// ClearCart empties the customer's cart in the settlement transaction
	ClearCart bool
}

// Create settles an invoice for the actor. Customers always buy for their own
// profile; a non-PayPal invoice created by a customer is forced to paid.
func (s *InvoiceService) Create(ctx context.Context, actor Actor, req CreateInvoiceRequest) (*InvoiceDetail, error) {
	settle := SettleRequest{
		CustomerID:    req.CustomerID,
		InvoiceNumber: req.InvoiceNumber,
		PaymentMethod: req.PaymentMethod,
		TaxRate:       req.TaxRate,
		Notes:         req.Notes,
		Billing:       req.Billing,
		Items:         req.Items,
		Source:        models.SourceSettlement,
	}
	return s.CreateFor(ctx, actor, settle)
}

// CreateFor applies caller rules around Settle
func (s *InvoiceService) CreateFor(ctx context.Context, actor Actor, req SettleRequest) (*InvoiceDetail, error) {
	if !actor.Privileged {
		if actor.CustomerID == 0 {
			return nil, fmt.Errorf("%w: customer profile not found", ErrValidation)
		}
		req.CustomerID = actor.CustomerID
		items := make([]LineRequest, len(req.Items))
		for i, item := range req.Items {
			item.UnitPrice = nil
			items[i] = item
		}
		req.Items = items
	} else if req.CustomerID == 0 {
		return nil, fmt.Errorf("%w: customer is required", ErrValidation)
	}

	detail, err := s.Settle(ctx, req)
	if err != nil {
		return nil, err
	}

	if !actor.Privileged && detail.PaymentMethod != models.PaymentMethodPaypal &&
		detail.Status != models.InvoiceStatusPaid {
		invoice, _, err := s.stateMachine.Transition(ctx, detail.ID, models.InvoiceStatusPaid,
			Correlation{Source: models.SourceOverride})
		if err != nil {
			return nil, err
		}
		detail.Invoice = invoice
	}

	return detail, nil
}

// Settle reserves stock, prices the lines and persists the invoice in one
// transaction. Any failure leaves stock and invoices untouched.
func (s *InvoiceService) Settle(ctx context.Context, req SettleRequest) (*InvoiceDetail, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.Settle")
	defer span.End()

	if !models.ValidPaymentMethod(req.PaymentMethod) {
		util.SettlementsFailedTotal.WithLabelValues("invalid_payment_method").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		util.SettlementsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, fmt.Errorf("%w: %w: no items", ErrValidation, pricing.ErrInvalidOrder)
	}

	demand := make(map[int64]int, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			util.SettlementsFailedTotal.WithLabelValues("invalid_items").Inc()
			return nil, fmt.Errorf("%w: %w: quantity for product %d must be positive",
				ErrValidation, pricing.ErrInvalidOrder, item.ProductID)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price for product %d must not be negative", ErrValidation, item.ProductID)
		}
		if item.UnitPrice != nil && !pricing.IsCents(*item.UnitPrice) {
			return nil, fmt.Errorf("%w: unit price for product %d has more than %d decimals",
				ErrValidation, item.ProductID, pricing.Places)
		}
		demand[item.ProductID] += item.Quantity
	}

	taxRate := s.defaultTaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}

	customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("customer %d", req.CustomerID))
	}
	billing := req.Billing
	if billing.IsZero() {
		billing = models.BillingFromCustomer(customer)
	}

	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		invoiceNumber = s.newInvoiceNumber()
	}

	var (
		invoice *models.Invoice
		items   []models.InvoiceItem
	)

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		products, err := s.ledger.ReserveAll(ctx, tx, demand)
		if err != nil {
			return err
		}

		lines := make([]pricing.Line, len(req.Items))
		for i, item := range req.Items {
			price := products[item.ProductID].Price
			if item.UnitPrice != nil {
				price = *item.UnitPrice
			}
			lines[i] = pricing.Line{Quantity: item.Quantity, UnitPrice: price}
		}

		totals, err := pricing.Calculate(lines, taxRate)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		invoice = &models.Invoice{
			InvoiceNumber: invoiceNumber,
			CustomerID:    customer.ID,
			PaymentMethod: req.PaymentMethod,
			Subtotal:      totals.Subtotal,
			TaxRate:       totals.TaxRate,
			TaxAmount:     totals.TaxAmount,
			TotalAmount:   totals.TotalAmount,
			Notes:         req.Notes,
			Billing:       billing,
		}
		s.initialState(invoice)

		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: invoice number %s already exists", ErrValidation, invoiceNumber)
			}
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		items = make([]models.InvoiceItem, 0, len(req.Items))
		for i, item := range req.Items {
			product := products[item.ProductID]
			invoiceItem := models.InvoiceItem{
				InvoiceID:    invoice.ID,
				ProductID:    product.ID,
				ProductName:  product.Name,
				ProductBrand: product.Brand,
				Quantity:     item.Quantity,
				UnitPrice:    lines[i].UnitPrice,
			}
			if err := tx.CreateInvoiceItem(ctx, &invoiceItem); err != nil {
				return fmt.Errorf("failed to create invoice item: %w", err)
			}
			items = append(items, invoiceItem)
		}

		if req.ClearCart {
			if err := tx.ClearCart(ctx, customer.ID); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		if !errors.Is(err, ErrInsufficientStock) {
			util.SettlementsFailedTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	util.InvoicesCreatedTotal.WithLabelValues(invoice.PaymentMethod).Inc()
	s.logger.Info("Invoice settled",
		zap.Int64("invoice_id", invoice.ID),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("status", invoice.Status),
		zap.String("total", invoice.TotalAmount.StringFixed(2)))

	s.publishCreated(ctx, invoice, items, req.Source)

	return &InvoiceDetail{Invoice: invoice, Items: items}, nil
}

// initialState sets the status a freshly settled invoice starts in. PayPal is
// completed out of band; every other method counts as paid at the point of sale.
func (s *InvoiceService) initialState(invoice *models.Invoice) {
	if invoice.PaymentMethod == models.PaymentMethodPaypal {
		invoice.Status = models.InvoiceStatusPending
		invoice.PaidAt = nil
		return
	}
	paidAt := s.now().UTC()
	invoice.Status = models.InvoiceStatusPaid
	invoice.PaidAt = &paidAt
}

func (s *InvoiceService) newInvoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", s.now().UTC().Format("20060102"), suffix)
}

func (s *InvoiceService) publishCreated(ctx context.Context, invoice *models.Invoice, items []models.InvoiceItem, source string) {
	data := make([]models.InvoiceItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.InvoiceItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.InvoiceCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeInvoiceCreated,
			Timestamp: s.now(),
		},
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		CustomerID:    invoice.CustomerID,
		Status:        invoice.Status,
		PaymentMethod: invoice.PaymentMethod,
		TotalAmount:   invoice.TotalAmount,
		Source:        source,
		Items:         data,
	}

	if err := s.eventPublisher.PublishInvoiceCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish InvoiceCreated event",
			zap.Int64("invoice_id", invoice.ID),
			zap.Error(err))
	}
}

// Get retrieves an invoice with its items, scoped to the actor
func (s *InvoiceService) Get(ctx context.Context, actor Actor, invoiceID int64) (*InvoiceDetail, error) {
	invoice, err := loadInvoice(ctx, s.repo, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.GetInvoiceItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	return &InvoiceDetail{Invoice: invoice, Items: items}, nil
}

// History returns the recorded lifecycle events of an invoice
func (s *InvoiceService) History(ctx context.Context, actor Actor, invoiceID int64) ([]models.InvoiceEvent, error) {
	if _, err := loadInvoice(ctx, s.repo, actor, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.GetInvoiceEvents(ctx, invoiceID)
}

// Update is the privileged record update: notes and/or a status transition
func (s *InvoiceService) Update(ctx context.Context, actor Actor, invoiceID int64, req UpdateInvoiceRequest) (*InvoiceDetail, error) {
	if !actor.Privileged {
		return nil, fmt.Errorf("%w: staff only", ErrForbidden)
	}

	if req.Status != nil && !ValidStatus(*req.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *req.Status)
	}

	correlation := Correlation{Source: models.SourceStaff}
	var result *transitionResult

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if req.Notes != nil {
			if err := tx.UpdateInvoiceNotes(ctx, invoiceID, *req.Notes); err != nil {
				return err
			}
			locked.Notes = *req.Notes
		}
		if req.Status != nil {
			r, err := s.stateMachine.transitionLocked(ctx, tx, locked, *req.Status, correlation)
			if err != nil {
				return err
			}
			result = &r
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("invoice %d", invoiceID))
	}

	if result != nil {
		s.stateMachine.committed(ctx, *result, *req.Status, correlation)
	}

	return s.Get(ctx, actor, invoiceID)
}

// loadInvoice reads an invoice the actor is allowed to see; others look missing
func loadInvoice(ctx context.Context, repo InvoiceRepository, actor Actor, invoiceID int64) (*models.Invoice, error) {
	invoice, err := repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("invoice %d", invoiceID))
	}
	if !actor.canSee(invoice) {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
	}
	return invoice, nil
}
