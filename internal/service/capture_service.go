package service

import (
	"context"
	"fmt"
	"strconv"

	"invoice-service/internal/models"
	"invoice-service/internal/paypal"
	"invoice-service/internal/store"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// CaptureService drives the two-phase PayPal checkout for an invoice.
// Provider calls never run inside a database transaction.
type CaptureService struct {
	repo         InvoiceRepository
	stateMachine *PaymentStateMachine
	provider     PaymentProvider
	logger       *zap.Logger
}

// NewCaptureService creates a new capture service
func NewCaptureService(repo InvoiceRepository, stateMachine *PaymentStateMachine, provider PaymentProvider) *CaptureService {
	return &CaptureService{
		repo:         repo,
		stateMachine: stateMachine,
		provider:     provider,
		logger:       util.GetLogger(),
	}
}

// checkPayable rejects invoices that can no longer be paid
func checkPayable(invoice *models.Invoice) error {
	switch invoice.Status {
	case models.InvoiceStatusPending:
		return nil
	case models.InvoiceStatusPaid:
		return fmt.Errorf("invoice %d: %w", invoice.ID, ErrAlreadySettled)
	default:
		return fmt.Errorf("%w: invoice %d is %s", ErrInvalidTransition, invoice.ID, invoice.Status)
	}
}

// CreateOrder creates the provider-side order for a pending invoice and
// stores the returned order id on it
func (s *CaptureService) CreateOrder(ctx context.Context, actor Actor, invoiceID int64) (*paypal.Response, error) {
	ctx, span := util.StartSpan(ctx, "CaptureService.CreateOrder")
	defer span.End()

	invoice, err := loadInvoice(ctx, s.repo, actor, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(invoice); err != nil {
		return nil, err
	}

	resp, err := s.provider.CreateOrder(ctx, paypal.OrderRequest{
		ReferenceID: invoice.InvoiceNumber,
		CustomID:    strconv.FormatInt(invoice.ID, 10),
		Amount:      invoice.TotalAmount,
		Description: "Invoice " + invoice.InvoiceNumber,
	})
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to create PayPal order",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		// a webhook may have settled the invoice while the provider call ran
		if err := checkPayable(locked); err != nil {
			return err
		}
		locked.PaypalTransactionID = resp.ID
		locked.PaymentMethod = models.PaymentMethodPaypal
		return tx.UpdateInvoicePayment(ctx, locked)
	})
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("invoice %d", invoiceID))
	}

	s.logger.Info("PayPal order created",
		zap.Int64("invoice_id", invoiceID),
		zap.String("order_id", resp.ID),
		zap.String("status", resp.Status))

	return resp, nil
}

// Capture captures orderID, or the order stored on the invoice when empty,
// and marks the invoice paid on provider success
func (s *CaptureService) Capture(ctx context.Context, actor Actor, invoiceID int64, orderID string) (*paypal.Response, error) {
	ctx, span := util.StartSpan(ctx, "CaptureService.Capture")
	defer span.End()

	invoice, err := loadInvoice(ctx, s.repo, actor, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(invoice); err != nil {
		return nil, err
	}

	if orderID == "" {
		orderID = invoice.PaypalTransactionID
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: no PayPal order for invoice %d", ErrValidation, invoiceID)
	}

	resp, err := s.provider.CaptureOrder(ctx, orderID)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to capture PayPal order",
			zap.Int64("invoice_id", invoiceID),
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	transactionID := resp.ID
	if transactionID == "" {
		transactionID = orderID
	}

	_, changed, err := s.stateMachine.Transition(ctx, invoiceID, models.InvoiceStatusPaid, Correlation{
		Source:        models.SourceCapture,
		TransactionID: transactionID,
		PayerEmail:    resp.PayerEmail,
		PaymentMethod: models.PaymentMethodPaypal,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("PayPal order captured",
		zap.Int64("invoice_id", invoiceID),
		zap.String("order_id", orderID),
		zap.Bool("changed", changed))

	return resp, nil
}
