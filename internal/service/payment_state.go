package service

import (
	"context"
	"fmt"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/store"
	"invoice-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transitions is the whole payment lifecycle; cancelled and refunded are terminal
var transitions = map[string][]string{
	models.InvoiceStatusPending: {models.InvoiceStatusPaid, models.InvoiceStatusCancelled},
	models.InvoiceStatusPaid:    {models.InvoiceStatusRefunded},
}

// ValidStatus reports whether s is a known invoice status
func ValidStatus(s string) bool {
	switch s {
	case models.InvoiceStatusPending, models.InvoiceStatusPaid,
		models.InvoiceStatusCancelled, models.InvoiceStatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the lifecycle table
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Correlation carries who asked for a transition and the provider data that came with it
type Correlation struct {
	Source        string
	TransactionID string
	PayerEmail    string
	PaymentMethod string
}

// applyTransition moves invoice to target in memory. It returns false when the
// invoice already is at target, in which case nothing is touched.
func applyTransition(invoice *models.Invoice, target string, c Correlation, now time.Time) (bool, error) {
	if !ValidStatus(target) {
		return false, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	if invoice.Status == target {
		return false, nil
	}
	if !CanTransition(invoice.Status, target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, invoice.Status, target)
	}

	invoice.Status = target
	if target == models.InvoiceStatusPaid {
		if invoice.PaidAt == nil {
			paidAt := now.UTC()
			invoice.PaidAt = &paidAt
		}
		if c.TransactionID != "" {
			invoice.PaypalTransactionID = c.TransactionID
		}
		if c.PayerEmail != "" {
			invoice.PaypalPayerEmail = c.PayerEmail
		}
	} else {
		invoice.PaidAt = nil
	}
	if c.PaymentMethod != "" {
		invoice.PaymentMethod = c.PaymentMethod
	}

	return true, nil
}

// PaymentStateMachine is the single writer of invoice payment status
type PaymentStateMachine struct {
	repo      TxRunner
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentStateMachine creates a new payment state machine
func NewPaymentStateMachine(repo TxRunner, publisher EventPublisher) *PaymentStateMachine {
	return &PaymentStateMachine{
		repo:      repo,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// transitionResult is what a locked transition did to one invoice
type transitionResult struct {
	invoice *models.Invoice
	from    string
	changed bool
}

// Transition moves the invoice to target under its row lock. Being already at
// target is a successful no-op and reports changed=false.
func (m *PaymentStateMachine) Transition(ctx context.Context, invoiceID int64, target string, c Correlation) (*models.Invoice, bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentStateMachine.Transition")
	defer span.End()

	var result transitionResult
	err := m.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		result, err = m.transitionLocked(ctx, tx, locked, target, c)
		return err
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, false, notFound(err, fmt.Sprintf("invoice %d", invoiceID))
	}

	m.committed(ctx, result, target, c)
	return result.invoice, result.changed, nil
}

// transitionLocked applies target to an invoice the caller already locked in tx.
// Nothing is published; the caller reports the result through committed once
// the transaction is done.
func (m *PaymentStateMachine) transitionLocked(ctx context.Context, tx store.Tx, locked *models.Invoice, target string, c Correlation) (transitionResult, error) {
	result := transitionResult{invoice: locked, from: locked.Status}

	changed, err := applyTransition(locked, target, c, m.now())
	if err != nil {
		return result, err
	}
	if changed {
		if err := tx.UpdateInvoicePayment(ctx, locked); err != nil {
			return result, fmt.Errorf("failed to update invoice payment: %w", err)
		}
	}
	result.changed = changed
	return result, nil
}

// committed records metrics and publishes the status event of a transition
// whose transaction committed.
func (m *PaymentStateMachine) committed(ctx context.Context, result transitionResult, target string, c Correlation) {
	invoiceID := result.invoice.ID

	if !result.changed {
		util.InvoiceTransitionsNoopTotal.WithLabelValues(target, c.Source).Inc()
		m.logger.Info("Invoice already at target status",
			zap.Int64("invoice_id", invoiceID),
			zap.String("status", target),
			zap.String("source", c.Source))
		return
	}

	util.InvoiceTransitionsTotal.WithLabelValues(target, c.Source).Inc()
	m.logger.Info("Invoice status changed",
		zap.Int64("invoice_id", invoiceID),
		zap.String("from", result.from),
		zap.String("to", target),
		zap.String("source", c.Source))

	event := &models.InvoiceStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.StatusEventType(target),
			Timestamp: m.now(),
		},
		InvoiceID:     invoiceID,
		FromStatus:    result.from,
		ToStatus:      target,
		Source:        c.Source,
		TransactionID: result.invoice.PaypalTransactionID,
	}
	if err := m.publisher.PublishInvoiceStatusChanged(ctx, event); err != nil {
		m.logger.Error("Failed to publish status event", zap.Int64("invoice_id", invoiceID), zap.Error(err))
	}
}
