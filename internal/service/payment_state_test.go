package service

import (
	"context"
	"testing"
	"time"

	"invoice-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	statuses := []string{
		models.InvoiceStatusPending,
		models.InvoiceStatusPaid,
		models.InvoiceStatusCancelled,
		models.InvoiceStatusRefunded,
	}
	allowed := map[[2]string]bool{
		{models.InvoiceStatusPending, models.InvoiceStatusPaid}:      true,
		{models.InvoiceStatusPending, models.InvoiceStatusCancelled}: true,
		{models.InvoiceStatusPaid, models.InvoiceStatusRefunded}:     true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]string{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApplyTransitionPaidAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("entering paid sets paid_at and correlation", func(t *testing.T) {
		inv := &models.Invoice{Status: models.InvoiceStatusPending}
		changed, err := applyTransition(inv, models.InvoiceStatusPaid, Correlation{
			TransactionID: "CAP-1",
			PayerEmail:    "payer@example.com",
			PaymentMethod: models.PaymentMethodPaypal,
		}, now)
		require.NoError(t, err)
		assert.True(t, changed)
		require.NotNil(t, inv.PaidAt)
		assert.Equal(t, now, *inv.PaidAt)
		assert.Equal(t, "CAP-1", inv.PaypalTransactionID)
		assert.Equal(t, "payer@example.com", inv.PaypalPayerEmail)
		assert.Equal(t, models.PaymentMethodPaypal, inv.PaymentMethod)
	})

	t.Run("leaving paid clears paid_at", func(t *testing.T) {
		inv := &models.Invoice{Status: models.InvoiceStatusPaid, PaidAt: &now}
		changed, err := applyTransition(inv, models.InvoiceStatusRefunded, Correlation{}, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Nil(t, inv.PaidAt)
	})

	t.Run("already at target touches nothing", func(t *testing.T) {
		earlier := now.Add(-time.Hour)
		inv := &models.Invoice{Status: models.InvoiceStatusPaid, PaidAt: &earlier, PaypalTransactionID: "CAP-1"}
		changed, err := applyTransition(inv, models.InvoiceStatusPaid, Correlation{TransactionID: "CAP-2"}, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, earlier, *inv.PaidAt)
		assert.Equal(t, "CAP-1", inv.PaypalTransactionID)
	})

	t.Run("terminal states reject", func(t *testing.T) {
		inv := &models.Invoice{Status: models.InvoiceStatusCancelled}
		_, err := applyTransition(inv, models.InvoiceStatusPaid, Correlation{}, now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, models.InvoiceStatusCancelled, inv.Status)
		assert.Nil(t, inv.PaidAt)
	})

	t.Run("unknown status", func(t *testing.T) {
		inv := &models.Invoice{Status: models.InvoiceStatusPending}
		_, err := applyTransition(inv, "shipped", Correlation{}, now)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestTransitionPublishesOnlyOnChange(t *testing.T) {
	fx := newFixture()
	fx.store.addInvoice(models.Invoice{ID: 1, CustomerID: 7, Status: models.InvoiceStatusPending})

	inv, changed, err := fx.states.Transition(context.Background(), 1, models.InvoiceStatusPaid,
		Correlation{Source: models.SourceCapture, TransactionID: "CAP-1"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)

	_, changed, err = fx.states.Transition(context.Background(), 1, models.InvoiceStatusPaid,
		Correlation{Source: models.SourceWebhook, TransactionID: "CAP-2"})
	require.NoError(t, err)
	assert.False(t, changed)

	stored := fx.store.invoice(1)
	assert.Equal(t, "CAP-1", stored.PaypalTransactionID)
	require.NotNil(t, stored.PaidAt)

	events := fx.publisher.statusEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeInvoicePaid, events[0].EventType)
	assert.Equal(t, models.InvoiceStatusPending, events[0].FromStatus)
	assert.Equal(t, models.SourceCapture, events[0].Source)
}

func TestTransitionUnknownInvoice(t *testing.T) {
	fx := newFixture()

	_, _, err := fx.states.Transition(context.Background(), 42, models.InvoiceStatusPaid, Correlation{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionInvalidLeavesStateUntouched(t *testing.T) {
	fx := newFixture()
	fx.store.addInvoice(models.Invoice{ID: 1, CustomerID: 7, Status: models.InvoiceStatusRefunded})

	_, _, err := fx.states.Transition(context.Background(), 1, models.InvoiceStatusPaid, Correlation{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.InvoiceStatusRefunded, fx.store.invoice(1).Status)
	assert.Empty(t, fx.publisher.statusEvents())
}

func TestTransitionRefundClearsPaidAt(t *testing.T) {
	fx := newFixture()
	paidAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fx.store.addInvoice(models.Invoice{
		ID:                  1,
		CustomerID:          7,
		Status:              models.InvoiceStatusPaid,
		PaidAt:              &paidAt,
		PaypalTransactionID: "CAP-1",
	})

	inv, changed, err := fx.states.Transition(context.Background(), 1, models.InvoiceStatusRefunded,
		Correlation{Source: models.SourceStaff})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, inv.PaidAt)

	stored := fx.store.invoice(1)
	assert.Equal(t, models.InvoiceStatusRefunded, stored.Status)
	assert.Nil(t, stored.PaidAt)

	events := fx.publisher.statusEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.InvoiceStatusPaid, events[0].FromStatus)
	assert.Equal(t, models.InvoiceStatusRefunded, events[0].ToStatus)
	assert.Equal(t, "CAP-1", events[0].TransactionID)
}
