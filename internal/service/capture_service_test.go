package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/paypal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureFixture() (*fixture, *fakeProvider, *CaptureService) {
	fx := newFixture()
	provider := &fakeProvider{payerEmail: "payer@example.com"}
	return fx, provider, NewCaptureService(fx.store, fx.states, provider)
}

func pendingInvoice(id int64) models.Invoice {
	return models.Invoice{
		ID:            id,
		InvoiceNumber: "INV-20240301-ABCDEF12",
		CustomerID:    7,
		Status:        models.InvoiceStatusPending,
		PaymentMethod: models.PaymentMethodPaypal,
		TotalAmount:   dec("30.00"),
	}
}

func TestCreateOrderStoresOrderID(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	inv := pendingInvoice(1)
	inv.PaymentMethod = models.PaymentMethodCash
	fx.store.addInvoice(inv)

	resp, err := svc.CreateOrder(context.Background(), Actor{CustomerID: 7}, 1)
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", resp.ID)

	assert.Equal(t, "INV-20240301-ABCDEF12", provider.lastOrder.ReferenceID)
	assert.Equal(t, "1", provider.lastOrder.CustomID)
	assert.Equal(t, "Invoice INV-20240301-ABCDEF12", provider.lastOrder.Description)
	assert.True(t, dec("30").Equal(provider.lastOrder.Amount))

	stored := fx.store.invoice(1)
	assert.Equal(t, "ORDER-1", stored.PaypalTransactionID)
	assert.Equal(t, models.PaymentMethodPaypal, stored.PaymentMethod)
	assert.Equal(t, models.InvoiceStatusPending, stored.Status)
}

func TestCaptureMarksInvoicePaid(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	inv := pendingInvoice(1)
	inv.PaypalTransactionID = "ORDER-1"
	fx.store.addInvoice(inv)

	_, err := svc.Capture(context.Background(), Actor{CustomerID: 7}, 1, "")
	require.NoError(t, err)

	assert.Equal(t, "ORDER-1", provider.lastCapture)
	stored := fx.store.invoice(1)
	assert.Equal(t, models.InvoiceStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, "payer@example.com", stored.PaypalPayerEmail)
}

func TestCaptureOnPaidInvoiceSkipsProvider(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	inv := pendingInvoice(1)
	paidAt := time.Now()
	inv.Status = models.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	fx.store.addInvoice(inv)

	_, err := svc.Capture(context.Background(), Actor{Privileged: true}, 1, "ORDER-1")
	assert.ErrorIs(t, err, ErrAlreadySettled)

	_, err = svc.CreateOrder(context.Background(), Actor{Privileged: true}, 1)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	assert.Zero(t, provider.captureCalls)
	assert.Zero(t, provider.createCalls)
}

func TestCaptureProviderFailureKeepsState(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	provider.captureErr = errors.New("connection reset")
	fx.store.addInvoice(pendingInvoice(1))

	_, err := svc.Capture(context.Background(), Actor{CustomerID: 7}, 1, "ORDER-1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	stored := fx.store.invoice(1)
	assert.Equal(t, models.InvoiceStatusPending, stored.Status)
	assert.Nil(t, stored.PaidAt)
	assert.Zero(t, fx.store.txCount)
}

func TestCreateOrderProviderFailureKeepsState(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	provider.orderErr = paypal.ErrRequest
	fx.store.addInvoice(pendingInvoice(1))

	_, err := svc.CreateOrder(context.Background(), Actor{CustomerID: 7}, 1)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, paypal.ErrRequest)
	assert.Empty(t, fx.store.invoice(1).PaypalTransactionID)
}

func TestCaptureWithoutOrderID(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	fx.store.addInvoice(pendingInvoice(1))

	_, err := svc.Capture(context.Background(), Actor{CustomerID: 7}, 1, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, provider.captureCalls)
}

func TestCaptureOtherCustomersInvoice(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	fx.store.addInvoice(pendingInvoice(1))

	_, err := svc.Capture(context.Background(), Actor{CustomerID: 8}, 1, "ORDER-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, provider.captureCalls)
}

func TestCaptureCancelledInvoice(t *testing.T) {
	fx, provider, svc := newCaptureFixture()
	inv := pendingInvoice(1)
	inv.Status = models.InvoiceStatusCancelled
	fx.store.addInvoice(inv)

	_, err := svc.Capture(context.Background(), Actor{CustomerID: 7}, 1, "ORDER-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, provider.captureCalls)
}
