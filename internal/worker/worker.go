package worker

import (
	"context"

	"invoice-service/internal/broker"
	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// AuditStore is where the invoice history projection lives
type AuditStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	AppendInvoiceEvent(ctx context.Context, event *models.InvoiceEvent) error
}

// InvoiceAuditWorker projects invoice lifecycle events into invoice history
type InvoiceAuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AuditStore
	logger       *zap.Logger
}

// NewInvoiceAuditWorker creates a new invoice audit worker
func NewInvoiceAuditWorker(consumer *broker.Consumer, store AuditStore) *InvoiceAuditWorker {
	w := &InvoiceAuditWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnInvoiceCreated(w.handleInvoiceCreated)
	w.eventHandler.OnInvoiceStatusChanged(w.handleInvoiceStatusChanged)

	return w
}

// Start starts the worker
func (w *InvoiceAuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting invoice audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *InvoiceAuditWorker) Stop() error {
	w.logger.Info("Stopping invoice audit worker")
	return w.consumer.Close()
}

func (w *InvoiceAuditWorker) handleInvoiceCreated(ctx context.Context, event *models.InvoiceCreatedEvent) error {
	return w.record(ctx, event.EventType, &models.InvoiceEvent{
		EventID:    event.EventID,
		InvoiceID:  event.InvoiceID,
		EventType:  event.EventType,
		ToStatus:   event.Status,
		Source:     event.Source,
		OccurredAt: event.Timestamp,
	})
}

func (w *InvoiceAuditWorker) handleInvoiceStatusChanged(ctx context.Context, event *models.InvoiceStatusChangedEvent) error {
	return w.record(ctx, event.EventType, &models.InvoiceEvent{
		EventID:    event.EventID,
		InvoiceID:  event.InvoiceID,
		EventType:  event.EventType,
		FromStatus: event.FromStatus,
		ToStatus:   event.ToStatus,
		Source:     event.Source,
		OccurredAt: event.Timestamp,
	})
}

// record appends entry once per event id. Errors are returned so the
// consumer leaves the message uncommitted and it is redelivered.
func (w *InvoiceAuditWorker) record(ctx context.Context, eventType string, entry *models.InvoiceEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, entry.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", entry.EventID))
		return nil
	}

	if err := w.store.AppendInvoiceEvent(ctx, entry); err != nil {
		w.logger.Error("Failed to append invoice event",
			zap.Int64("invoice_id", entry.InvoiceID),
			zap.Error(err))
		return err
	}

	return w.store.MarkEventProcessed(ctx, entry.EventID, eventType)
}
