package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing invoice lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishInvoiceCreated publishes InvoiceCreated event
func (ep *EventPublisher) PublishInvoiceCreated(ctx context.Context, event *models.InvoiceCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, invoiceKey(event.InvoiceID), event)
}

// PublishInvoiceStatusChanged publishes a payment transition event
func (ep *EventPublisher) PublishInvoiceStatusChanged(ctx context.Context, event *models.InvoiceStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, invoiceKey(event.InvoiceID), event)
}

func invoiceKey(id int64) string {
	return fmt.Sprintf("invoice-%d", id)
}

// EventHandler routes incoming invoice events
type EventHandler struct {
	onInvoiceCreated       func(context.Context, *models.InvoiceCreatedEvent) error
	onInvoiceStatusChanged func(context.Context, *models.InvoiceStatusChangedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnInvoiceCreated registers a handler for InvoiceCreated events
func (eh *EventHandler) OnInvoiceCreated(handler func(context.Context, *models.InvoiceCreatedEvent) error) {
	eh.onInvoiceCreated = handler
}

// OnInvoiceStatusChanged registers a handler for every status event type
func (eh *EventHandler) OnInvoiceStatusChanged(handler func(context.Context, *models.InvoiceStatusChangedEvent) error) {
	eh.onInvoiceStatusChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// undecodable messages are skipped and committed
		eh.logger.Error("Dropping undecodable event", zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeInvoiceCreated:
		if eh.onInvoiceCreated != nil {
			var event models.InvoiceCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InvoiceCreated event: %w", err)
			}
			return eh.onInvoiceCreated(ctx, &event)
		}

	case models.EventTypeInvoicePaid, models.EventTypeInvoiceCancelled,
		models.EventTypeInvoiceRefunded, models.EventTypeInvoiceStatusChanged:
		if eh.onInvoiceStatusChanged != nil {
			var event models.InvoiceStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onInvoiceStatusChanged(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
