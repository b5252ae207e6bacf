package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/paypal"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// Webhook outcomes, also used as metric labels
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
)

const webhookDedupePrefix = "paypal-webhook:"

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  webhookResource `json:"resource"`
}

type webhookResource struct {
	ID            string `json:"id"`
	CustomID      string `json:"custom_id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// correlationID returns the invoice id carried by the event, or "" if none
func (r webhookResource) correlationID() string {
	if len(r.PurchaseUnits) > 0 && r.PurchaseUnits[0].CustomID != "" {
		return r.PurchaseUnits[0].CustomID
	}
	return r.CustomID
}

// WebhookReconciler turns verified PayPal events into payment transitions
type WebhookReconciler struct {
	stateMachine *PaymentStateMachine
	provider     PaymentProvider
	idempotency  IdempotencyStore
	dedupeTTL    time.Duration
	logger       *zap.Logger
}

// NewWebhookReconciler creates a new webhook reconciler. idempotency may be nil.
func NewWebhookReconciler(stateMachine *PaymentStateMachine, provider PaymentProvider, idempotency IdempotencyStore, dedupeTTL time.Duration) *WebhookReconciler {
	return &WebhookReconciler{
		stateMachine: stateMachine,
		provider:     provider,
		idempotency:  idempotency,
		dedupeTTL:    dedupeTTL,
		logger:       util.GetLogger(),
	}
}

// Handle processes one delivery and returns its outcome. Only configuration,
// signature, provider and storage failures are errors; anything else is
// acknowledged so the provider stops redelivering.
func (r *WebhookReconciler) Handle(ctx context.Context, headers paypal.WebhookHeaders, body []byte) (string, error) {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.Handle")
	defer span.End()

	outcome, err := r.handle(ctx, headers, body)
	if err != nil {
		util.SpanError(span, err)
		outcome = WebhookRejected
	}
	util.WebhookEventsTotal.WithLabelValues(outcome).Inc()
	return outcome, err
}

func (r *WebhookReconciler) handle(ctx context.Context, headers paypal.WebhookHeaders, body []byte) (string, error) {
	if r.provider.WebhookID() == "" {
		return "", ErrWebhookNotConfigured
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// PayPal can only verify a JSON event, so this one is unverifiable
		r.logger.Warn("Rejecting undecodable webhook", zap.Error(err))
		return "", fmt.Errorf("%w: undecodable body", ErrInvalidSignature)
	}

	verified, err := r.provider.VerifyWebhookSignature(ctx, headers, json.RawMessage(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if !verified {
		r.logger.Warn("Webhook signature rejected",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType))
		return "", ErrInvalidSignature
	}

	if r.seen(ctx, event.ID) {
		return WebhookDuplicate, nil
	}

	if event.EventType != paypal.EventCaptureCompleted && event.EventType != paypal.EventOrderApproved {
		r.logger.Debug("Ignoring webhook event type", zap.String("event_type", event.EventType))
		return WebhookIgnored, nil
	}

	rawID := strings.TrimSpace(event.Resource.correlationID())
	invoiceID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || invoiceID <= 0 {
		r.logger.Warn("Webhook carries no invoice id",
			zap.String("event_id", event.ID),
			zap.String("custom_id", rawID))
		return WebhookIgnored, nil
	}

	_, changed, err := r.stateMachine.Transition(ctx, invoiceID, models.InvoiceStatusPaid, Correlation{
		Source:        models.SourceWebhook,
		TransactionID: event.Resource.ID,
		PayerEmail:    event.Resource.Payer.EmailAddress,
		PaymentMethod: models.PaymentMethodPaypal,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		r.logger.Warn("Webhook for unknown invoice", zap.Int64("invoice_id", invoiceID))
		return WebhookIgnored, nil
	case errors.Is(err, ErrInvalidTransition):
		r.logger.Warn("Webhook cannot settle invoice",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return WebhookIgnored, nil
	case err != nil:
		return "", err
	}

	r.remember(ctx, event.ID)

	if !changed {
		return WebhookDuplicate, nil
	}
	return WebhookApplied, nil
}

// seen is a fast path only; a cache miss or failure falls through to the
// idempotent transition
func (r *WebhookReconciler) seen(ctx context.Context, eventID string) bool {
	if r.idempotency == nil || eventID == "" {
		return false
	}
	exists, err := r.idempotency.CheckIdempotencyKey(ctx, webhookDedupePrefix+eventID)
	if err != nil {
		r.logger.Warn("Webhook dedupe lookup failed", zap.Error(err))
		return false
	}
	return exists
}

func (r *WebhookReconciler) remember(ctx context.Context, eventID string) {
	if r.idempotency == nil || eventID == "" {
		return
	}
	if err := r.idempotency.SetIdempotencyKey(ctx, webhookDedupePrefix+eventID, "1", r.dedupeTTL); err != nil {
		r.logger.Warn("Webhook dedupe write failed", zap.Error(err))
	}
}
