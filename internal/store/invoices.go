package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"invoice-service/internal/models"
)

// GetInvoiceByID retrieves an invoice by ID
func (s *Store) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.GetContext(ctx, &invoice, "SELECT * FROM invoices WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoiceItems retrieves all items for an invoice
func (s *Store) GetInvoiceItems(ctx context.Context, invoiceID int64) ([]models.InvoiceItem, error) {
	var items []models.InvoiceItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM invoice_items WHERE invoice_id = $1 ORDER BY id", invoiceID)
	return items, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// AppendInvoiceEvent stores one history entry; replays of the same event id are ignored
func (s *Store) AppendInvoiceEvent(ctx context.Context, event *models.InvoiceEvent) error {
	query := `
		INSERT INTO invoice_events (event_id, invoice_id, event_type, from_status, to_status, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		event.EventID, event.InvoiceID, event.EventType, event.FromStatus, event.ToStatus, event.Source, event.OccurredAt)
	return err
}

// GetInvoiceEvents returns the history of an invoice, oldest first
func (s *Store) GetInvoiceEvents(ctx context.Context, invoiceID int64) ([]models.InvoiceEvent, error) {
	events := []models.InvoiceEvent{}
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM invoice_events WHERE invoice_id = $1 ORDER BY occurred_at, id", invoiceID)
	return events, err
}
