package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/store"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// StockLedger reserves product stock inside a caller's transaction
type StockLedger struct {
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger() *StockLedger {
	return &StockLedger{logger: util.GetLogger()}
}

// Reserve locks the product row and decrements its stock by quantity.
// Nothing is written when stock is short.
func (l *StockLedger) Reserve(ctx context.Context, tx store.Tx, productID int64, quantity int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity for product %d must be positive", ErrValidation, productID)
	}

	product, err := tx.LockProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %d does not exist", ErrValidation, productID)
	}
	if err != nil {
		return nil, err
	}

	if product.StockQuantity < quantity {
		util.SettlementsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		l.logger.Info("Insufficient stock",
			zap.Int64("product_id", productID),
			zap.Int("available", product.StockQuantity),
			zap.Int("requested", quantity))
		return nil, &InsufficientStockError{
			ProductID: productID,
			Product:   product.Name,
			Available: product.StockQuantity,
			Requested: quantity,
		}
	}

	if err := tx.DecrementStock(ctx, productID, quantity); err != nil {
		return nil, err
	}
	product.StockQuantity -= quantity

	return product, nil
}

// ReserveAll reserves every product of demand in ascending id order, so two
// settlements over overlapping products always lock in the same order.
// The first shortfall aborts; the caller's rollback undoes earlier reservations.
func (l *StockLedger) ReserveAll(ctx context.Context, tx store.Tx, demand map[int64]int) (map[int64]*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.ReserveAll")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		product, err := l.Reserve(ctx, tx, id, demand[id])
		if err != nil {
			util.SpanError(span, err)
			return nil, err
		}
		products[id] = product
	}

	return products, nil
}
