package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LowStockAlert is published when a committed out movement leaves a pair at
// or below its minimum stock.
type LowStockAlert struct {
	BranchID      int64         `json:"branch_id"`
	ProductID     int64         `json:"product_id"`
	Quantity      int64         `json:"quantity"`
	MinStock      int64         `json:"min_stock"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   int64         `json:"reference_id"`
	At            time.Time     `json:"at"`
}

// Notifier delivers low stock alerts, typically by enqueueing a background task.
type Notifier interface {
	NotifyLowStock(ctx context.Context, alert LowStockAlert) error
}

// StockReader reads committed projection rows.
type StockReader interface {
	GetStock(ctx context.Context, branchID, productID int64) (BranchStock, error)
}

// CommitHook runs the side effects of committed movements: metrics, low
// stock cache invalidation and alerts. Failures are logged, never returned,
// because the movements are already durable.
type CommitHook struct {
	reader   StockReader
	notifier Notifier
	cache    *LowStockCache
	metrics  *Metrics
	logger   *slog.Logger
}

// NewCommitHook builds a CommitHook. Any collaborator except reader may be nil.
func NewCommitHook(reader StockReader, notifier Notifier, cache *LowStockCache, metrics *Metrics, logger *slog.Logger) *CommitHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitHook{reader: reader, notifier: notifier, cache: cache, metrics: metrics, logger: logger}
}

// MovementsCommitted must be called after the transaction holding movements committed.
func (h *CommitHook) MovementsCommitted(ctx context.Context, movements ...StockMovement) {
	if h == nil || len(movements) == 0 {
		return
	}
	h.metrics.Committed(movements...)
	h.InvalidateLowStock(ctx)
	if h.notifier == nil || h.reader == nil {
		return
	}

	seen := make(map[StockKey]struct{}, len(movements))
	for _, mv := range movements {
		if mv.Direction != DirectionOut {
			continue
		}
		key := StockKey{BranchID: mv.BranchID, ProductID: mv.ProductID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		stock, err := h.reader.GetStock(ctx, mv.BranchID, mv.ProductID)
		if err != nil {
			if !errors.Is(err, ErrStockNotFound) {
				h.logger.Warn("low stock check failed", slog.Int64("branch_id", mv.BranchID), slog.Int64("product_id", mv.ProductID), slog.Any("error", err))
			}
			continue
		}
		if !stock.IsLowStock() {
			continue
		}
		alert := LowStockAlert{
			BranchID:      stock.BranchID,
			ProductID:     stock.ProductID,
			Quantity:      stock.Quantity,
			MinStock:      stock.MinStock,
			ReferenceType: mv.ReferenceType,
			ReferenceID:   mv.ReferenceID,
			At:            mv.CreatedAt,
		}
		if err := h.notifier.NotifyLowStock(ctx, alert); err != nil {
			h.logger.Warn("low stock alert failed", slog.Int64("branch_id", alert.BranchID), slog.Int64("product_id", alert.ProductID), slog.Any("error", err))
			continue
		}
		h.metrics.LowStockAlert()
	}
}

// InvalidateLowStock drops cached low stock listings.
func (h *CommitHook) InvalidateLowStock(ctx context.Context) {
	if h == nil || h.cache == nil {
		return
	}
	if err := h.cache.Bump(ctx); err != nil {
		h.logger.Warn("low stock cache bump failed", slog.Any("error", err))
	}
}
