package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

// ReceiveInput books inbound units into a (product, warehouse, batch) bucket.
// ReorderLevel only applies when the bucket is created.
type ReceiveInput struct {
	ProductID    string
	WarehouseID  string
	BatchNumber  *string
	Quantity     int
	ReorderLevel int
	ReferenceID  string
	ActorID      string
	Notes        string
}

// AdjustInput is a manual correction of on-hand quantity.
type AdjustInput struct {
	StockItemID string
	Delta       int
	Reason      domain.MovementType
	ActorID     string
	Notes       string
}

// TransferInput moves available units of one stock row to another warehouse.
type TransferInput struct {
	StockItemID   string
	ToWarehouseID string
	Quantity      int
	ActorID       string
	Notes         string
}

// TransferResult holds both sides of a transfer after it committed.
type TransferResult struct {
	Source *domain.StockItem `json:"source"`
	Target *domain.StockItem `json:"target"`
}

// Ledger owns stock rows and their movement ledger. Every mutation locks the
// row, checks, writes the row and appends one movement in one transaction.
type Ledger struct {
	store  repository.Store
	events EventPublisher
	audit  AuditSink
	logger *slog.Logger
	now    Clock
}

// NewLedger creates a stock ledger.
func NewLedger(store repository.Store, events EventPublisher, audit AuditSink, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, events: events, audit: audit, logger: logger, now: utcNow}
}

// GetAvailable sums available units over every stock row of productID.
func (l *Ledger) GetAvailable(ctx context.Context, productID string) (int, error) {
	if productID == "" {
		return 0, apperrors.InvalidInput("product_id is required")
	}
	n, err := l.store.Stock().SumAvailable(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("get available: %w", err)
	}
	return n, nil
}

// GetStockItem returns one stock row.
func (l *Ledger) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	item, err := l.store.Stock().GetStockItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	return item, nil
}

// ListStockItems returns every stock row of a product.
func (l *Ledger) ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error) {
	items, err := l.store.Stock().ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock items: %w", err)
	}
	return items, nil
}

// CountStockItems counts the stock rows of a product.
func (l *Ledger) CountStockItems(ctx context.Context, productID string) (int, error) {
	n, err := l.store.Stock().CountByProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("count stock items: %w", err)
	}
	return n, nil
}

// ListMovements returns the ledger of one stock row, oldest first.
func (l *Ledger) ListMovements(ctx context.Context, stockItemID string) ([]domain.StockMovement, error) {
	if _, err := l.store.Stock().GetStockItem(ctx, stockItemID); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	movements, err := l.store.Stock().ListMovements(ctx, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

// Reconcile compares a stock row with the sum of its movements. The row is
// locked while the movements are read so the two agree.
func (l *Ledger) Reconcile(ctx context.Context, stockItemID string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.Stock().LockStockItem(ctx, stockItemID)
		if err != nil {
			return err
		}
		movements, err := tx.Stock().ListMovements(ctx, stockItemID)
		if err != nil {
			return err
		}
		rec = domain.Reconcile(item, movements)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if !rec.Balanced {
		l.logger.WarnContext(ctx, "stock ledger out of balance",
			slog.String("stock_item_id", stockItemID),
			slog.Int("quantity", rec.Quantity),
			slog.Int("movement_quantity", rec.MovementQuantity),
			slog.Int("reserved", rec.Reserved),
			slog.Int("movement_reserved", rec.MovementReserved),
		)
	}
	return &rec, nil
}

// ListLowStock returns rows whose available quantity is at or below their
// reorder level.
func (l *Ledger) ListLowStock(ctx context.Context, filter domain.LowStockFilter, page pagination.Params) ([]domain.StockItem, int, error) {
	items, total, err := l.store.Stock().ListLowStock(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	return items, total, nil
}

// Reserve moves amount available units of a stock row into reserved.
func (l *Ledger) Reserve(ctx context.Context, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, error) {
	ctx, span := tracing.Start(ctx, "Ledger.Reserve")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var before, after *domain.StockItem
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		before, after, txErr = l.reserve(ctx, tx, stockItemID, amount, ref, actorID)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("reserve stock: %w", err)
	}

	l.recordStockChange(ctx, domain.ActionStockReserved, actorID, before, after)
	l.notifyLow(ctx, []domain.StockItem{*after})
	return after, nil
}

// ReserveTx is Reserve inside the caller's transaction.
func (l *Ledger) ReserveTx(ctx context.Context, tx repository.Tx, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, error) {
	_, after, err := l.reserve(ctx, tx, stockItemID, amount, ref, actorID)
	return after, err
}

func (l *Ledger) reserve(ctx context.Context, tx repository.Tx, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, *domain.StockItem, error) {
	if ref.Type == "" {
		ref.Type = domain.RefOrder
	}
	return l.mutate(ctx, tx, stockItemID, func(item *domain.StockItem) (*domain.StockMovement, error) {
		if err := item.Reserve(amount); err != nil {
			return nil, err
		}
		return &domain.StockMovement{
			MovementType:  domain.MovementStockOut,
			ReservedDelta: amount,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
		}, nil
	}, actorID, "")
}

// Release returns amount reserved units to available. ref.Type must be a
// release reason.
func (l *Ledger) Release(ctx context.Context, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, error) {
	ctx, span := tracing.Start(ctx, "Ledger.Release")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var before, after *domain.StockItem
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		before, after, txErr = l.release(ctx, tx, stockItemID, amount, ref, actorID)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("release stock: %w", err)
	}

	l.recordStockChange(ctx, domain.ActionStockReleased, actorID, before, after)
	return after, nil
}

// ReleaseTx is Release inside the caller's transaction.
func (l *Ledger) ReleaseTx(ctx context.Context, tx repository.Tx, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, error) {
	_, after, err := l.release(ctx, tx, stockItemID, amount, ref, actorID)
	return after, err
}

func (l *Ledger) release(ctx context.Context, tx repository.Tx, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, *domain.StockItem, error) {
	if !domain.IsReleaseReason(ref.Type) {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("invalid release reason %q", ref.Type))
	}
	return l.mutate(ctx, tx, stockItemID, func(item *domain.StockItem) (*domain.StockMovement, error) {
		if err := item.Release(amount); err != nil {
			return nil, err
		}
		return &domain.StockMovement{
			MovementType:  domain.MovementReturn,
			ReservedDelta: -amount,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
		}, nil
	}, actorID, "")
}

// ConsumeTx ships amount reserved units: both quantity and reserved drop.
func (l *Ledger) ConsumeTx(ctx context.Context, tx repository.Tx, stockItemID string, amount int, ref domain.Reference, actorID string) (*domain.StockItem, error) {
	if ref.Type == "" {
		ref.Type = domain.RefShipment
	}
	_, after, err := l.mutate(ctx, tx, stockItemID, func(item *domain.StockItem) (*domain.StockMovement, error) {
		if err := item.Consume(amount); err != nil {
			return nil, err
		}
		return &domain.StockMovement{
			MovementType:  domain.MovementStockOut,
			QuantityDelta: -amount,
			ReservedDelta: -amount,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
		}, nil
	}, actorID, "")
	return after, err
}

// Receive books inbound units, creating the bucket on first receipt.
func (l *Ledger) Receive(ctx context.Context, in ReceiveInput) (*domain.StockItem, error) {
	ctx, span := tracing.Start(ctx, "Ledger.Receive")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = validateReceive(in); err != nil {
		return nil, err
	}

	var before, after *domain.StockItem
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := l.now()
		item, err := tx.Stock().LockOrCreateBucket(ctx, &domain.StockItem{
			ID:           uuid.New().String(),
			ProductID:    in.ProductID,
			WarehouseID:  in.WarehouseID,
			BatchNumber:  in.BatchNumber,
			ReorderLevel: in.ReorderLevel,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		before, after, err = l.mutate(ctx, tx, item.ID, func(item *domain.StockItem) (*domain.StockMovement, error) {
			if err := item.Receive(in.Quantity); err != nil {
				return nil, err
			}
			return &domain.StockMovement{
				MovementType:  domain.MovementStockIn,
				QuantityDelta: in.Quantity,
				ReferenceType: domain.RefReceipt,
				ReferenceID:   in.ReferenceID,
			}, nil
		}, in.ActorID, in.Notes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("receive stock: %w", err)
	}

	l.recordStockChange(ctx, domain.ActionStockReceived, in.ActorID, before, after)
	l.logger.InfoContext(ctx, "stock received",
		slog.String("stock_item_id", after.ID),
		slog.String("product_id", after.ProductID),
		slog.String("warehouse_id", after.WarehouseID),
		slog.Int("quantity", in.Quantity),
	)
	return after, nil
}

func validateReceive(in ReceiveInput) error {
	if in.ProductID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if in.WarehouseID == "" {
		return apperrors.InvalidInput("warehouse_id is required")
	}
	if in.Quantity <= 0 {
		return apperrors.InvalidInput("quantity must be positive")
	}
	if in.ReorderLevel < 0 {
		return apperrors.InvalidInput("reorder_level must be non-negative")
	}
	if in.BatchNumber != nil && *in.BatchNumber == "" {
		return apperrors.InvalidInput("batch_number must not be empty when set")
	}
	return nil
}

// Adjust applies a signed manual correction.
func (l *Ledger) Adjust(ctx context.Context, in AdjustInput) (*domain.StockItem, error) {
	ctx, span := tracing.Start(ctx, "Ledger.Adjust")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = domain.ValidateAdjustment(in.Delta, in.Reason); err != nil {
		return nil, err
	}

	var before, after *domain.StockItem
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		before, after, txErr = l.mutate(ctx, tx, in.StockItemID, func(item *domain.StockItem) (*domain.StockMovement, error) {
			if err := item.Adjust(in.Delta, in.Reason); err != nil {
				return nil, err
			}
			return &domain.StockMovement{
				MovementType:  in.Reason,
				QuantityDelta: in.Delta,
				ReferenceType: domain.RefManual,
			}, nil
		}, in.ActorID, in.Notes)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	l.recordStockChange(ctx, domain.ActionStockAdjusted, in.ActorID, before, after)
	l.notifyLow(ctx, []domain.StockItem{*after})
	return after, nil
}

// Transfer moves available units to the same product and batch in another
// warehouse, creating the target bucket when needed. Rows are locked in the
// allocator's (created_at, id) order and a failed transfer leaves no new
// bucket behind.
func (l *Ledger) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	ctx, span := tracing.Start(ctx, "Ledger.Transfer")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if in.Quantity <= 0 {
		err = apperrors.InvalidInput("transfer quantity must be positive")
		return nil, err
	}
	if in.ToWarehouseID == "" {
		err = apperrors.InvalidInput("to_warehouse_id is required")
		return nil, err
	}

	src, err := l.store.Stock().GetStockItem(ctx, in.StockItemID)
	if err != nil {
		return nil, fmt.Errorf("transfer stock: %w", err)
	}
	if src.WarehouseID == in.ToWarehouseID {
		err = apperrors.InvalidInput("source and target warehouse must differ")
		return nil, err
	}

	ref := domain.Reference{Type: domain.RefTransfer, ID: uuid.New().String()}
	var srcBefore, srcAfter, tgtBefore, tgtAfter *domain.StockItem
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// Every existing row of the product, the target bucket included.
		if _, err := tx.Stock().LockCandidates(ctx, src.ProductID, ""); err != nil {
			return err
		}
		now := l.now()
		target, err := tx.Stock().LockOrCreateBucket(ctx, &domain.StockItem{
			ID:           uuid.New().String(),
			ProductID:    src.ProductID,
			WarehouseID:  in.ToWarehouseID,
			BatchNumber:  src.BatchNumber,
			ReorderLevel: src.ReorderLevel,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}

		srcBefore, srcAfter, err = l.mutate(ctx, tx, in.StockItemID, func(item *domain.StockItem) (*domain.StockMovement, error) {
			if err := item.Withdraw(in.Quantity); err != nil {
				return nil, err
			}
			return &domain.StockMovement{
				MovementType:  domain.MovementTransfer,
				QuantityDelta: -in.Quantity,
				ReferenceType: ref.Type,
				ReferenceID:   ref.ID,
			}, nil
		}, in.ActorID, in.Notes)
		if err != nil {
			return err
		}
		tgtBefore, tgtAfter, err = l.mutate(ctx, tx, target.ID, func(item *domain.StockItem) (*domain.StockMovement, error) {
			if err := item.Receive(in.Quantity); err != nil {
				return nil, err
			}
			return &domain.StockMovement{
				MovementType:  domain.MovementTransfer,
				QuantityDelta: in.Quantity,
				ReferenceType: ref.Type,
				ReferenceID:   ref.ID,
			}, nil
		}, in.ActorID, in.Notes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("transfer stock: %w", err)
	}

	l.recordStockChange(ctx, domain.ActionStockTransferred, in.ActorID, srcBefore, srcAfter)
	l.recordStockChange(ctx, domain.ActionStockTransferred, in.ActorID, tgtBefore, tgtAfter)
	l.notifyLow(ctx, []domain.StockItem{*srcAfter})
	l.logger.InfoContext(ctx, "stock transferred",
		slog.String("from_stock_item_id", srcAfter.ID),
		slog.String("to_stock_item_id", tgtAfter.ID),
		slog.String("to_warehouse_id", in.ToWarehouseID),
		slog.Int("quantity", in.Quantity),
	)
	return &TransferResult{Source: srcAfter, Target: tgtAfter}, nil
}

// mutate locks a row, applies change to a copy and, only when change
// succeeds, persists the row and appends the movement change describes.
func (l *Ledger) mutate(
	ctx context.Context,
	tx repository.Tx,
	stockItemID string,
	change func(item *domain.StockItem) (*domain.StockMovement, error),
	actorID, notes string,
) (*domain.StockItem, *domain.StockItem, error) {
	locked, err := tx.Stock().LockStockItem(ctx, stockItemID)
	if err != nil {
		return nil, nil, err
	}
	before := *locked

	m, err := change(locked)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	locked.UpdatedAt = now
	if err := tx.Stock().UpdateQuantities(ctx, locked); err != nil {
		return nil, nil, err
	}

	m.ID = uuid.New().String()
	m.StockItemID = stockItemID
	m.PerformedBy = actorID
	m.Notes = notes
	m.CreatedAt = now
	if err := tx.Stock().InsertMovement(ctx, m); err != nil {
		return nil, nil, err
	}
	stockMovementsTotal.WithLabelValues(string(m.MovementType)).Inc()
	return &before, locked, nil
}

func (l *Ledger) recordStockChange(ctx context.Context, action, actorID string, before, after *domain.StockItem) {
	l.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: domain.EntityStockItem,
		EntityID:   after.ID,
		OldValues: map[string]any{
			"quantity":          before.Quantity,
			"reserved_quantity": before.ReservedQuantity,
		},
		NewValues: map[string]any{
			"quantity":          after.Quantity,
			"reserved_quantity": after.ReservedQuantity,
		},
	})
}

// notifyLow publishes stock.low for every committed row at or below its
// reorder level.
func (l *Ledger) notifyLow(ctx context.Context, items []domain.StockItem) {
	for i := range items {
		item := &items[i]
		if !item.IsLow() {
			continue
		}
		lowStockEventsTotal.Inc()
		l.logger.WarnContext(ctx, "stock at or below reorder level",
			slog.String("stock_item_id", item.ID),
			slog.String("product_id", item.ProductID),
			slog.Int("available", item.Available()),
			slog.Int("reorder_level", item.ReorderLevel),
		)
		if err := l.events.PublishStockLow(ctx, item); err != nil {
			l.logger.ErrorContext(ctx, "failed to publish stock.low event",
				slog.String("stock_item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
