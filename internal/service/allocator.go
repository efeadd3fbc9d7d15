package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

// Allocator reserves stock for orders across warehouses, all or nothing,
// and keeps the provenance rows linking orders to stock rows.
type Allocator struct {
	store  repository.Store
	ledger *Ledger
	logger *slog.Logger
	now    Clock
}

// NewAllocator creates an allocator reserving through ledger.
func NewAllocator(store repository.Store, ledger *Ledger, logger *slog.Logger) *Allocator {
	return &Allocator{store: store, ledger: ledger, logger: logger, now: utcNow}
}

// allocation is the outcome of one allocation run. touched holds the stock
// rows as left by the reservations, for low-stock checks after commit.
type allocation struct {
	result  *domain.AllocationResult
	touched []domain.StockItem
}

// Allocate reserves lines for orderID in its own transaction.
func (a *Allocator) Allocate(ctx context.Context, orderID string, lines []domain.AllocationLine, actorID string) (*domain.AllocationResult, error) {
	var out *allocation
	err := a.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = a.allocate(ctx, tx, orderID, lines, "", actorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("allocate order %s: %w", orderID, err)
	}
	a.ledger.notifyLow(ctx, out.touched)
	return out.result, nil
}

// AllocateTx reserves lines for orderID inside tx. A non-empty warehouseID
// limits candidates to that warehouse.
func (a *Allocator) AllocateTx(ctx context.Context, tx repository.Tx, orderID string, lines []domain.AllocationLine, warehouseID, actorID string) (*domain.AllocationResult, error) {
	out, err := a.allocate(ctx, tx, orderID, lines, warehouseID, actorID)
	if err != nil {
		return nil, err
	}
	return out.result, nil
}

func (a *Allocator) allocate(ctx context.Context, tx repository.Tx, orderID string, lines []domain.AllocationLine, warehouseID, actorID string) (out *allocation, err error) {
	ctx, span := tracing.Start(ctx, "Allocator.Allocate")
	start := time.Now()
	defer func() {
		allocationDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = errorCode(err)
		}
		allocationsTotal.WithLabelValues(outcome).Inc()
		tracing.EndSpan(span, err)
	}()

	merged, err := domain.MergeLines(lines)
	if err != nil {
		return nil, err
	}

	out = &allocation{result: &domain.AllocationResult{OrderID: orderID}}
	ref := domain.Reference{Type: domain.RefOrder, ID: orderID}

	// Products are visited in id order, which is the global lock order.
	for _, line := range merged {
		candidates, err := tx.Stock().LockCandidates(ctx, line.ProductID, warehouseID)
		if err != nil {
			return nil, err
		}
		picks, shortfall := domain.PlanAllocation(candidates, line.Quantity)
		if shortfall > 0 {
			a.logger.InfoContext(ctx, "allocation short",
				slog.String("order_id", orderID),
				slog.String("product_id", line.ProductID),
				slog.Int("requested", line.Quantity),
				slog.Int("shortfall", shortfall),
			)
			return nil, apperrors.InsufficientStock(line.ProductID, shortfall)
		}

		for _, p := range picks {
			item, err := a.ledger.ReserveTx(ctx, tx, p.StockItemID, p.Quantity, ref, actorID)
			if err != nil {
				return nil, err
			}
			now := a.now()
			alloc := domain.Allocation{
				ID:          uuid.New().String(),
				OrderID:     orderID,
				StockItemID: p.StockItemID,
				ProductID:   line.ProductID,
				WarehouseID: p.WarehouseID,
				Quantity:    p.Quantity,
				Status:      domain.AllocationActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Allocations().InsertAllocation(ctx, &alloc); err != nil {
				return nil, err
			}
			out.result.Allocations = append(out.result.Allocations, alloc)
			out.touched = append(out.touched, *item)
		}
	}
	return out, nil
}

// ReleaseTx releases every ACTIVE allocation of an order and marks it
// RELEASED. reason must be a release reason.
func (a *Allocator) ReleaseTx(ctx context.Context, tx repository.Tx, orderID, reason, actorID string) ([]domain.Allocation, error) {
	return a.settle(ctx, tx, orderID, domain.AllocationReleased, func(al domain.Allocation) error {
		_, err := a.ledger.ReleaseTx(ctx, tx, al.StockItemID, al.Quantity, domain.Reference{Type: reason, ID: orderID}, actorID)
		return err
	})
}

// ConsumeTx turns every ACTIVE allocation of a shipped order into outflow and
// marks it CONSUMED.
func (a *Allocator) ConsumeTx(ctx context.Context, tx repository.Tx, orderID, actorID string) ([]domain.Allocation, error) {
	return a.settle(ctx, tx, orderID, domain.AllocationConsumed, func(al domain.Allocation) error {
		_, err := a.ledger.ConsumeTx(ctx, tx, al.StockItemID, al.Quantity, domain.Reference{Type: domain.RefShipment, ID: orderID}, actorID)
		return err
	})
}

func (a *Allocator) settle(ctx context.Context, tx repository.Tx, orderID string, status domain.AllocationStatus, apply func(domain.Allocation) error) ([]domain.Allocation, error) {
	active, err := tx.Allocations().ListByOrder(ctx, orderID, domain.AllocationActive)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if err := apply(active[i]); err != nil {
			return nil, err
		}
		now := a.now()
		if err := tx.Allocations().UpdateAllocationStatus(ctx, active[i].ID, status, now); err != nil {
			return nil, err
		}
		active[i].Status = status
		active[i].UpdatedAt = now
	}
	return active, nil
}

// ReallocateTx releases an order's reservations and allocates its items
// again, limited to warehouseID. Any failure leaves tx to be rolled back,
// which restores the original reservations.
func (a *Allocator) ReallocateTx(ctx context.Context, tx repository.Tx, order *domain.Order, warehouseID, actorID string) (*domain.AllocationResult, error) {
	out, err := a.reallocate(ctx, tx, order, warehouseID, actorID)
	if err != nil {
		return nil, err
	}
	return out.result, nil
}

func (a *Allocator) reallocate(ctx context.Context, tx repository.Tx, order *domain.Order, warehouseID, actorID string) (*allocation, error) {
	if _, err := a.ReleaseTx(ctx, tx, order.ID, domain.RefReallocation, actorID); err != nil {
		return nil, err
	}
	return a.allocate(ctx, tx, order.ID, domain.LinesFromItems(order.Items), warehouseID, actorID)
}

// Allocations returns the provenance rows of an order.
func (a *Allocator) Allocations(ctx context.Context, orderID string) ([]domain.Allocation, error) {
	out, err := a.store.Allocations().ListByOrder(ctx, orderID, "")
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return out, nil
}
