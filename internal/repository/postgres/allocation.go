package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// AllocationRepository persists order_allocations.
type AllocationRepository struct {
	pool database.DBTX
}

// NewAllocationRepository creates a new PostgreSQL-backed allocation repository.
func NewAllocationRepository(pool database.DBTX) *AllocationRepository {
	return &AllocationRepository{pool: pool}
}

// InsertAllocation records one reservation made for an order.
func (r *AllocationRepository) InsertAllocation(ctx context.Context, a *domain.Allocation) error {
	query := `
		INSERT INTO order_allocations (id, order_id, stock_item_id, product_id, warehouse_id, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.OrderID,
		a.StockItemID,
		a.ProductID,
		a.WarehouseID,
		a.Quantity,
		string(a.Status),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// ListByOrder returns an order's allocations, optionally filtered by status.
func (r *AllocationRepository) ListByOrder(ctx context.Context, orderID string, status domain.AllocationStatus) ([]domain.Allocation, error) {
	query := `
		SELECT id, order_id, stock_item_id, product_id, warehouse_id, quantity, status, created_at, updated_at
		FROM order_allocations
		WHERE order_id = $1`
	args := []any{orderID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	allocations := make([]domain.Allocation, 0)
	for rows.Next() {
		var a domain.Allocation
		var st string
		if err := rows.Scan(
			&a.ID,
			&a.OrderID,
			&a.StockItemID,
			&a.ProductID,
			&a.WarehouseID,
			&a.Quantity,
			&st,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.Status = domain.AllocationStatus(st)
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return allocations, nil
}

// UpdateAllocationStatus moves an allocation to RELEASED or CONSUMED.
func (r *AllocationRepository) UpdateAllocationStatus(ctx context.Context, id string, status domain.AllocationStatus, at time.Time) error {
	query := `UPDATE order_allocations SET status = $2, updated_at = $3 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update allocation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("allocation", id)
	}
	return nil
}
