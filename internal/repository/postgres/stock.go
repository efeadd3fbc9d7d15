package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

const stockColumns = `id, product_id, warehouse_id, batch_number, quantity, reserved_quantity,
		available_quantity, reorder_level, created_at, updated_at`

// StockRepository persists stock_items and stock_movements.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a new PostgreSQL-backed stock repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

func scanStockItem(row pgx.Row) (*domain.StockItem, error) {
	var s domain.StockItem
	err := row.Scan(
		&s.ID,
		&s.ProductID,
		&s.WarehouseID,
		&s.BatchNumber,
		&s.Quantity,
		&s.ReservedQuantity,
		&s.AvailableQuantity,
		&s.ReorderLevel,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectStockItems(rows pgx.Rows) ([]domain.StockItem, error) {
	defer rows.Close()

	items := make([]domain.StockItem, 0)
	for rows.Next() {
		s, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	return items, nil
}

// GetStockItem reads a stock row without locking it.
func (r *StockRepository) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	query := `SELECT ` + stockColumns + ` FROM stock_items WHERE id = $1`

	s, err := scanStockItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(domain.EntityStockItem, id)
		}
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	return s, nil
}

// LockStockItem reads a stock row FOR UPDATE.
func (r *StockRepository) LockStockItem(ctx context.Context, id string) (s *domain.StockItem, err error) {
	query := `SELECT ` + stockColumns + ` FROM stock_items WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockStockItem", query)
	defer func() { end(err) }()

	s, err = scanStockItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(domain.EntityStockItem, id)
		}
		return nil, fmt.Errorf("lock stock item: %w", database.ClassifyError(err))
	}
	return s, nil
}

// LockCandidates locks the allocation candidates of a product in the order
// the allocator walks them.
func (r *StockRepository) LockCandidates(ctx context.Context, productID, warehouseID string) (items []domain.StockItem, err error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + stockColumns + ` FROM stock_items WHERE product_id = $1`)
	args := []any{productID}
	if warehouseID != "" {
		sb.WriteString(` AND warehouse_id = $2`)
		args = append(args, warehouseID)
	}
	sb.WriteString(` ORDER BY created_at, id FOR UPDATE`)
	query := sb.String()

	ctx, end := database.TraceQuery(ctx, "LockCandidates", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock candidates: %w", database.ClassifyError(err))
	}
	items, err = collectStockItems(rows)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	return items, nil
}

// LockOrCreateBucket inserts an empty row for the (product, warehouse, batch)
// bucket when none exists and returns the bucket locked. The unique index
// treats a NULL batch as its own bucket.
func (r *StockRepository) LockOrCreateBucket(ctx context.Context, item *domain.StockItem) (s *domain.StockItem, err error) {
	insert := `
		INSERT INTO stock_items (id, product_id, warehouse_id, batch_number, quantity, reserved_quantity, reorder_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $6)
		ON CONFLICT (product_id, warehouse_id, batch_number) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "LockOrCreateBucket", insert)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, insert,
		item.ID,
		item.ProductID,
		item.WarehouseID,
		item.BatchNumber,
		item.ReorderLevel,
		item.CreatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, apperrors.NotFound(domain.EntityProduct, item.ProductID)
		}
		return nil, fmt.Errorf("create stock bucket: %w", database.ClassifyError(err))
	}

	query := `SELECT ` + stockColumns + ` FROM stock_items
		WHERE product_id = $1 AND warehouse_id = $2 AND batch_number IS NOT DISTINCT FROM $3
		FOR UPDATE`
	s, err = scanStockItem(r.pool.QueryRow(ctx, query, item.ProductID, item.WarehouseID, item.BatchNumber))
	if err != nil {
		return nil, fmt.Errorf("lock stock bucket: %w", database.ClassifyError(err))
	}
	return s, nil
}

// UpdateQuantities writes quantity and reserved_quantity of a locked row.
// available_quantity is generated by the database.
func (r *StockRepository) UpdateQuantities(ctx context.Context, item *domain.StockItem) error {
	query := `
		UPDATE stock_items
		SET quantity = $2, reserved_quantity = $3, updated_at = $4
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, item.ID, item.Quantity, item.ReservedQuantity, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update stock quantities: %w", database.ClassifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityStockItem, item.ID)
	}
	return nil
}

// InsertMovement appends a ledger entry.
func (r *StockRepository) InsertMovement(ctx context.Context, m *domain.StockMovement) error {
	query := `
		INSERT INTO stock_movements (id, stock_item_id, movement_type, quantity_delta, reserved_delta,
			reference_type, reference_id, performed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.StockItemID,
		string(m.MovementType),
		m.QuantityDelta,
		m.ReservedDelta,
		nullString(m.ReferenceType),
		nullString(m.ReferenceID),
		m.PerformedBy,
		nullString(m.Notes),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// ListMovements returns the ledger of one stock row, oldest first.
func (r *StockRepository) ListMovements(ctx context.Context, stockItemID string) ([]domain.StockMovement, error) {
	query := `
		SELECT id, stock_item_id, movement_type, quantity_delta, reserved_delta,
			COALESCE(reference_type, ''), COALESCE(reference_id, ''), performed_by, COALESCE(notes, ''), created_at
		FROM stock_movements
		WHERE stock_item_id = $1
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var m domain.StockMovement
		var movementType string
		if err := rows.Scan(
			&m.ID,
			&m.StockItemID,
			&movementType,
			&m.QuantityDelta,
			&m.ReservedDelta,
			&m.ReferenceType,
			&m.ReferenceID,
			&m.PerformedBy,
			&m.Notes,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.MovementType = domain.MovementType(movementType)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

// SumAvailable totals available_quantity over every row of a product.
func (r *StockRepository) SumAvailable(ctx context.Context, productID string) (int, error) {
	query := `SELECT COALESCE(SUM(available_quantity), 0) FROM stock_items WHERE product_id = $1`

	var total int
	if err := r.pool.QueryRow(ctx, query, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum available stock: %w", err)
	}
	return total, nil
}

// ListByProduct returns every stock row of a product in allocation order.
func (r *StockRepository) ListByProduct(ctx context.Context, productID string) ([]domain.StockItem, error) {
	query := `SELECT ` + stockColumns + ` FROM stock_items WHERE product_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock by product: %w", err)
	}
	return collectStockItems(rows)
}

// ListLowStock pages through rows whose available quantity is at or below
// their reorder level.
func (r *StockRepository) ListLowStock(ctx context.Context, filter domain.LowStockFilter, page pagination.Params) (items []domain.StockItem, total int, err error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + stockColumns + `, count(*) OVER() AS total_count
		FROM stock_items WHERE available_quantity <= reorder_level`)
	args := []any{}
	if filter.WarehouseID != "" {
		args = append(args, filter.WarehouseID)
		sb.WriteString(fmt.Sprintf(` AND warehouse_id = $%d`, len(args)))
	}
	args = append(args, page.Limit(), page.Offset())
	sb.WriteString(fmt.Sprintf(` ORDER BY available_quantity, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)))
	query := sb.String()

	ctx, end := database.TraceQuery(ctx, "ListLowStock", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	items = make([]domain.StockItem, 0)
	for rows.Next() {
		var s domain.StockItem
		if err := rows.Scan(
			&s.ID,
			&s.ProductID,
			&s.WarehouseID,
			&s.BatchNumber,
			&s.Quantity,
			&s.ReservedQuantity,
			&s.AvailableQuantity,
			&s.ReorderLevel,
			&s.CreatedAt,
			&s.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan low stock row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}
	return items, total, nil
}

// CountByProduct counts the stock rows of a product.
func (r *StockRepository) CountByProduct(ctx context.Context, productID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM stock_items WHERE product_id = $1`, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stock by product: %w", err)
	}
	return n, nil
}
