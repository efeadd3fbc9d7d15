package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

const orderColumns = `id, order_number, merchant_id, customer_name, COALESCE(customer_email, ''),
		COALESCE(customer_phone, ''), COALESCE(shipping_address, ''), order_value, delivery_fee,
		total_amount, COALESCE(payment_method, ''), COALESCE(notes, ''), status, warehouse_id,
		idempotency_key, created_at, updated_at`

// constraintOrderIdempotency is the unique index on (merchant_id, idempotency_key).
const constraintOrderIdempotency = "idx_orders_idempotency"

// OrderRepository persists orders, order_items and order_status_history.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func scanOrder(row pgx.Row, extra ...any) (*domain.Order, error) {
	var o domain.Order
	var status string
	dest := []any{
		&o.ID,
		&o.OrderNumber,
		&o.MerchantID,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerPhone,
		&o.ShippingAddress,
		&o.OrderValue,
		&o.DeliveryFee,
		&o.TotalAmount,
		&o.PaymentMethod,
		&o.Notes,
		&status,
		&o.WarehouseID,
		&o.IdempotencyKey,
		&o.CreatedAt,
		&o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// CreateOrder inserts the order header and its items.
func (r *OrderRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders (id, order_number, merchant_id, customer_name, customer_email, customer_phone,
			shipping_address, order_value, delivery_fee, total_amount, payment_method, notes, status,
			warehouse_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query,
		o.ID,
		o.OrderNumber,
		o.MerchantID,
		o.CustomerName,
		nullString(o.CustomerEmail),
		nullString(o.CustomerPhone),
		nullString(o.ShippingAddress),
		o.OrderValue,
		o.DeliveryFee,
		o.TotalAmount,
		nullString(o.PaymentMethod),
		nullString(o.Notes),
		string(o.Status),
		o.WarehouseID,
		o.IdempotencyKey,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if database.ConstraintName(err) == constraintOrderIdempotency && o.IdempotencyKey != nil {
				return apperrors.AlreadyExists(domain.EntityOrder, "idempotency_key", *o.IdempotencyKey)
			}
			return apperrors.AlreadyExists(domain.EntityOrder, "order_number", o.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", database.ClassifyError(err))
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, it := range o.Items {
		if _, err := r.pool.Exec(ctx, itemQuery,
			it.ID,
			o.ID,
			it.ProductID,
			it.Quantity,
			it.UnitPrice,
			it.TotalPrice,
		); err != nil {
			if database.IsForeignKeyViolation(err) {
				return apperrors.NotFound(domain.EntityProduct, it.ProductID)
			}
			return fmt.Errorf("insert order item: %w", database.ClassifyError(err))
		}
	}
	return nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *OrderRepository) getOrder(ctx context.Context, query string, id string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(domain.EntityOrder, id)
		}
		return nil, fmt.Errorf("get order: %w", database.ClassifyError(err))
	}
	if o.Items, err = r.listItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder reads an order with its items.
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockOrder reads an order with its items and locks the order row.
func (r *OrderRepository) LockOrder(ctx context.Context, id string) (o *domain.Order, err error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockOrder", query)
	defer func() { end(err) }()

	return r.getOrder(ctx, query, id)
}

// GetByIdempotencyKey finds the order a merchant created with key.
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE merchant_id = $1 AND idempotency_key = $2`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, merchantID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}
	if o.Items, err = r.listItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus sets the status of a locked order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", database.ClassifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityOrder, id)
	}
	return nil
}

// UpdateWarehouse assigns the fulfilment warehouse of an order.
func (r *OrderRepository) UpdateWarehouse(ctx context.Context, id string, warehouseID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET warehouse_id = $2, updated_at = $3 WHERE id = $1`, id, warehouseID, at)
	if err != nil {
		return fmt.Errorf("update order warehouse: %w", database.ClassifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityOrder, id)
	}
	return nil
}

// ListOrders pages through order headers, newest first. Items are not loaded.
func (r *OrderRepository) ListOrders(ctx context.Context, filter domain.OrderFilter, page pagination.Params) ([]domain.Order, int, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + `, count(*) OVER() AS total_count FROM orders`)

	var conds []string
	var args []any
	if filter.MerchantID != "" {
		args = append(args, filter.MerchantID)
		conds = append(conds, fmt.Sprintf("merchant_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, page.Limit(), page.Offset())
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	var total int
	for rows.Next() {
		o, err := scanOrder(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, total, nil
}

// InsertHistory appends a status history row.
func (r *OrderRepository) InsertHistory(ctx context.Context, h *domain.OrderStatusHistory) error {
	query := `
		INSERT INTO order_status_history (id, order_id, status, updated_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.pool.Exec(ctx, query, h.ID, h.OrderID, string(h.Status), h.UpdatedBy, nullString(h.Notes), h.CreatedAt); err != nil {
		return fmt.Errorf("insert order status history: %w", err)
	}
	return nil
}

// ListHistory returns an order's status history, oldest first.
func (r *OrderRepository) ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	query := `
		SELECT id, order_id, status, updated_by, COALESCE(notes, ''), created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.OrderStatusHistory, 0)
	for rows.Next() {
		var h domain.OrderStatusHistory
		var status string
		if err := rows.Scan(&h.ID, &h.OrderID, &status, &h.UpdatedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order status history: %w", err)
		}
		h.Status = domain.OrderStatus(status)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order status history: %w", err)
	}
	return history, nil
}

// CountItemsByProduct counts order lines that reference a product.
func (r *OrderRepository) CountItemsByProduct(ctx context.Context, productID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM order_items WHERE product_id = $1`, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count order items by product: %w", err)
	}
	return n, nil
}
