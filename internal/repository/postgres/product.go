package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// ProductRepository persists products.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// CreateProduct inserts a product. A taken SKU yields AlreadyExists.
func (r *ProductRepository) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (id, merchant_id, sku, name, unit_price, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.MerchantID,
		p.SKU,
		p.Name,
		p.UnitPrice,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists(domain.EntityProduct, "sku", p.SKU)
		}
		return fmt.Errorf("insert product: %w", database.ClassifyError(err))
	}
	return nil
}

// GetProduct reads a product by id.
func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, merchant_id, sku, name, unit_price, is_active, created_at, updated_at
		FROM products
		WHERE id = $1`

	var p domain.Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.MerchantID,
		&p.SKU,
		&p.Name,
		&p.UnitPrice,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(domain.EntityProduct, id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// SetActive toggles is_active.
func (r *ProductRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	return nil
}

// UpdatePrice sets unit_price.
func (r *ProductRepository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET unit_price = $2, updated_at = $3 WHERE id = $1`, id, price, at)
	if err != nil {
		return fmt.Errorf("update product price: %w", database.ClassifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	return nil
}

// DeleteProduct removes a product that has no stock rows and no order lines.
// Guard and delete are one statement. The RESTRICT foreign keys back it up.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id string) error {
	query := `
		DELETE FROM products p
		WHERE p.id = $1
			AND NOT EXISTS (SELECT 1 FROM stock_items s WHERE s.product_id = p.id)
			AND NOT EXISTS (SELECT 1 FROM order_items oi WHERE oi.product_id = p.id)`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("product %s is still referenced", id))
		}
		return fmt.Errorf("delete product: %w", database.ClassifyError(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	return apperrors.Conflict(fmt.Sprintf("product %s has stock records or order references", id))
}
