package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/validator"
)

// CreateProductInput describes a new catalog product.
type CreateProductInput struct {
	MerchantID string `json:"merchant_id" validate:"required"`
	SKU        string `json:"sku" validate:"required,sku"`
	Name       string `json:"name" validate:"required,max=255"`
	UnitPrice  decimal.Decimal
	Inactive   bool
	ActorID    string
}

// ProductService manages catalog products and guards their deletion.
type ProductService struct {
	store  repository.Store
	ledger *Ledger
	audit  AuditSink
	logger *slog.Logger
	now    Clock
}

// NewProductService creates a product service.
func NewProductService(store repository.Store, ledger *Ledger, audit AuditSink, logger *slog.Logger) *ProductService {
	return &ProductService{store: store, ledger: ledger, audit: audit, logger: logger, now: utcNow}
}

// CreateProduct stores a new product. A taken SKU yields AlreadyExists.
func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if in.UnitPrice.IsNegative() {
		return nil, apperrors.InvalidInput("unit_price must be non-negative")
	}

	now := s.now()
	p := &domain.Product{
		ID:         uuid.New().String(),
		MerchantID: in.MerchantID,
		SKU:        in.SKU,
		Name:       in.Name,
		UnitPrice:  in.UnitPrice,
		IsActive:   !in.Inactive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Products().CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    in.ActorID,
		Action:     domain.ActionProductCreated,
		EntityType: domain.EntityProduct,
		EntityID:   p.ID,
		NewValues: map[string]any{
			"sku":        p.SKU,
			"name":       p.Name,
			"unit_price": p.UnitPrice.String(),
			"is_active":  p.IsActive,
		},
	})
	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", p.ID),
		slog.String("sku", p.SKU),
	)
	return p, nil
}

// GetProduct returns a product.
func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.store.Products().GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// SetActive activates or deactivates a product.
func (s *ProductService) SetActive(ctx context.Context, id string, active bool, actorID string) error {
	p, err := s.store.Products().GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	if err := s.store.Products().SetActive(ctx, id, active, s.now()); err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionProductUpdated,
		EntityType: domain.EntityProduct,
		EntityID:   id,
		OldValues:  map[string]any{"is_active": p.IsActive},
		NewValues:  map[string]any{"is_active": active},
	})
	return nil
}

// UpdatePrice changes a product's unit price. Existing order items keep the
// price they were created with.
func (s *ProductService) UpdatePrice(ctx context.Context, id string, price decimal.Decimal, actorID string) error {
	if price.IsNegative() {
		return apperrors.InvalidInput("unit_price must be non-negative")
	}
	p, err := s.store.Products().GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	if err := s.store.Products().UpdatePrice(ctx, id, price, s.now()); err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionProductUpdated,
		EntityType: domain.EntityProduct,
		EntityID:   id,
		OldValues:  map[string]any{"unit_price": p.UnitPrice.String()},
		NewValues:  map[string]any{"unit_price": price.String()},
	})
	return nil
}

// DeleteProduct removes a product that has no stock rows and no order items.
func (s *ProductService) DeleteProduct(ctx context.Context, id, actorID string) error {
	p, err := s.store.Products().GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	stockRows, err := s.ledger.CountStockItems(ctx, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if stockRows > 0 {
		return apperrors.Conflict(fmt.Sprintf("product %s has %d stock items", id, stockRows))
	}
	orderItems, err := s.store.Orders().CountItemsByProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if orderItems > 0 {
		return apperrors.Conflict(fmt.Sprintf("product %s is referenced by %d order items", id, orderItems))
	}

	if err := s.store.Products().DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionProductDeleted,
		EntityType: domain.EntityProduct,
		EntityID:   id,
		OldValues:  map[string]any{"sku": p.SKU, "name": p.Name},
	})
	s.logger.InfoContext(ctx, "product deleted", slog.String("product_id", id))
	return nil
}
