package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

func (t *txn) CreateProduct(_ context.Context, p *domain.Product) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.skus[p.SKU]; ok {
		return apperrors.AlreadyExists(domain.EntityProduct, "sku", p.SKU)
	}
	stored := *p
	t.s.products[p.ID] = &stored
	t.s.skus[p.SKU] = p.ID
	t.record(func() {
		delete(t.s.products, p.ID)
		delete(t.s.skus, p.SKU)
	})
	return nil
}

func (t *txn) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return nil, apperrors.NotFound(domain.EntityProduct, id)
	}
	c := *p
	return &c, nil
}

func (t *txn) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	prev := *p
	p.IsActive, p.UpdatedAt = active, at
	t.record(func() { *p = prev })
	return nil
}

func (t *txn) UpdatePrice(_ context.Context, id string, price decimal.Decimal, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	prev := *p
	p.UnitPrice, p.UpdatedAt = price, at
	t.record(func() { *p = prev })
	return nil
}

func (t *txn) DeleteProduct(_ context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return apperrors.NotFound(domain.EntityProduct, id)
	}
	for _, s := range t.s.stock {
		if s.ProductID == id {
			return apperrors.Conflict(fmt.Sprintf("product %s has stock records or order references", id))
		}
	}
	for _, o := range t.s.orders {
		for _, it := range o.Items {
			if it.ProductID == id {
				return apperrors.Conflict(fmt.Sprintf("product %s has stock records or order references", id))
			}
		}
	}
	delete(t.s.products, id)
	delete(t.s.skus, p.SKU)
	t.record(func() {
		t.s.products[id] = p
		t.s.skus[p.SKU] = id
	})
	return nil
}
