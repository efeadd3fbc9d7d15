package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

func cloneOrder(o *domain.Order, withItems bool) *domain.Order {
	c := *o
	c.Items = nil
	if withItems {
		c.Items = append([]domain.OrderItem(nil), o.Items...)
	}
	if o.WarehouseID != nil {
		w := *o.WarehouseID
		c.WarehouseID = &w
	}
	if o.IdempotencyKey != nil {
		k := *o.IdempotencyKey
		c.IdempotencyKey = &k
	}
	return &c
}

func (t *txn) CreateOrder(_ context.Context, o *domain.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.orderNumbers[o.OrderNumber]; ok {
		return apperrors.AlreadyExists(domain.EntityOrder, "order_number", o.OrderNumber)
	}
	var mk merchantKey
	if o.IdempotencyKey != nil {
		mk = merchantKey{merchantID: o.MerchantID, value: *o.IdempotencyKey}
		if _, ok := t.s.orderKeys[mk]; ok {
			return apperrors.AlreadyExists(domain.EntityOrder, "idempotency_key", *o.IdempotencyKey)
		}
	}
	for _, it := range o.Items {
		if _, ok := t.s.products[it.ProductID]; !ok {
			return apperrors.NotFound(domain.EntityProduct, it.ProductID)
		}
	}

	stored := cloneOrder(o, true)
	for i := range stored.Items {
		stored.Items[i].OrderID = o.ID
	}
	t.s.orders[o.ID] = stored
	t.s.orderNumbers[o.OrderNumber] = o.ID
	if o.IdempotencyKey != nil {
		t.s.orderKeys[mk] = o.ID
	}
	id, number, keyed := o.ID, o.OrderNumber, o.IdempotencyKey != nil
	t.record(func() {
		delete(t.s.orders, id)
		delete(t.s.orderNumbers, number)
		if keyed {
			delete(t.s.orderKeys, mk)
		}
	})
	return nil
}

func (t *txn) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return nil, apperrors.NotFound(domain.EntityOrder, id)
	}
	return cloneOrder(o, true), nil
}

func (t *txn) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	unlock, err := t.lock(ctx, orderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.GetOrder(ctx, id)
}

func (t *txn) GetByIdempotencyKey(_ context.Context, merchantID, key string) (*domain.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id, ok := t.s.orderKeys[merchantKey{merchantID: merchantID, value: key}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneOrder(t.s.orders[id], true), nil
}

func (t *txn) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return apperrors.NotFound(domain.EntityOrder, id)
	}
	prevStatus, prevAt := o.Status, o.UpdatedAt
	o.Status, o.UpdatedAt = status, at
	t.record(func() { o.Status, o.UpdatedAt = prevStatus, prevAt })
	return nil
}

func (t *txn) UpdateWarehouse(_ context.Context, id string, warehouseID string, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return apperrors.NotFound(domain.EntityOrder, id)
	}
	prevWh, prevAt := o.WarehouseID, o.UpdatedAt
	o.WarehouseID, o.UpdatedAt = &warehouseID, at
	t.record(func() { o.WarehouseID, o.UpdatedAt = prevWh, prevAt })
	return nil
}

func (t *txn) ListOrders(_ context.Context, filter domain.OrderFilter, page pagination.Params) ([]domain.Order, int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var matched []domain.Order
	for _, o := range t.s.orders {
		if filter.MerchantID != "" && o.MerchantID != filter.MerchantID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, *cloneOrder(o, false))
	}
	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	start, end := page.Window(len(matched))
	return append(make([]domain.Order, 0, end-start), matched[start:end]...), len(matched), nil
}

func (t *txn) InsertHistory(_ context.Context, h *domain.OrderStatusHistory) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.orders[h.OrderID]; !ok {
		return apperrors.NotFound(domain.EntityOrder, h.OrderID)
	}
	t.s.history[h.OrderID] = append(t.s.history[h.OrderID], *h)
	id, orderID := h.ID, h.OrderID
	t.record(func() {
		t.s.history[orderID] = slices.DeleteFunc(t.s.history[orderID], func(x domain.OrderStatusHistory) bool {
			return x.ID == id
		})
	})
	return nil
}

func (t *txn) ListHistory(_ context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append(make([]domain.OrderStatusHistory, 0, len(t.s.history[orderID])), t.s.history[orderID]...), nil
}

func (t *txn) CountItemsByProduct(_ context.Context, productID string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, o := range t.s.orders {
		for _, it := range o.Items {
			if it.ProductID == productID {
				n++
			}
		}
	}
	return n, nil
}

func (t *txn) InsertAllocation(_ context.Context, a *domain.Allocation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored := *a
	t.s.allocations[a.OrderID] = append(t.s.allocations[a.OrderID], &stored)
	id, orderID := a.ID, a.OrderID
	t.record(func() {
		t.s.allocations[orderID] = slices.DeleteFunc(t.s.allocations[orderID], func(x *domain.Allocation) bool {
			return x.ID == id
		})
	})
	return nil
}

func (t *txn) ListByOrder(_ context.Context, orderID string, status domain.AllocationStatus) ([]domain.Allocation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]domain.Allocation, 0, len(t.s.allocations[orderID]))
	for _, a := range t.s.allocations[orderID] {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (t *txn) UpdateAllocationStatus(_ context.Context, id string, status domain.AllocationStatus, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, list := range t.s.allocations {
		for _, a := range list {
			if a.ID != id {
				continue
			}
			prevStatus, prevAt := a.Status, a.UpdatedAt
			a.Status, a.UpdatedAt = status, at
			t.record(func() { a.Status, a.UpdatedAt = prevStatus, prevAt })
			return nil
		}
	}
	return apperrors.NotFound("allocation", id)
}
