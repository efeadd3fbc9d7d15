package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

func cloneStock(s *domain.StockItem) *domain.StockItem {
	c := *s
	if s.BatchNumber != nil {
		b := *s.BatchNumber
		c.BatchNumber = &b
	}
	c.AvailableQuantity = c.Quantity - c.ReservedQuantity
	return &c
}

func keyOf(item *domain.StockItem) bucketKey {
	return bucketKey{
		productID:   item.ProductID,
		warehouseID: item.WarehouseID,
		batch:       item.Batch(),
		hasBatch:    item.BatchNumber != nil,
	}
}

func stockOrder(a, b *domain.StockItem) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (t *txn) GetStockItem(_ context.Context, id string) (*domain.StockItem, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	s, ok := t.s.stock[id]
	if !ok {
		return nil, apperrors.NotFound(domain.EntityStockItem, id)
	}
	return cloneStock(s), nil
}

func (t *txn) LockStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	unlock, err := t.lock(ctx, stockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.GetStockItem(ctx, id)
}

func (t *txn) LockCandidates(ctx context.Context, productID, warehouseID string) ([]domain.StockItem, error) {
	t.s.mu.Lock()
	var ids []*domain.StockItem
	for _, s := range t.s.stock {
		if s.ProductID == productID && (warehouseID == "" || s.WarehouseID == warehouseID) {
			ids = append(ids, s)
		}
	}
	slices.SortFunc(ids, stockOrder)
	order := make([]string, len(ids))
	for i, s := range ids {
		order[i] = s.ID
	}
	t.s.mu.Unlock()

	items := make([]domain.StockItem, 0, len(order))
	for _, id := range order {
		unlock, err := t.lock(ctx, stockKey(id))
		if err != nil {
			return nil, err
		}
		s, err := t.GetStockItem(ctx, id)
		unlock()
		if err != nil {
			// rolled back by its creator while we waited
			continue
		}
		items = append(items, *s)
	}
	return items, nil
}

func (t *txn) LockOrCreateBucket(ctx context.Context, item *domain.StockItem) (*domain.StockItem, error) {
	key := keyOf(item)

	t.s.mu.Lock()
	if _, ok := t.s.products[item.ProductID]; !ok {
		t.s.mu.Unlock()
		return nil, apperrors.NotFound(domain.EntityProduct, item.ProductID)
	}
	id, exists := t.s.buckets[key]
	if !exists {
		created := cloneStock(item)
		created.Quantity, created.ReservedQuantity, created.AvailableQuantity = 0, 0, 0
		created.UpdatedAt = created.CreatedAt
		t.s.stock[created.ID] = created
		t.s.buckets[key] = created.ID

		// Nobody else can know the new row yet, so its lock is free.
		lk := stockKey(created.ID)
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		t.s.locks[lk] = ch
		if t.auto {
			<-ch
		} else {
			t.held[lk] = ch
		}

		t.record(func() {
			delete(t.s.stock, created.ID)
			delete(t.s.buckets, key)
		})
		out := cloneStock(created)
		t.s.mu.Unlock()
		return out, nil
	}
	t.s.mu.Unlock()

	return t.LockStockItem(ctx, id)
}

func (t *txn) UpdateQuantities(_ context.Context, item *domain.StockItem) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.stock[item.ID]
	if !ok {
		return apperrors.NotFound(domain.EntityStockItem, item.ID)
	}
	if item.ReservedQuantity < 0 || item.ReservedQuantity > item.Quantity {
		return apperrors.InvalidInput("stock quantities violate 0 <= reserved <= quantity")
	}
	prev := *cur
	cur.Quantity = item.Quantity
	cur.ReservedQuantity = item.ReservedQuantity
	cur.AvailableQuantity = item.Quantity - item.ReservedQuantity
	cur.UpdatedAt = item.UpdatedAt
	t.record(func() { *cur = prev })
	return nil
}

func (t *txn) InsertMovement(_ context.Context, m *domain.StockMovement) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.stock[m.StockItemID]; !ok {
		return apperrors.NotFound(domain.EntityStockItem, m.StockItemID)
	}
	t.s.movements[m.StockItemID] = append(t.s.movements[m.StockItemID], *m)
	id, itemID := m.ID, m.StockItemID
	t.record(func() {
		t.s.movements[itemID] = slices.DeleteFunc(t.s.movements[itemID], func(x domain.StockMovement) bool {
			return x.ID == id
		})
	})
	return nil
}

func (t *txn) ListMovements(_ context.Context, stockItemID string) ([]domain.StockMovement, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append(make([]domain.StockMovement, 0, len(t.s.movements[stockItemID])), t.s.movements[stockItemID]...), nil
}

func (t *txn) SumAvailable(_ context.Context, productID string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	total := 0
	for _, s := range t.s.stock {
		if s.ProductID == productID {
			total += s.Quantity - s.ReservedQuantity
		}
	}
	return total, nil
}

func (t *txn) ListByProduct(_ context.Context, productID string) ([]domain.StockItem, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var matched []*domain.StockItem
	for _, s := range t.s.stock {
		if s.ProductID == productID {
			matched = append(matched, s)
		}
	}
	slices.SortFunc(matched, stockOrder)
	items := make([]domain.StockItem, 0, len(matched))
	for _, s := range matched {
		items = append(items, *cloneStock(s))
	}
	return items, nil
}

func (t *txn) ListLowStock(_ context.Context, filter domain.LowStockFilter, page pagination.Params) ([]domain.StockItem, int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var low []domain.StockItem
	for _, s := range t.s.stock {
		if filter.WarehouseID != "" && s.WarehouseID != filter.WarehouseID {
			continue
		}
		c := cloneStock(s)
		if c.IsLow() {
			low = append(low, *c)
		}
	}
	slices.SortFunc(low, func(a, b domain.StockItem) int {
		if c := cmp.Compare(a.AvailableQuantity, b.AvailableQuantity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	start, end := page.Window(len(low))
	return append(make([]domain.StockItem, 0, end-start), low[start:end]...), len(low), nil
}

func (t *txn) CountByProduct(_ context.Context, productID string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, s := range t.s.stock {
		if s.ProductID == productID {
			n++
		}
	}
	return n, nil
}
