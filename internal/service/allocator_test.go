package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

// Scenario: quantity 10, order for 4 leaves 6 available, 4 reserved and one
// STOCK_OUT movement of 4.
func TestAllocator_SingleRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "m-1", "SKU-1")
	stock := env.receive(t, p.ID, "wh-a", 10)

	res := env.order(t, "m-1", orderLine(p.ID, 4))
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, stock.ID, res.Allocations[0].StockItemID)
	assert.Equal(t, 4, res.Allocations[0].Quantity)

	got, err := env.ledger.GetStockItem(ctx, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.AvailableQuantity)
	assert.Equal(t, 4, got.ReservedQuantity)

	movements, err := env.ledger.ListMovements(ctx, stock.ID)
	require.NoError(t, err)
	var out []domain.StockMovement
	for _, m := range movements {
		if m.MovementType == domain.MovementStockOut {
			out = append(out, m)
		}
	}
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].ReservedDelta)
	assert.Equal(t, 0, out[0].QuantityDelta)
	assert.Equal(t, res.Order.ID, out[0].ReferenceID)
}

// Scenario: A has 3, B has 5, order needs 6: 3 from A then 3 from B.
func TestAllocator_SpansWarehouses(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "m-1", "SKU-1")
	a := env.receive(t, p.ID, "wh-a", 3)
	b := env.receive(t, p.ID, "wh-b", 5)

	res := env.order(t, "m-1", orderLine(p.ID, 6))
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, a.ID, res.Allocations[0].StockItemID)
	assert.Equal(t, "wh-a", res.Allocations[0].WarehouseID)
	assert.Equal(t, 3, res.Allocations[0].Quantity)
	assert.Equal(t, b.ID, res.Allocations[1].StockItemID)
	assert.Equal(t, "wh-b", res.Allocations[1].WarehouseID)
	assert.Equal(t, 3, res.Allocations[1].Quantity)
	assert.Equal(t, 2, env.available(t, p.ID))
}

// Scenario: need 10 with 7 available fails with shortfall 3 and leaves 7.
func TestAllocator_Insufficient_LeavesStockUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "m-1", "SKU-1")
	env.receive(t, p.ID, "wh-a", 4)
	env.receive(t, p.ID, "wh-b", 3)

	_, err := env.orders.CreateOrder(context.Background(), CreateOrderInput{
		MerchantID: "m-1", CustomerName: "Ada", Items: []CreateOrderItem{orderLine(p.ID, 10)},
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Equal(t, 3, appErr.Details["shortfall"])
	assert.Equal(t, 7, env.available(t, p.ID))

	orders, total, err := env.orders.ListOrders(context.Background(), domain.OrderFilter{}, pagination.DefaultParams())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
}

func TestAllocator_AllOrNothingAcrossProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p1 := env.product(t, "m-1", "SKU-1")
	p2 := env.product(t, "m-1", "SKU-2")
	env.receive(t, p1.ID, "wh-a", 10)
	env.receive(t, p2.ID, "wh-a", 1)

	_, err := env.orders.CreateOrder(ctx, CreateOrderInput{
		MerchantID:   "m-1",
		CustomerName: "Ada",
		Items:        []CreateOrderItem{orderLine(p1.ID, 5), orderLine(p2.ID, 2)},
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	assert.Equal(t, 10, env.available(t, p1.ID), "reservations of covered lines roll back")
	assert.Equal(t, 1, env.available(t, p2.ID))
	assert.Empty(t, env.events.created)
	assert.Empty(t, env.audit.byAction(domain.ActionOrderCreated))
}

func TestAllocator_MergesLinesOfSameProduct(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "m-1", "SKU-1")
	env.receive(t, p.ID, "wh-a", 10)

	res := env.order(t, "m-1", orderLine(p.ID, 2), orderLine(p.ID, 3))
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, 5, res.Allocations[0].Quantity)
	assert.Len(t, res.Order.Items, 2)
}

func TestAllocator_ConstrainedToWarehouse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "m-1", "SKU-1")
	env.receive(t, p.ID, "wh-a", 10)
	b := env.receive(t, p.ID, "wh-b", 2)

	res, err := env.orders.CreateOrder(ctx, CreateOrderInput{
		MerchantID: "m-1", CustomerName: "Ada", WarehouseID: "wh-b",
		Items: []CreateOrderItem{orderLine(p.ID, 2)},
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, b.ID, res.Allocations[0].StockItemID)
	require.NotNil(t, res.Order.WarehouseID)
	assert.Equal(t, "wh-b", *res.Order.WarehouseID)

	_, err = env.orders.CreateOrder(ctx, CreateOrderInput{
		MerchantID: "m-1", CustomerName: "Ada", WarehouseID: "wh-b",
		Items: []CreateOrderItem{orderLine(p.ID, 1)},
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock, "wh-a stock must not be used")
}

func TestAllocator_Allocate_Standalone(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "m-1", "SKU-1")
	env.receive(t, p.ID, "wh-a", 5)

	res, err := env.allocator.Allocate(context.Background(), "order-x", []domain.AllocationLine{{ProductID: p.ID, Quantity: 5}}, "u")
	require.NoError(t, err)
	assert.Equal(t, "order-x", res.OrderID)
	assert.Equal(t, 0, env.available(t, p.ID))

	_, err = env.allocator.Allocate(context.Background(), "order-y", []domain.AllocationLine{{ProductID: p.ID, Quantity: 0}}, "u")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// Concurrent allocations for the last units: exactly one wins.
func TestAllocator_ConcurrentLastUnits(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "m-1", "SKU-1")
	env.receive(t, p.ID, "wh-a", 3)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.orders.CreateOrder(context.Background(), CreateOrderInput{
				MerchantID: "m-1", CustomerName: "Ada", Items: []CreateOrderItem{orderLine(p.ID, 3)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	}
	assert.Equal(t, 0, env.available(t, p.ID))
}

func TestAllocator_ReallocateTx_FailureKeepsOriginal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "m-1", "SKU-1")
	a := env.receive(t, p.ID, "wh-a", 5)
	env.receive(t, p.ID, "wh-b", 1)
	res := env.order(t, "m-1", orderLine(p.ID, 3))

	err := env.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := env.allocator.ReallocateTx(ctx, tx, res.Order, "wh-b", "u")
		return err
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	got, err := env.ledger.GetStockItem(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReservedQuantity)

	allocs, err := env.orders.Allocations(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.AllocationActive, allocs[0].Status)
}
