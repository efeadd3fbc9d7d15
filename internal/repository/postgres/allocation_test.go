package postgres

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

var allocationCols = []string{"id", "order_id", "stock_item_id", "product_id", "warehouse_id", "quantity", "status", "created_at", "updated_at"}

func TestAllocationRepository_InsertAllocation(t *testing.T) {
	mock := setupMock(t)
	repo := NewAllocationRepository(mock)

	a := &domain.Allocation{ID: "al-1", OrderID: "order-1", StockItemID: "stock-1", ProductID: "prod-1",
		WarehouseID: "wh-1", Quantity: 3, Status: domain.AllocationActive, CreatedAt: testTime, UpdatedAt: testTime}
	mock.ExpectExec("INSERT INTO order_allocations").
		WithArgs("al-1", "order-1", "stock-1", "prod-1", "wh-1", 3, "ACTIVE", testTime, testTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.InsertAllocation(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_ListByOrder_ActiveOnly(t *testing.T) {
	mock := setupMock(t)
	repo := NewAllocationRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM order_allocations\\s+WHERE order_id = \\$1 AND status = \\$2 ORDER BY created_at, id").
		WithArgs("order-1", "ACTIVE").
		WillReturnRows(pgxmock.NewRows(allocationCols).
			AddRow("al-1", "order-1", "stock-1", "prod-1", "wh-1", 3, "ACTIVE", testTime, testTime))

	allocations, err := repo.ListByOrder(context.Background(), "order-1", domain.AllocationActive)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.Equal(t, domain.AllocationActive, allocations[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_UpdateAllocationStatus_Missing(t *testing.T) {
	mock := setupMock(t)
	repo := NewAllocationRepository(mock)

	mock.ExpectExec("UPDATE order_allocations").
		WithArgs("al-9", "RELEASED", testTime).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateAllocationStatus(context.Background(), "al-9", domain.AllocationReleased, testTime)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
