package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

func item(qty, reserved int) *StockItem {
	s := &StockItem{ID: "si-1", ProductID: "p-1", WarehouseID: "w-1", Quantity: qty, ReservedQuantity: reserved}
	s.sync()
	return s
}

func TestStockItem_Reserve(t *testing.T) {
	s := item(10, 0)
	require.NoError(t, s.Reserve(4))
	assert.Equal(t, 4, s.ReservedQuantity)
	assert.Equal(t, 6, s.AvailableQuantity)

	err := s.Reserve(7)
	require.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 1, appErr.Details["shortfall"])
	assert.Equal(t, 4, s.ReservedQuantity, "failed reserve must not mutate")
}

func TestStockItem_ReleaseAndConsume(t *testing.T) {
	s := item(10, 4)

	require.ErrorIs(t, s.Release(5), apperrors.ErrInvalidInput)
	require.NoError(t, s.Release(1))
	assert.Equal(t, 3, s.ReservedQuantity)

	require.NoError(t, s.Consume(3))
	assert.Equal(t, 7, s.Quantity)
	assert.Equal(t, 0, s.ReservedQuantity)
	assert.Equal(t, 7, s.AvailableQuantity)

	assert.ErrorIs(t, s.Consume(1), apperrors.ErrInvalidInput)
}

func TestStockItem_Adjust(t *testing.T) {
	tests := []struct {
		name     string
		qty, res int
		delta    int
		reason   MovementType
		wantQty  int
		wantErr  bool
	}{
		{"count correction up", 5, 0, 3, MovementAdjustment, 8, false},
		{"count correction down", 5, 2, -3, MovementAdjustment, 2, false},
		{"below reserved", 5, 3, -3, MovementAdjustment, 5, true},
		{"negative quantity", 2, 0, -3, MovementAdjustment, 2, true},
		{"damage must be negative", 5, 0, 1, MovementDamage, 5, true},
		{"damage write-off", 5, 0, -1, MovementDamage, 4, false},
		{"return must be positive", 5, 0, -1, MovementReturn, 5, true},
		{"customer return", 5, 0, 2, MovementReturn, 7, false},
		{"zero delta", 5, 0, 0, MovementAdjustment, 5, true},
		{"stock in is not a reason", 5, 0, 1, MovementStockIn, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := item(tt.qty, tt.res)
			err := s.Adjust(tt.delta, tt.reason)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantQty, s.Quantity)
			assert.Equal(t, s.Quantity-s.ReservedQuantity, s.AvailableQuantity)
		})
	}
}

func TestStockItem_Withdraw(t *testing.T) {
	s := item(10, 6)
	assert.ErrorIs(t, s.Withdraw(5), apperrors.ErrInsufficientStock)
	require.NoError(t, s.Withdraw(4))
	assert.Equal(t, 6, s.Quantity)
	assert.Equal(t, 0, s.Available())
}

func TestStockItem_IsLow(t *testing.T) {
	s := item(10, 6)
	s.ReorderLevel = 4
	assert.True(t, s.IsLow())
	s.ReorderLevel = 3
	assert.False(t, s.IsLow())
}

func TestReconcile(t *testing.T) {
	s := item(7, 2)
	moves := []StockMovement{
		{MovementType: MovementStockIn, QuantityDelta: 10},
		{MovementType: MovementStockOut, ReservedDelta: 5},
		{MovementType: MovementStockOut, QuantityDelta: -3, ReservedDelta: -3},
	}
	r := Reconcile(s, moves)
	assert.True(t, r.Balanced)
	assert.Equal(t, 3, r.MovementCount)

	r = Reconcile(item(8, 2), moves)
	assert.False(t, r.Balanced)
}
