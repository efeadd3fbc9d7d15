package postgres

import (
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
)

func setupMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var (
	testTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	stockCols = []string{
		"id", "product_id", "warehouse_id", "batch_number", "quantity", "reserved_quantity",
		"available_quantity", "reorder_level", "created_at", "updated_at",
	}
	orderCols = []string{
		"id", "order_number", "merchant_id", "customer_name", "customer_email", "customer_phone",
		"shipping_address", "order_value", "delivery_fee", "total_amount", "payment_method", "notes",
		"status", "warehouse_id", "idempotency_key", "created_at", "updated_at",
	}
	orderItemCols = []string{"id", "order_id", "product_id", "quantity", "unit_price", "total_price"}
	billingCols   = []string{
		"id", "merchant_id", "billing_type", "amount", "due_date", "status",
		"paid_at", "payment_id", "created_at", "updated_at",
	}
)

func strPtr(s string) *string { return &s }
