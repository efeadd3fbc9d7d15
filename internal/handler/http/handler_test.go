package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/audit"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/memory"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/health"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
)

// ============================================================================
// Test Helpers
// ============================================================================

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *domain.Order, []domain.Allocation) error {
	return nil
}

func (nopPublisher) PublishOrderStatusChanged(context.Context, *domain.Order, domain.OrderStatus, string) error {
	return nil
}

func (nopPublisher) PublishBillingAccrued(context.Context, *domain.BillingRecord) error { return nil }

func (nopPublisher) PublishStockLow(context.Context, *domain.StockItem) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testServer struct {
	handler http.Handler
	subs    *memory.SubscriptionReader
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	store := memory.NewStore(memory.WithLockTimeout(time.Second))
	subs := memory.NewSubscriptionReader()
	sink := audit.NewLogSink(logger)
	events := nopPublisher{}

	ledger := service.NewLedger(store, events, sink, logger)
	allocator := service.NewAllocator(store, ledger, logger)
	orders := service.NewOrderService(store, allocator, memory.NewOrderNumberSequence(), events, sink, logger, service.ReassignRecordOnly)
	products := service.NewProductService(store, ledger, sink, logger)

	svc := Services{
		Ledger:   ledger,
		Orders:   orders,
		Products: products,
		Bulk:     service.NewBulkExecutor(orders, products, sink, logger, 10, 2),
		Billing:  service.NewBillingService(store, subs, events, sink, logger, time.UTC),
	}
	return &testServer{
		handler: NewRouter(svc, health.NewHandler(), "fulfillment-test", logger),
		subs:    subs,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// decodeData unwraps the response envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst), rec.Body.String())
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.NotNil(t, resp.Error, rec.Body.String())
	return resp.Error
}

func (s *testServer) createProduct(t *testing.T, sku, price string) domain.Product {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"merchant_id": "m-1", "sku": sku, "name": "Widget " + sku, "unit_price": price,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p domain.Product
	decodeData(t, rec, &p)
	return p
}

func (s *testServer) receive(t *testing.T, productID, warehouseID string, qty, reorder int) domain.StockItem {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/stock/receipts", map[string]any{
		"product_id": productID, "warehouse_id": warehouseID, "quantity": qty, "reorder_level": reorder,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item domain.StockItem
	decodeData(t, rec, &item)
	return item
}

func (s *testServer) available(t *testing.T, productID string) int {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/available", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AvailabilityResponse
	decodeData(t, rec, &resp)
	return resp.Available
}

func orderBody(productID string, qty int) map[string]any {
	return map[string]any{
		"merchant_id":   "m-1",
		"customer_name": "Ada",
		"delivery_fee":  "150.50",
		"items":         []map[string]any{{"product_id": productID, "quantity": qty}},
	}
}

// ============================================================================
// Orders
// ============================================================================

func TestCreateOrder_ReservesStock(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 10, 0)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 4))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res service.CreateOrderResult
	decodeData(t, rec, &res)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}$`, res.Order.OrderNumber)
	assert.True(t, decimal.RequireFromString("4150.5").Equal(res.Order.TotalAmount))
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, 4, res.Allocations[0].Quantity)
	assert.Equal(t, 6, s.available(t, p.ID))

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+res.Order.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.OrderStatusHistory
	decodeData(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "user-1", history[0].UpdatedBy)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 2, 0)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 5))

	assert.Equal(t, http.StatusConflict, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", e.Code)
	assert.Equal(t, p.ID, e.Details["product_id"])
	assert.EqualValues(t, 3, e.Details["shortfall"])
	assert.Equal(t, 2, s.available(t, p.ID))
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"no items", map[string]any{"merchant_id": "m-1", "customer_name": "Ada"}, "items"},
		{"bad product id", map[string]any{"merchant_id": "m-1", "customer_name": "Ada", "items": []map[string]any{{"product_id": "x", "quantity": 1}}}, "product_id"},
		{"three decimals", map[string]any{"merchant_id": "m-1", "customer_name": "Ada", "delivery_fee": "1.234", "items": []map[string]any{{"product_id": "9b2f8c1e-4a5d-4f6e-8a7b-1c2d3e4f5a6b", "quantity": 1}}}, "delivery_fee"},
		{"zero quantity", map[string]any{"merchant_id": "m-1", "customer_name": "Ada", "items": []map[string]any{{"product_id": "9b2f8c1e-4a5d-4f6e-8a7b-1c2d3e4f5a6b", "quantity": 0}}}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			e := decodeErr(t, rec)
			assert.Equal(t, "VALIDATION_ERROR", e.Code)
			assert.Contains(t, e.Fields, tt.field)
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/orders", `{"merchant_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeErr(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/orders", `{"surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 10, 0)

	first := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 3), HeaderIdempotencyKey, "checkout-42")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 3), HeaderIdempotencyKey, "checkout-42")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var a, b service.CreateOrderResult
	decodeData(t, first, &a)
	decodeData(t, second, &b)
	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.True(t, b.Replayed)
	assert.Equal(t, 7, s.available(t, p.ID))
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 5, 0)
	rec := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 5))
	var res service.CreateOrderResult
	decodeData(t, rec, &res)
	path := "/api/v1/orders/" + res.Order.ID + "/status"

	rec = s.do(t, http.MethodPatch, path, map[string]any{"status": "SHIPPED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, "INVALID_TRANSITION", e.Code)
	assert.Equal(t, "PENDING", e.Details["from"])

	rec = s.do(t, http.MethodPatch, path, map[string]any{"status": "CANCELLED", "notes": "customer changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var o domain.Order
	decodeData(t, rec, &o)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, 5, s.available(t, p.ID))

	rec = s.do(t, http.MethodPatch, path, map[string]any{"status": "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderEndpoints_BadIDAndNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeErr(t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/9b2f8c1e-4a5d-4f6e-8a7b-1c2d3e4f5a6b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeErr(t, rec).Code)
}

func TestListOrders_Paginates(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 10, 0)
	for range 3 {
		rec := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 1))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/orders?merchant_id=m-1&per_page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []domain.Order `json:"data"`
		TotalCount int            `json:"total_count"`
		HasNext    bool           `json:"has_next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 3, page.TotalCount)
	assert.True(t, page.HasNext)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Stock
// ============================================================================

func TestStock_AdjustTransferReconcile(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	item := s.receive(t, p.ID, "wh-a", 10, 3)

	rec := s.do(t, http.MethodPost, "/api/v1/stock/items/"+item.ID+"/adjustments", map[string]any{"delta": -2, "reason": "DAMAGE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var adjusted domain.StockItem
	decodeData(t, rec, &adjusted)
	assert.Equal(t, 8, adjusted.Quantity)

	rec = s.do(t, http.MethodPost, "/api/v1/stock/items/"+item.ID+"/adjustments", map[string]any{"delta": 1, "reason": "STOCK_IN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/stock/items/"+item.ID+"/transfers", map[string]any{"to_warehouse_id": "wh-b", "quantity": 6})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr service.TransferResult
	decodeData(t, rec, &tr)
	assert.Equal(t, 2, tr.Source.Quantity)
	assert.Equal(t, 6, tr.Target.Quantity)
	assert.Equal(t, "wh-b", tr.Target.WarehouseID)

	rec = s.do(t, http.MethodPost, "/api/v1/stock/items/"+item.ID+"/transfers", map[string]any{"to_warehouse_id": "wh-b", "quantity": 5})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stock/items/"+item.ID+"/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.Reconciliation
	decodeData(t, rec, &report)
	assert.True(t, report.Balanced)

	rec = s.do(t, http.MethodGet, "/api/v1/stock/items/"+item.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var movements []domain.StockMovement
	decodeData(t, rec, &movements)
	assert.Len(t, movements, 3)

	rec = s.do(t, http.MethodGet, "/api/v1/stock/low-stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var low struct {
		Data []domain.StockItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &low))
	require.Len(t, low.Data, 1)
	assert.Equal(t, item.ID, low.Data[0].ID)
}

func TestUnsupportedMediaType(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/stock/receipts", "quantity=1", "Content-Type", "text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Products and bulk
// ============================================================================

func TestProducts_DuplicateSKUAndDelete(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")

	rec := s.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"merchant_id": "m-1", "sku": "SKU-1", "name": "Again", "unit_price": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", decodeErr(t, rec).Code)

	rec = s.do(t, http.MethodPut, "/api/v1/products/"+p.ID+"/price", map[string]any{"unit_price": "1250.75"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Product
	decodeData(t, rec, &updated)
	assert.True(t, decimal.RequireFromString("1250.75").Equal(updated.UnitPrice))

	s.receive(t, p.ID, "wh-a", 1, 0)
	rec = s.do(t, http.MethodDelete, "/api/v1/products/"+p.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	free := s.createProduct(t, "SKU-2", "10")
	rec = s.do(t, http.MethodDelete, "/api/v1/products/"+free.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBulk_PartialFailure(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "SKU-1", "1000")
	s.receive(t, p.ID, "wh-a", 10, 0)
	var ids []string
	for range 2 {
		rec := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 1))
		var res service.CreateOrderResult
		decodeData(t, rec, &res)
		ids = append(ids, res.Order.ID)
	}
	missing := "9b2f8c1e-4a5d-4f6e-8a7b-1c2d3e4f5a6b"

	rec := s.do(t, http.MethodPost, "/api/v1/bulk/order", map[string]any{
		"action": "update_status",
		"ids":    append(ids, missing),
		"data":   map[string]any{"status": "CONFIRMED"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.BulkResult
	decodeData(t, rec, &res)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, missing, res.Errors[0].ID)
	assert.Equal(t, "NOT_FOUND", res.Errors[0].Code)

	rec = s.do(t, http.MethodPost, "/api/v1/bulk/warehouse", map[string]any{"action": "delete", "ids": ids})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Billing
// ============================================================================

func TestBilling_AccrueIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	start, err := domain.ParseDate("2024-01-01")
	require.NoError(t, err)
	s.subs.Put(domain.Subscription{
		ID:                  "sub-1",
		MerchantID:          "merchant-1",
		ServiceName:         "warehousing",
		Status:              domain.SubscriptionActive,
		PriceAtSubscription: decimal.NewFromInt(500),
		Quantity:            1,
		StartDate:           start,
	})
	body := map[string]any{"date": "2024-03-01", "merchant_ids": []string{"merchant-1"}}

	var first, second AccrueResponse
	rec := s.do(t, http.MethodPost, "/api/v1/billing/accruals", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &first)
	rec = s.do(t, http.MethodPost, "/api/v1/billing/accruals", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &second)

	require.Len(t, first.Records, 1)
	require.Len(t, second.Records, 1)
	assert.Equal(t, first.Records[0].ID, second.Records[0].ID)
	assert.True(t, decimal.NewFromInt(500).Equal(first.Records[0].Amount))
	assert.Empty(t, second.Failures)

	rec = s.do(t, http.MethodGet, "/api/v1/billing/records?merchant_id=merchant-1&from=2024-03-01&to=2024-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []domain.BillingRecord
	decodeData(t, rec, &recs)
	assert.Len(t, recs, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/billing/records/"+first.Records[0].ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/billing/accruals", map[string]any{"date": "01/03/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/billing/records?merchant_id=merchant-1&from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeErr(t, rec).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", nil).Code)
}
