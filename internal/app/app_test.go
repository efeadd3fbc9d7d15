package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/config"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SUBSCRIPTION_SOURCE", "memory")
	t.Setenv("BILLING_TIMEZONE", "UTC")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewApp_MemoryDriver(t *testing.T) {
	cfg := memoryConfig(t)

	a, err := NewApp(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.core.Close() })

	assert.Nil(t, a.paymentConsumer, "no consumer without kafka")
	assert.Nil(t, a.core.pool)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/low-stock", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewCore_RedisSequence(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisHost = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.RedisPort = port

	core, err := NewCore(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	require.NotNil(t, core.redis)

	ctx := context.Background()
	svc := core.Services
	p, err := svc.Products.CreateProduct(ctx, service.CreateProductInput{
		MerchantID: "m-1", SKU: "SKU-1", Name: "Widget", UnitPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = svc.Ledger.Receive(ctx, service.ReceiveInput{ProductID: p.ID, WarehouseID: "wh-a", Quantity: 3})
	require.NoError(t, err)

	res, err := svc.Orders.CreateOrder(ctx, service.CreateOrderInput{
		MerchantID:   "m-1",
		CustomerName: "Ada",
		Items:        []service.CreateOrderItem{{ProductID: p.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^ORD-\d{8}-000001$`, res.Order.OrderNumber)

	keys := mr.Keys()
	require.NotEmpty(t, keys, "sequence lives in redis")

	orders, total, err := svc.Orders.ListOrders(ctx, domain.OrderFilter{MerchantID: "m-1"}, pagination.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, orders, 1)
}

func TestNewCore_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewCore(ctx, cfg, testLogger())
	assert.ErrorContains(t, err, "connect to redis")
}

func TestNewCore_PostgresSubscriptionsNeedPool(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.SubscriptionSource = "postgres"

	_, err := NewCore(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}

func TestRunBillingAccrual_StopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := NewApp(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.core.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.runBillingAccrual(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("billing job did not stop")
	}
}
