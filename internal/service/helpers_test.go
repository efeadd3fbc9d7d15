package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/memory"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stepClock advances one millisecond per reading so creation order is
// deterministic.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu            sync.Mutex
	created       []string
	statusChanged []domain.OrderStatus
	accrued       []string
	lowStock      []string
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, order *domain.Order, _ []domain.Allocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, order.ID)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, order *domain.Order, _ domain.OrderStatus, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, order.Status)
	return nil
}

func (p *recordingPublisher) PublishBillingAccrued(_ context.Context, rec *domain.BillingRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrued = append(p.accrued, rec.ID)
	return nil
}

func (p *recordingPublisher) PublishStockLow(_ context.Context, item *domain.StockItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowStock = append(p.lowStock, item.ID)
	return nil
}

// recordingSink keeps every audit entry in memory.
type recordingSink struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *recordingSink) Record(_ context.Context, entry domain.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) byAction(action string) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store     *memory.Store
	subs      *memory.SubscriptionReader
	events    *recordingPublisher
	audit     *recordingSink
	ledger    *Ledger
	allocator *Allocator
	orders    *OrderService
	products  *ProductService
	bulk      *BulkExecutor
	billing   *BillingService
}

type envOption func(*envConfig)

type envConfig struct {
	policy      string
	lockTimeout time.Duration
}

func withPolicy(p string) envOption { return func(c *envConfig) { c.policy = p } }

func withLockTimeout(d time.Duration) envOption { return func(c *envConfig) { c.lockTimeout = d } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{policy: ReassignRecordOnly, lockTimeout: 2 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	clock := newStepClock()
	logger := newTestLogger()
	store := memory.NewStore(memory.WithLockTimeout(cfg.lockTimeout))
	subs := memory.NewSubscriptionReader()
	events := &recordingPublisher{}
	sink := &recordingSink{}

	ledger := NewLedger(store, events, sink, logger)
	ledger.now = clock.Now
	allocator := NewAllocator(store, ledger, logger)
	allocator.now = clock.Now
	orders := NewOrderService(store, allocator, memory.NewOrderNumberSequence(), events, sink, logger, cfg.policy)
	orders.now = clock.Now
	products := NewProductService(store, ledger, sink, logger)
	products.now = clock.Now
	billing := NewBillingService(store, subs, events, sink, logger, time.UTC)
	billing.now = clock.Now

	return &testEnv{
		store:     store,
		subs:      subs,
		events:    events,
		audit:     sink,
		ledger:    ledger,
		allocator: allocator,
		orders:    orders,
		products:  products,
		bulk:      NewBulkExecutor(orders, products, sink, logger, 50, 4),
		billing:   billing,
	}
}

func (e *testEnv) product(t *testing.T, merchantID, sku string) *domain.Product {
	t.Helper()
	p, err := e.products.CreateProduct(context.Background(), CreateProductInput{
		MerchantID: merchantID,
		SKU:        sku,
		Name:       "Product " + sku,
		UnitPrice:  decimal.NewFromInt(1000),
		ActorID:    "admin",
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) receive(t *testing.T, productID, warehouseID string, qty int) *domain.StockItem {
	t.Helper()
	item, err := e.ledger.Receive(context.Background(), ReceiveInput{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		ActorID:     "admin",
	})
	require.NoError(t, err)
	return item
}

func (e *testEnv) order(t *testing.T, merchantID string, items ...CreateOrderItem) *CreateOrderResult {
	t.Helper()
	res, err := e.orders.CreateOrder(context.Background(), CreateOrderInput{
		MerchantID:   merchantID,
		CustomerName: "Ada",
		Items:        items,
		ActorID:      "user-1",
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) available(t *testing.T, productID string) int {
	t.Helper()
	n, err := e.ledger.GetAvailable(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func orderLine(productID string, qty int) CreateOrderItem {
	return CreateOrderItem{ProductID: productID, Quantity: qty}
}

func pageOf(page, perPage int) pagination.Params {
	return pagination.New(page, perPage)
}
