package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

// Transactor runs fn inside one storage transaction. Every repository reached
// through tx shares that transaction and the row locks it holds until fn
// returns. A non-nil error from fn rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Stock() StockRepository
	Allocations() AllocationRepository
	Orders() OrderRepository
	Products() ProductRepository
	Billing() BillingRepository
}

// Store is a storage driver: a transactor plus auto-commit access to the same
// repositories for reads.
type Store interface {
	Transactor
	Tx
	Ping(ctx context.Context) error
}

// StockRepository persists stock items and their movement ledger.
type StockRepository interface {
	GetStockItem(ctx context.Context, id string) (*domain.StockItem, error)

	// LockStockItem reads a stock row and holds its lock until the
	// transaction ends.
	LockStockItem(ctx context.Context, id string) (*domain.StockItem, error)

	// LockCandidates locks every stock row of productID, optionally limited to
	// one warehouse, ordered by created_at then id.
	LockCandidates(ctx context.Context, productID, warehouseID string) ([]domain.StockItem, error)

	// LockOrCreateBucket returns the locked row for (product, warehouse,
	// batch), inserting an empty one first when none exists.
	LockOrCreateBucket(ctx context.Context, item *domain.StockItem) (*domain.StockItem, error)

	// UpdateQuantities persists Quantity and ReservedQuantity of a locked row.
	UpdateQuantities(ctx context.Context, item *domain.StockItem) error

	InsertMovement(ctx context.Context, m *domain.StockMovement) error
	ListMovements(ctx context.Context, stockItemID string) ([]domain.StockMovement, error)

	SumAvailable(ctx context.Context, productID string) (int, error)
	ListByProduct(ctx context.Context, productID string) ([]domain.StockItem, error)
	ListLowStock(ctx context.Context, filter domain.LowStockFilter, page pagination.Params) ([]domain.StockItem, int, error)
	CountByProduct(ctx context.Context, productID string) (int, error)
}

// AllocationRepository persists order allocation provenance.
type AllocationRepository interface {
	InsertAllocation(ctx context.Context, a *domain.Allocation) error
	// ListByOrder returns allocations of an order in creation order. An empty
	// status returns all of them.
	ListByOrder(ctx context.Context, orderID string, status domain.AllocationStatus) ([]domain.Allocation, error)
	UpdateAllocationStatus(ctx context.Context, id string, status domain.AllocationStatus, at time.Time) error
}

// OrderRepository persists orders, their items and status history.
type OrderRepository interface {
	// CreateOrder inserts the order and its items.
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error
	UpdateWarehouse(ctx context.Context, id string, warehouseID string, at time.Time) error
	ListOrders(ctx context.Context, filter domain.OrderFilter, page pagination.Params) ([]domain.Order, int, error)

	InsertHistory(ctx context.Context, h *domain.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)

	// CountItemsByProduct counts order items referencing productID.
	CountItemsByProduct(ctx context.Context, productID string) (int, error)
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error
	// DeleteProduct removes a product with no stock rows and no order-item
	// references. A referenced product yields a Conflict error.
	DeleteProduct(ctx context.Context, id string) error
}

// BillingRepository persists billing records.
type BillingRepository interface {
	// CreateDailyFee inserts a DAILY_SERVICE_FEE record unless one exists for
	// (merchant, due date). It returns the stored record and whether it was
	// created by this call.
	CreateDailyFee(ctx context.Context, rec *domain.BillingRecord) (*domain.BillingRecord, bool, error)
	GetBillingRecord(ctx context.Context, id string) (*domain.BillingRecord, error)
	LockBillingRecord(ctx context.Context, id string) (*domain.BillingRecord, error)
	MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) error
	ListBillingRecords(ctx context.Context, merchantID string, from, to time.Time) ([]domain.BillingRecord, error)
}

// SubscriptionReader reads the external subscription read model.
type SubscriptionReader interface {
	ListSubscriptions(ctx context.Context, merchantID string, date time.Time) ([]domain.Subscription, error)
	// ListBillableMerchants returns merchants with at least one subscription
	// billable on date.
	ListBillableMerchants(ctx context.Context, date time.Time) ([]string, error)
}

// OrderNumberSequence hands out the per-day counter used in order numbers.
type OrderNumberSequence interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}
