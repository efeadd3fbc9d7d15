package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPicked     OrderStatus = "PICKED"
	OrderStatusPacked     OrderStatus = "PACKED"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// forward is the strict sequential walk. CANCELLED is handled separately.
var forward = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusConfirmed,
	OrderStatusConfirmed:  OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusPicked,
	OrderStatusPicked:     OrderStatusPacked,
	OrderStatusPacked:     OrderStatusShipped,
	OrderStatusShipped:    OrderStatusDelivered,
}

// ValidStatuses returns all order statuses in lifecycle order.
func ValidStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusPicked,
		OrderStatusPacked,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusPicked,
		OrderStatusPacked, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo allows the next forward state, or CANCELLED from anything
// but DELIVERED and CANCELLED. Self-transitions are rejected.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if target == OrderStatusCancelled {
		return s != OrderStatusDelivered && s != OrderStatusCancelled && s.IsValid()
	}
	next, ok := forward[s]
	return ok && next == target
}

// HoldsReservations reports whether an order in this state still has stock
// reserved that a cancellation must release.
func (s OrderStatus) HoldsReservations() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed || s == OrderStatusProcessing
}

// Order is the aggregate root of the lifecycle.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	MerchantID      string          `json:"merchant_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	Items           []OrderItem     `json:"items,omitempty"`
	OrderValue      decimal.Decimal `json:"order_value"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          OrderStatus     `json:"status"`
	WarehouseID     *string         `json:"warehouse_id,omitempty"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is an immutable line of an order.
type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// CalculateTotals sets each line total, OrderValue and TotalAmount.
func (o *Order) CalculateTotals() {
	value := decimal.Zero
	for i := range o.Items {
		it := &o.Items[i]
		it.TotalPrice = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		value = value.Add(it.TotalPrice)
	}
	o.OrderValue = value
	o.TotalAmount = value.Add(o.DeliveryFee)
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	MerchantID string
	Status     OrderStatus
}

// OrderStatusHistory is one append-only lifecycle entry.
type OrderStatusHistory struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	UpdatedBy string      `json:"updated_by"`
	Notes     string      `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
