package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
)

// Topics of the fulfillment domain events.
var (
	TopicOrderCreated       = pkgkafka.Topic("order", "created")
	TopicOrderStatusChanged = pkgkafka.Topic("order", "status_changed")
	TopicBillingAccrued     = pkgkafka.Topic("billing", "accrued")
	TopicStockLow           = pkgkafka.Topic("stock", "low")
)

// Aggregate types.
const (
	AggregateTypeOrder   = "order"
	AggregateTypeBilling = "billing_record"
	AggregateTypeStock   = "stock_item"
)

// SourceFulfillmentService identifies events emitted by this service.
const SourceFulfillmentService = "fulfillment-service"

// OrderCreatedData is the payload for an order.created event.
type OrderCreatedData struct {
	OrderID     string                  `json:"order_id"`
	OrderNumber string                  `json:"order_number"`
	MerchantID  string                  `json:"merchant_id"`
	TotalAmount decimal.Decimal         `json:"total_amount"`
	Items       []domain.AllocationLine `json:"items"`
	Allocations []domain.Allocation     `json:"allocations"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	MerchantID  string             `json:"merchant_id"`
	OldStatus   domain.OrderStatus `json:"old_status"`
	NewStatus   domain.OrderStatus `json:"new_status"`
	Notes       string             `json:"notes,omitempty"`
}

// BillingAccruedData is the payload for a billing.accrued event.
type BillingAccruedData struct {
	BillingRecordID string          `json:"billing_record_id"`
	MerchantID      string          `json:"merchant_id"`
	Amount          decimal.Decimal `json:"amount"`
	DueDate         string          `json:"due_date"`
}

// StockLowData is the payload for a stock.low event.
type StockLowData struct {
	StockItemID  string `json:"stock_item_id"`
	ProductID    string `json:"product_id"`
	WarehouseID  string `json:"warehouse_id"`
	Available    int    `json:"available"`
	ReorderLevel int    `json:"reorder_level"`
}

// Producer publishes fulfillment domain events. A Producer without a
// publisher only logs what it would have sent.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer. publisher may be nil when Kafka is
// disabled.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: publisher, logger: logger}
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	if p.kafka == nil {
		p.logger.DebugContext(ctx, "event publishing disabled",
			slog.String("event_type", eventType),
			slog.String("aggregate_id", aggregateID),
		)
		return nil
	}

	event, err := pkgkafka.NewEvent(ctx, eventType, aggregateID, aggregateType, SourceFulfillmentService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType+" event",
		slog.String("aggregate_id", aggregateID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// PublishOrderCreated publishes an order.created event.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order, allocations []domain.Allocation) error {
	data := OrderCreatedData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		MerchantID:  order.MerchantID,
		TotalAmount: order.TotalAmount,
		Items:       domain.LinesFromItems(order.Items),
		Allocations: allocations,
	}
	return p.publish(ctx, TopicOrderCreated, "order.created", order.ID, AggregateTypeOrder, data)
}

// PublishOrderStatusChanged publishes an order.status_changed event.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, order *domain.Order, from domain.OrderStatus, notes string) error {
	data := OrderStatusChangedData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		MerchantID:  order.MerchantID,
		OldStatus:   from,
		NewStatus:   order.Status,
		Notes:       notes,
	}
	return p.publish(ctx, TopicOrderStatusChanged, "order.status_changed", order.ID, AggregateTypeOrder, data)
}

// PublishBillingAccrued publishes a billing.accrued event.
func (p *Producer) PublishBillingAccrued(ctx context.Context, rec *domain.BillingRecord) error {
	data := BillingAccruedData{
		BillingRecordID: rec.ID,
		MerchantID:      rec.MerchantID,
		Amount:          rec.Amount,
		DueDate:         rec.DueDate.Format(domain.DateLayout),
	}
	return p.publish(ctx, TopicBillingAccrued, "billing.accrued", rec.ID, AggregateTypeBilling, data)
}

// PublishStockLow publishes a stock.low event.
func (p *Producer) PublishStockLow(ctx context.Context, item *domain.StockItem) error {
	data := StockLowData{
		StockItemID:  item.ID,
		ProductID:    item.ProductID,
		WarehouseID:  item.WarehouseID,
		Available:    item.Available(),
		ReorderLevel: item.ReorderLevel,
	}
	return p.publish(ctx, TopicStockLow, "stock.low", item.ID, AggregateTypeStock, data)
}
