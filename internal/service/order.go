package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

// Warehouse reassignment policies.
// maxOrderNumberAttempts bounds the draws when a number is already taken.
const maxOrderNumberAttempts = 5

const (
	ReassignRecordOnly = "record_only"
	ReassignReallocate = "reallocate"
)

// CreateOrderItem is one requested line. A nil UnitPrice takes the product's
// current price.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice *decimal.Decimal
}

// CreateOrderInput holds everything needed to place an order.
type CreateOrderInput struct {
	MerchantID      string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	Items           []CreateOrderItem
	DeliveryFee     decimal.Decimal
	PaymentMethod   string
	Notes           string
	// WarehouseID, when set, fulfils the whole order from one warehouse.
	WarehouseID    string
	IdempotencyKey string
	ActorID        string
}

// CreateOrderResult is a placed order and where its stock came from.
// Replayed is set when the idempotency key matched an earlier order.
type CreateOrderResult struct {
	Order       *domain.Order       `json:"order"`
	Allocations []domain.Allocation `json:"allocations"`
	Replayed    bool                `json:"replayed"`
}

// OrderService drives orders through their lifecycle.
type OrderService struct {
	store     repository.Store
	allocator *Allocator
	sequence  repository.OrderNumberSequence
	events    EventPublisher
	audit     AuditSink
	logger    *slog.Logger
	policy    string
	now       Clock
}

// NewOrderService creates an order service. policy is ReassignRecordOnly or
// ReassignReallocate.
func NewOrderService(
	store repository.Store,
	allocator *Allocator,
	sequence repository.OrderNumberSequence,
	events EventPublisher,
	audit AuditSink,
	logger *slog.Logger,
	policy string,
) *OrderService {
	if policy == "" {
		policy = ReassignRecordOnly
	}
	return &OrderService{
		store:     store,
		allocator: allocator,
		sequence:  sequence,
		events:    events,
		audit:     audit,
		logger:    logger,
		policy:    policy,
		now:       utcNow,
	}
}

// CreateOrder validates the input, reserves stock for every line and stores
// the order in one transaction. Nothing is stored when any line cannot be
// covered.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (res *CreateOrderResult, err error) {
	ctx, span := tracing.Start(ctx, "OrderService.CreateOrder")
	defer func() { tracing.EndSpan(span, err) }()

	if err := validateCreateOrder(in); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if res, err := s.replay(ctx, in.MerchantID, in.IdempotencyKey); res != nil || err != nil {
			return res, err
		}
	}

	order, err := s.buildOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	var out *allocation
	for attempt := 1; ; attempt++ {
		out, err = s.insertOrder(ctx, order, in)
		if err == nil || attempt == maxOrderNumberAttempts || !isOrderNumberTaken(err) {
			break
		}
		// The counter restarted, for example after Redis lost the day's key.
		s.logger.WarnContext(ctx, "order number already taken, drawing another",
			slog.String("order_number", order.OrderNumber),
			slog.Int("attempt", attempt),
		)
		if err = s.assignOrderNumber(ctx, order); err != nil {
			return nil, err
		}
	}
	if err != nil {
		// A concurrent request with the same key won the insert.
		if in.IdempotencyKey != "" && errors.Is(err, apperrors.ErrAlreadyExists) {
			if res, rerr := s.replay(ctx, in.MerchantID, in.IdempotencyKey); res != nil {
				return res, nil
			} else if rerr != nil {
				return nil, rerr
			}
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	ordersCreatedTotal.Inc()
	s.allocator.ledger.notifyLow(ctx, out.touched)
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    in.ActorID,
		Action:     domain.ActionOrderCreated,
		EntityType: domain.EntityOrder,
		EntityID:   order.ID,
		NewValues: map[string]any{
			"order_number": order.OrderNumber,
			"merchant_id":  order.MerchantID,
			"status":       order.Status,
			"total_amount": order.TotalAmount.String(),
			"allocations":  len(out.result.Allocations),
		},
	})
	if err := s.events.PublishOrderCreated(ctx, order, out.result.Allocations); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("merchant_id", order.MerchantID),
		slog.Int("allocations", len(out.result.Allocations)),
	)

	return &CreateOrderResult{Order: order, Allocations: out.result.Allocations}, nil
}

// replay returns the order an earlier request with the same key created, or
// nil when the key is unused.
func (s *OrderService) replay(ctx context.Context, merchantID, key string) (*CreateOrderResult, error) {
	existing, err := s.store.Orders().GetByIdempotencyKey(ctx, merchantID, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	allocations, err := s.allocator.Allocations(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order creation replayed",
		slog.String("order_id", existing.ID),
		slog.String("idempotency_key", key),
	)
	return &CreateOrderResult{Order: existing, Allocations: allocations, Replayed: true}, nil
}

func validateCreateOrder(in CreateOrderInput) error {
	if in.MerchantID == "" {
		return apperrors.InvalidInput("merchant_id is required")
	}
	if in.CustomerName == "" {
		return apperrors.InvalidInput("customer_name is required")
	}
	if len(in.Items) == 0 {
		return apperrors.InvalidInput("order must contain at least one item")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if it.Quantity <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if it.UnitPrice != nil && it.UnitPrice.IsNegative() {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].unit_price must be non-negative", i))
		}
	}
	if in.DeliveryFee.IsNegative() {
		return apperrors.InvalidInput("delivery_fee must be non-negative")
	}
	return nil
}

// insertOrder stores the order with its history row and allocates its stock
// in one transaction.
func (s *OrderService) insertOrder(ctx context.Context, order *domain.Order, in CreateOrderInput) (*allocation, error) {
	var out *allocation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Orders().CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.Orders().InsertHistory(ctx, &domain.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			Status:    domain.OrderStatusPending,
			UpdatedBy: in.ActorID,
			Notes:     "order created",
			CreatedAt: order.CreatedAt,
		}); err != nil {
			return err
		}
		var err error
		out, err = s.allocator.allocate(ctx, tx, order.ID, domain.LinesFromItems(order.Items), in.WarehouseID, in.ActorID)
		return err
	})
	return out, err
}

func isOrderNumberTaken(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && errors.Is(err, apperrors.ErrAlreadyExists) &&
		appErr.Details["field"] == "order_number"
}

// buildOrder checks every product and assembles the PENDING order with its
// number and totals.
func (s *OrderService) buildOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	now := s.now()
	order := &domain.Order{
		ID:              uuid.New().String(),
		MerchantID:      in.MerchantID,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   in.CustomerPhone,
		ShippingAddress: in.ShippingAddress,
		DeliveryFee:     in.DeliveryFee,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.WarehouseID != "" {
		wh := in.WarehouseID
		order.WarehouseID = &wh
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		order.IdempotencyKey = &key
	}

	products := make(map[string]*domain.Product, len(in.Items))
	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			var err error
			p, err = s.store.Products().GetProduct(ctx, it.ProductID)
			if err != nil {
				return nil, fmt.Errorf("create order: %w", err)
			}
			if !p.IsActive {
				return nil, apperrors.InvalidInput(fmt.Sprintf("product %s is not active", p.ID))
			}
			if p.MerchantID != in.MerchantID {
				return nil, apperrors.InvalidInput(fmt.Sprintf("product %s does not belong to merchant %s", p.ID, in.MerchantID))
			}
			products[it.ProductID] = p
		}

		price := p.UnitPrice
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		})
	}
	order.CalculateTotals()

	if err := s.assignOrderNumber(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// assignOrderNumber draws the next number of the order's creation day.
func (s *OrderService) assignOrderNumber(ctx context.Context, order *domain.Order) error {
	seq, err := s.sequence.Next(ctx, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("generate order number: %w", err)
	}
	order.OrderNumber = fmt.Sprintf("ORD-%s-%06d", order.CreatedAt.Format("20060102"), seq)
	return nil
}

// Transition moves an order to status. A rejected move writes nothing.
func (s *OrderService) Transition(ctx context.Context, orderID string, status domain.OrderStatus, actorID, notes string) (order *domain.Order, err error) {
	ctx, span := tracing.Start(ctx, "OrderService.Transition")
	defer func() { tracing.EndSpan(span, err) }()

	if !status.IsValid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid order status %q", status))
	}

	var from domain.OrderStatus
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if !from.CanTransitionTo(status) {
			return apperrors.InvalidTransition(string(from), string(status))
		}

		switch {
		case status == domain.OrderStatusCancelled && from.HoldsReservations():
			if _, err := s.allocator.ReleaseTx(ctx, tx, o.ID, domain.RefOrderCancelled, actorID); err != nil {
				return err
			}
		case status == domain.OrderStatusShipped:
			if _, err := s.allocator.ConsumeTx(ctx, tx, o.ID, actorID); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.Orders().UpdateStatus(ctx, o.ID, status, now); err != nil {
			return err
		}
		if err := tx.Orders().InsertHistory(ctx, &domain.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Status:    status,
			UpdatedBy: actorID,
			Notes:     notes,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transition order %s: %w", orderID, err)
	}

	orderTransitionsTotal.WithLabelValues(string(from), string(status)).Inc()
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionOrderStatusChanged,
		EntityType: domain.EntityOrder,
		EntityID:   order.ID,
		OldValues:  map[string]any{"status": from},
		NewValues:  map[string]any{"status": status, "notes": notes},
	})
	if err := s.events.PublishOrderStatusChanged(ctx, order, from, notes); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", order.ID),
		slog.String("from", string(from)),
		slog.String("to", string(status)),
	)
	return order, nil
}

// AssignWarehouse points an order at a warehouse. Under the reallocate policy
// the reservations move to that warehouse too, or nothing changes. Orders at
// or past PICKED cannot be reassigned.
func (s *OrderService) AssignWarehouse(ctx context.Context, orderID, warehouseID, actorID string) (order *domain.Order, err error) {
	ctx, span := tracing.Start(ctx, "OrderService.AssignWarehouse")
	defer func() { tracing.EndSpan(span, err) }()

	if warehouseID == "" {
		return nil, apperrors.InvalidInput("warehouse_id is required")
	}

	var previous string
	var out *allocation
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.HoldsReservations() {
			return apperrors.InvalidTransition(string(o.Status), "WAREHOUSE_REASSIGNED")
		}
		if o.WarehouseID != nil {
			previous = *o.WarehouseID
		}
		if previous == warehouseID {
			order = o
			return nil
		}

		if s.policy == ReassignReallocate {
			out, err = s.allocator.reallocate(ctx, tx, o, warehouseID, actorID)
			if err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.Orders().UpdateWarehouse(ctx, o.ID, warehouseID, now); err != nil {
			return err
		}
		o.WarehouseID = &warehouseID
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign warehouse to order %s: %w", orderID, err)
	}
	if previous == warehouseID {
		return order, nil
	}

	newValues := map[string]any{"warehouse_id": warehouseID, "policy": s.policy}
	if out != nil {
		newValues["allocations"] = len(out.result.Allocations)
		s.allocator.ledger.notifyLow(ctx, out.touched)
	}
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionOrderWarehouse,
		EntityType: domain.EntityOrder,
		EntityID:   order.ID,
		OldValues:  map[string]any{"warehouse_id": previous},
		NewValues:  newValues,
	})
	s.logger.InfoContext(ctx, "order warehouse assigned",
		slog.String("order_id", order.ID),
		slog.String("warehouse_id", warehouseID),
		slog.String("policy", s.policy),
	)
	return order, nil
}

// GetOrder returns an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.store.Orders().GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrders returns one page of orders, without items.
func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter, page pagination.Params) ([]domain.Order, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid order status %q", filter.Status))
	}
	orders, total, err := s.store.Orders().ListOrders(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// History returns the status history of an order, oldest first.
func (s *OrderService) History(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if _, err := s.store.Orders().GetOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	h, err := s.store.Orders().ListHistory(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	return h, nil
}

// Allocations returns the stock provenance of an order.
func (s *OrderService) Allocations(ctx context.Context, orderID string) ([]domain.Allocation, error) {
	if _, err := s.store.Orders().GetOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("order allocations: %w", err)
	}
	return s.allocator.Allocations(ctx, orderID)
}
