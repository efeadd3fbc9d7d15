package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

// HeaderIdempotencyKey makes order creation safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateOrderRequest is the JSON request body for placing an order.
type CreateOrderRequest struct {
	MerchantID      string             `json:"merchant_id" validate:"required,max=64"`
	CustomerName    string             `json:"customer_name" validate:"required,max=255"`
	CustomerEmail   string             `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone   string             `json:"customer_phone" validate:"omitempty,max=32"`
	ShippingAddress string             `json:"shipping_address" validate:"omitempty,max=1024"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryFee     string             `json:"delivery_fee" validate:"omitempty,money"`
	PaymentMethod   string             `json:"payment_method" validate:"omitempty,max=64"`
	Notes           string             `json:"notes" validate:"omitempty,max=2000"`
	WarehouseID     string             `json:"warehouse_id" validate:"omitempty,max=64"`
}

// OrderItemRequest is one requested order line. An empty unit_price takes
// the product's current price.
type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	UnitPrice string `json:"unit_price" validate:"omitempty,money"`
}

// UpdateStatusRequest is the JSON request body for an order transition.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"omitempty,max=2000"`
}

// AssignWarehouseRequest is the JSON request body for a warehouse change.
type AssignWarehouseRequest struct {
	WarehouseID string `json:"warehouse_id" validate:"required,max=64"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := service.CreateOrderInput{
		MerchantID:      req.MerchantID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		WarehouseID:     req.WarehouseID,
		IdempotencyKey:  r.Header.Get(HeaderIdempotencyKey),
		ActorID:         actorID(r),
	}
	// money-tagged fields are already known to parse.
	if req.DeliveryFee != "" {
		in.DeliveryFee = decimal.RequireFromString(req.DeliveryFee)
	}
	in.Items = make([]service.CreateOrderItem, len(req.Items))
	for i, item := range req.Items {
		in.Items[i] = service.CreateOrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.UnitPrice != "" {
			price := decimal.RequireFromString(item.UnitPrice)
			in.Items[i].UnitPrice = &price
		}
	}

	res, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: res})
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders?merchant_id=&status=&page=&per_page=
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		MerchantID: q.Get("merchant_id"),
		Status:     domain.OrderStatus(q.Get("status")),
	}
	params := pagination.FromRequest(r)

	orders, total, err := h.service.ListOrders(r.Context(), filter, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(orders, total, params))
}

// UpdateStatus handles PATCH /api/v1/orders/{id}/status
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.service.Transition(r.Context(), id, domain.OrderStatus(req.Status), actorID(r), req.Notes)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// AssignWarehouse handles PUT /api/v1/orders/{id}/warehouse
func (h *OrderHandler) AssignWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req AssignWarehouseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.service.AssignWarehouse(r.Context(), id, req.WarehouseID, actorID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// History handles GET /api/v1/orders/{id}/history
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	history, err := h.service.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: history})
}

// Allocations handles GET /api/v1/orders/{id}/allocations
func (h *OrderHandler) Allocations(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	allocations, err := h.service.Allocations(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: allocations})
}
