package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/pagination"
)

// StockHandler handles HTTP requests for stock ledger endpoints.
type StockHandler struct {
	ledger *service.Ledger
	logger *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(ledger *service.Ledger, logger *slog.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: logger}
}

// --- Request DTOs ---

// ReceiveRequest is the JSON request body for a goods receipt.
type ReceiveRequest struct {
	ProductID    string  `json:"product_id" validate:"required,uuid"`
	WarehouseID  string  `json:"warehouse_id" validate:"required,max=64"`
	BatchNumber  *string `json:"batch_number" validate:"omitempty,max=64"`
	Quantity     int     `json:"quantity" validate:"gt=0"`
	ReorderLevel int     `json:"reorder_level" validate:"gte=0"`
	ReferenceID  string  `json:"reference_id" validate:"omitempty,max=128"`
	Notes        string  `json:"notes" validate:"omitempty,max=2000"`
}

// AdjustRequest is the JSON request body for a manual stock correction.
type AdjustRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,oneof=ADJUSTMENT DAMAGE RETURN"`
	Notes  string `json:"notes" validate:"omitempty,max=2000"`
}

// TransferRequest is the JSON request body for a warehouse transfer.
type TransferRequest struct {
	ToWarehouseID string `json:"to_warehouse_id" validate:"required,max=64"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	Notes         string `json:"notes" validate:"omitempty,max=2000"`
}

// AvailabilityResponse is the sellable quantity of a product.
type AvailabilityResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

// --- Handlers ---

// GetAvailable handles GET /api/v1/stock/products/{productID}/available
func (h *StockHandler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productID"))
	if !ok {
		return
	}

	n, err := h.ledger.GetAvailable(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AvailabilityResponse{ProductID: productID, Available: n}})
}

// ListStockItems handles GET /api/v1/stock/products/{productID}/items
func (h *StockHandler) ListStockItems(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productID"))
	if !ok {
		return
	}

	items, err := h.ledger.ListStockItems(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: items})
}

// Receive handles POST /api/v1/stock/receipts
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.ledger.Receive(r.Context(), service.ReceiveInput{
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		BatchNumber:  req.BatchNumber,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
		ReferenceID:  req.ReferenceID,
		ActorID:      actorID(r),
		Notes:        req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: item})
}

// GetStockItem handles GET /api/v1/stock/items/{id}
func (h *StockHandler) GetStockItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	item, err := h.ledger.GetStockItem(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: item})
}

// Adjust handles POST /api/v1/stock/items/{id}/adjustments
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req AdjustRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.ledger.Adjust(r.Context(), service.AdjustInput{
		StockItemID: id,
		Delta:       req.Delta,
		Reason:      domain.MovementType(req.Reason),
		ActorID:     actorID(r),
		Notes:       req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: item})
}

// Transfer handles POST /api/v1/stock/items/{id}/transfers
func (h *StockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.ledger.Transfer(r.Context(), service.TransferInput{
		StockItemID:   id,
		ToWarehouseID: req.ToWarehouseID,
		Quantity:      req.Quantity,
		ActorID:       actorID(r),
		Notes:         req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// ListMovements handles GET /api/v1/stock/items/{id}/movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	movements, err := h.ledger.ListMovements(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: movements})
}

// Reconcile handles GET /api/v1/stock/items/{id}/reconciliation
func (h *StockHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	report, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: report})
}

// ListLowStock handles GET /api/v1/stock/low-stock?warehouse_id=&page=&per_page=
func (h *StockHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := domain.LowStockFilter{WarehouseID: r.URL.Query().Get("warehouse_id")}

	items, total, err := h.ledger.ListLowStock(r.Context(), filter, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(items, total, params))
}
