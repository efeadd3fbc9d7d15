package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
)

// ProductHandler handles HTTP requests for catalog endpoints.
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{service: svc, logger: logger}
}

// CreateProductRequest is the JSON request body for a new product.
type CreateProductRequest struct {
	MerchantID string `json:"merchant_id" validate:"required,max=64"`
	SKU        string `json:"sku" validate:"required,sku"`
	Name       string `json:"name" validate:"required,max=255"`
	UnitPrice  string `json:"unit_price" validate:"required,money"`
	IsActive   *bool  `json:"is_active"`
}

// UpdatePriceRequest is the JSON request body for a price change.
type UpdatePriceRequest struct {
	UnitPrice string `json:"unit_price" validate:"required,money"`
}

// CreateProduct handles POST /api/v1/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), service.CreateProductInput{
		MerchantID: req.MerchantID,
		SKU:        req.SKU,
		Name:       req.Name,
		UnitPrice:  decimal.RequireFromString(req.UnitPrice),
		Inactive:   req.IsActive != nil && !*req.IsActive,
		ActorID:    actorID(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: p})
}

// GetProduct handles GET /api/v1/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: p})
}

// UpdatePrice handles PUT /api/v1/products/{id}/price
func (h *ProductHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdatePriceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.UpdatePrice(r.Context(), id, decimal.RequireFromString(req.UnitPrice), actorID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: p})
}

// DeleteProduct handles DELETE /api/v1/products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id, actorID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
