package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
)

// BulkHandler handles HTTP requests for bulk operations.
type BulkHandler struct {
	executor *service.BulkExecutor
	logger   *slog.Logger
}

// NewBulkHandler creates a new bulk HTTP handler.
func NewBulkHandler(executor *service.BulkExecutor, logger *slog.Logger) *BulkHandler {
	return &BulkHandler{executor: executor, logger: logger}
}

// BulkRequest is the JSON request body of a bulk operation. The shape of
// data depends on the action.
type BulkRequest struct {
	Action string          `json:"action" validate:"required"`
	IDs    []string        `json:"ids" validate:"required,min=1"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Execute handles POST /api/v1/bulk/{entity}. Per-item failures are part of
// a 200 response; only a rejected request fails as a whole.
func (h *BulkHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.executor.Execute(r.Context(), domain.BulkRequest{
		EntityType: chi.URLParam(r, "entity"),
		Action:     req.Action,
		IDs:        req.IDs,
		Data:       req.Data,
		ActorID:    actorID(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}
