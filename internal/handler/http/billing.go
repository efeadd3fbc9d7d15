package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
)

// BillingHandler handles HTTP requests for billing endpoints.
type BillingHandler struct {
	service *service.BillingService
	logger  *slog.Logger
}

// NewBillingHandler creates a new billing HTTP handler.
func NewBillingHandler(svc *service.BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{service: svc, logger: logger}
}

// AccrueRequest is the JSON request body for a manual accrual run. An empty
// date bills today; no merchant ids bills every merchant with a billable
// subscription.
type AccrueRequest struct {
	Date        string   `json:"date" validate:"omitempty,date"`
	MerchantIDs []string `json:"merchant_ids" validate:"omitempty,max=1000,dive,required"`
}

// AccrueResponse lists the records of an accrual run and the merchants that
// failed.
type AccrueResponse struct {
	Date     string                 `json:"date"`
	Records  []domain.BillingRecord `json:"records"`
	Failures []string               `json:"failures,omitempty"`
}

// Accrue handles POST /api/v1/billing/accruals
func (h *BillingHandler) Accrue(w http.ResponseWriter, r *http.Request) {
	var req AccrueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	date := h.service.Today()
	if req.Date != "" {
		d, err := domain.ParseDate(req.Date)
		if err != nil {
			writeInvalidParam(w, "invalid date: "+req.Date)
			return
		}
		date = d
	}

	records, err := h.service.AccrueDailyCharges(r.Context(), date, req.MerchantIDs, actorID(r))
	if err != nil && len(records) == 0 {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AccrueResponse{
		Date:     date.Format(domain.DateLayout),
		Records:  records,
		Failures: failures(err),
	}})
}

// GetRecord handles GET /api/v1/billing/records/{id}
func (h *BillingHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rec})
}

// ListRecords handles GET /api/v1/billing/records?merchant_id=&from=&to=.
// Both bounds default to today.
func (h *BillingHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := h.dateParam(w, q.Get("from"))
	if !ok {
		return
	}
	to, ok := h.dateParam(w, q.Get("to"))
	if !ok {
		return
	}

	recs, err := h.service.ListRecords(r.Context(), q.Get("merchant_id"), from, to)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: recs})
}

func (h *BillingHandler) dateParam(w http.ResponseWriter, v string) (time.Time, bool) {
	if v == "" {
		return h.service.Today(), true
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		writeInvalidParam(w, "invalid date: "+v)
		return time.Time{}, false
	}
	return d, true
}

// failures flattens a joined accrual error into one message per merchant.
func failures(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return []string{err.Error()}
	}
	errs := joined.Unwrap()
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
