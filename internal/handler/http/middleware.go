package http

import (
	"net/http"
	"strings"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httputil"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/middleware"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/validator"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CORS adds permissive Cross-Origin Resource Sharing headers for development.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Idempotency-Key, X-Correlation-ID, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actorID returns the caller set by the gateway in X-User-ID.
func actorID(r *http.Request) string {
	if id := logger.ActorIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.HeaderActorID)
}

// decodeBody decodes and validates a JSON body into dst. On failure it writes
// a 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

// writeInvalidParam writes a 400 for a malformed query or path parameter.
func writeInvalidParam(w http.ResponseWriter, msg string) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: msg},
	})
}
