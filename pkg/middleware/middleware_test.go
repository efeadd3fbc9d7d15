package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
)

func TestRecovery_ReturnsEnvelope(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"INTERNAL_ERROR","message":"an internal error occurred"}}`, rec.Body.String())
}

func TestRequestLogging_PropagatesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := RequestLogging(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set(HeaderCorrelationID, "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get(HeaderCorrelationID))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.EqualValues(t, http.StatusCreated, line["status"])
}

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequestLogging(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, rec.Header().Get(HeaderCorrelationID), 36)
}

func TestRequestLogger_StoresActor(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ops-1", logger.ActorIDFromContext(r.Context()))
		logger.FromContext(r.Context()).Info("inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "ops-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"actor_id":"ops-1"`)
}
