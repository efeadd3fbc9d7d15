package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveReadiness(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(context.Context) error { return nil })
	h.RegisterNonCritical("kafka", func(context.Context) error { return nil })

	code, resp := serveReadiness(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.True(t, resp.Checks["postgres"].Critical)
	assert.False(t, resp.Checks["kafka"].Critical)
}

func TestReadinessHandler_CriticalDown(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(context.Context) error { return errors.New("connection refused") })
	h.RegisterNonCritical("redis", func(context.Context) error { return nil })

	code, resp := serveReadiness(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["postgres"].Error)
}

func TestReadinessHandler_NonCriticalDownIsDegraded(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(context.Context) error { return nil })
	h.RegisterNonCritical("kafka", func(context.Context) error { return errors.New("no brokers") })

	code, resp := serveReadiness(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDown, resp.Checks["kafka"].Status)
}

func TestReadinessHandler_NoCheckers(t *testing.T) {
	code, resp := serveReadiness(t, NewHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
}
