package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	return cfg
}

func TestGet_PropagatesCorrelationID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := logger.WithCorrelationID(context.Background(), "corr-42")
	resp, err := New(fastConfig()).Get(ctx, srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "corr-42", got)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"503 is retried", http.StatusServiceUnavailable, 3},
		{"501 is not retried", http.StatusNotImplemented, 1},
		{"404 is not retried", http.StatusNotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			resp, err := New(fastConfig()).Get(context.Background(), srv.URL)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestAddJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := addJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), addJitter(0))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(errors.New("plain")))
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 0
	cbCfg := DefaultCircuitBreakerConfig("subscriptions-test")
	cbCfg.MinRequests = 2
	cb := NewCircuitBreakerClient(New(cfg), cbCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		_, err := cb.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cbCfg := DefaultCircuitBreakerConfig("subscriptions-4xx")
	cbCfg.MinRequests = 1
	cb := NewCircuitBreakerClient(New(fastConfig()), cbCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 3; i++ {
		resp, err := cb.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func makeResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "structured not found", status: http.StatusNotFound,
			body:  `{"error":{"code":"NOT_FOUND","message":"merchant m-1"}}`,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, apperrors.ErrNotFound) },
		},
		{
			name: "structured bad request", status: http.StatusBadRequest,
			body:  `{"error":{"code":"INVALID_INPUT","message":"bad date"}}`,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, apperrors.ErrInvalidInput) },
		},
		{
			name: "unavailable is retryable", status: http.StatusServiceUnavailable,
			body:  `{"error":{"code":"UNAVAILABLE","message":"draining"}}`,
			check: func(t *testing.T, err error) { assert.True(t, apperrors.IsRetryable(err)) },
		},
		{
			name: "unstructured body", status: http.StatusBadGateway,
			body:  `<html>bad gateway</html>`,
			check: func(t *testing.T, err error) { assert.Contains(t, err.Error(), "status 502") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(makeResponse(tt.status, tt.body), "subscriptions")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
