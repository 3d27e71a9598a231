package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebridge/features/health"
)

type stubPinger struct{ err error }

func (s *stubPinger) PingContext(context.Context) error { return s.err }

type stubRetrieval struct{ err error }

func (s *stubRetrieval) Healthy(context.Context) error { return s.err }

type stubFilter struct{ healthy bool }

func (s *stubFilter) Healthy() bool { return s.healthy }

func TestHandler_Live(t *testing.T) {
	handler := health.NewHandler(&stubPinger{}, &stubRetrieval{}, &stubFilter{healthy: true})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handler.Live(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rr.Body.String())
}

func TestHandler_Ready(t *testing.T) {
	t.Run("AllHealthy", func(t *testing.T) {
		handler := health.NewHandler(&stubPinger{}, &stubRetrieval{}, &stubFilter{healthy: true})

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		handler.Ready(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Components["database"])
		assert.Equal(t, "ok", resp.Components["retrieval"])
		assert.Equal(t, "ok", resp.Components["safety_filter"])
	})

	t.Run("DatabaseDown", func(t *testing.T) {
		handler := health.NewHandler(
			&stubPinger{err: errors.New("connection refused")},
			&stubRetrieval{},
			&stubFilter{healthy: true},
		)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		handler.Ready(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var resp struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "connection refused", resp.Components["database"])
		assert.Equal(t, "ok", resp.Components["retrieval"])
	})

	t.Run("RetrievalDown", func(t *testing.T) {
		handler := health.NewHandler(
			&stubPinger{},
			&stubRetrieval{err: errors.New("embedding provider failure")},
			&stubFilter{healthy: true},
		)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		handler.Ready(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "embedding provider failure")
	})

	t.Run("FilterSelfTestFails", func(t *testing.T) {
		handler := health.NewHandler(&stubPinger{}, &stubRetrieval{}, &stubFilter{healthy: false})

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		handler.Ready(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "self-test failed")
	})
}
