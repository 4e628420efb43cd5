package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	rec := serve(t, New("test"), "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func readiness(t *testing.T, h *Handler) (int, ReadinessResponse) {
	t.Helper()
	rec := serve(t, h, "/health/ready")
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func up(context.Context) error { return nil }

func TestReadiness(t *testing.T) {
	refused := func(context.Context) error { return errors.New("connection refused") }

	t.Run("all checks up", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("postgres", up)
		h.RegisterCheck("redis", up)
		h.RegisterOptionalCheck("kafka", nil)

		code, body := readiness(t, h)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusReady, body.Status)
		assert.Len(t, body.Checks, 2)
		assert.Equal(t, "up", body.Checks["postgres"].Status)
		assert.True(t, body.Checks["postgres"].Critical)
	})

	t.Run("critical check down", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("postgres", up)
		h.RegisterCheck("redis", refused)

		code, body := readiness(t, h)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusNotReady, body.Status)
		assert.Equal(t, "down", body.Checks["redis"].Status)
		assert.Equal(t, "connection refused", body.Checks["redis"].Error)
		assert.Equal(t, "up", body.Checks["postgres"].Status)
	})

	t.Run("optional check down degrades", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("postgres", up)
		h.RegisterOptionalCheck("kafka", refused)

		code, body := readiness(t, h)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusDegraded, body.Status)
		assert.False(t, body.Checks["kafka"].Critical)
	})

	t.Run("critical outranks optional", func(t *testing.T) {
		h := New("test")
		h.RegisterOptionalCheck("kafka", refused)
		h.RegisterCheck("postgres", refused)

		code, body := readiness(t, h)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusNotReady, body.Status)
	})

	t.Run("slow check is cut off", func(t *testing.T) {
		h := New("test")
		h.checkTimeout = 20 * time.Millisecond
		h.RegisterCheck("postgres", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		code, body := readiness(t, h)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["postgres"].Error)
	})
}

func TestStatus(t *testing.T) {
	rec := serve(t, New("staging"), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "staging", body.Environment)
}
