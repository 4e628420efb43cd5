package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "framewise/pkg/domain-errors"
)

type plainRequest struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type preparedRequest struct {
	Name       string `json:"name"`
	normalized bool
}

func (r *preparedRequest) Normalize() {
	r.normalized = true
}

func (r *preparedRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type domainValidated struct {
	Name string `json:"name"`
}

func (r *domainValidated) Normalize() {}

func (r *domainValidated) Validate() error {
	return dErrors.New(dErrors.CodeInvariantViolation, "max must be positive")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid body", `{"name":"a","value":3}`, false},
		{"malformed", `{`, true},
		{"trailing value", `{"name":"a"}{"name":"b"}`, true},
		{"oversized", `{"name":"` + strings.Repeat("a", MaxRequestBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSON[plainRequest](httptest.NewRecorder(), post(tt.body))
			if tt.wantErr {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", got.Name)
			assert.Equal(t, 3, got.Value)
		})
	}
}

func TestBind(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and validates", func(t *testing.T) {
		got, ok := Bind[preparedRequest](ctx, httptest.NewRecorder(), post(`{"name":"x"}`), discardLogger())
		require.True(t, ok)
		assert.True(t, got.normalized)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, ok := Bind[preparedRequest](ctx, rec, post(`nope`), discardLogger())
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("plain validation error becomes validation_failed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, ok := Bind[preparedRequest](ctx, rec, post(`{}`), discardLogger())
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(dErrors.CodeValidation), body.Error)
		assert.Equal(t, "name is required", body.Description)
	})

	t.Run("domain validation error keeps its code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, ok := Bind[domainValidated](ctx, rec, post(`{"name":"x"}`), discardLogger())
		assert.False(t, ok)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(dErrors.CodeInvariantViolation), body.Error)
	})
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeInvalidSignature: http.StatusBadRequest,
		dErrors.CodeProcessingFailed: http.StatusInternalServerError,
		dErrors.CodeUnavailable:      http.StatusServiceUnavailable,
		dErrors.CodeAuditUnavailable: http.StatusServiceUnavailable,
		dErrors.CodeRateLimited:      http.StatusTooManyRequests,
		dErrors.CodeUnauthorized:     http.StatusUnauthorized,
	}
	for code, status := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(code, ""))
		assert.Equal(t, status, rec.Code, "code %s", code)
	}

	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("opaque"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRetryableCodesMapTo5xx(t *testing.T) {
	for code := range statusByCode {
		status := DomainCodeToHTTPStatus(code)
		if code.Retryable() {
			assert.GreaterOrEqual(t, status, 500, "code %s", code)
		} else {
			assert.Less(t, status, 500, "code %s", code)
		}
	}
	assert.Equal(t, http.StatusInternalServerError, DomainCodeToHTTPStatus(dErrors.CodeProcessingFailed))
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, dErrors.New(dErrors.CodeInvalidEnvelope, "missing id"))
	assert.JSONEq(t, `{"error":"invalid_envelope","error_description":"missing id"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("pq: relation does not exist"))
	assert.JSONEq(t, `{"error":"internal_error"}`, rec.Body.String())
}
