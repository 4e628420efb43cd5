package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"framewise/internal/billing/handler/mocks"
	"framewise/internal/billing/metrics"
	"framewise/internal/billing/models"
	"framewise/internal/billing/service"
	"framewise/internal/billing/signature"
	"framewise/internal/billing/store/ledger"
	"framewise/internal/billing/store/subscription"
)

const testSecret = "whsec_test"

var signedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVerifier(t *testing.T) *signature.Verifier {
	t.Helper()
	v, err := signature.NewVerifier([]string{testSecret}, signature.WithClock(func() time.Time { return signedAt }))
	require.NoError(t, err)
	return v
}

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	ctrl     *gomock.Controller
	mockGate *mocks.MockGate
	metrics  *metrics.Metrics
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockGate = mocks.NewMockGate(s.ctrl)
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())

	h := New(newVerifier(s.T()), s.mockGate, discardLogger(), WithMetrics(s.metrics))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) deliver(body, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(body)))
	if header != "" {
		req.Header.Set(signature.HeaderName, header)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) signed(body string) string {
	return signature.Sign([]byte(body), testSecret, signedAt)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *HandlerSuite) TestInvalidSignatureNeverReachesGate() {
	body := `{"id":"evt_1","type":"x"}`
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", signature.Sign([]byte(body), "whsec_other", signedAt)},
		{"stale", signature.Sign([]byte(body), testSecret, signedAt.Add(-301*time.Second))},
		{"garbage", "t=abc"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.deliver(body, tt.header)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal("invalid_signature", decode(s.T(), rec)["error"])
		})
	}
	s.Equal(4.0, testutil.ToFloat64(s.metrics.SignatureFailures))
}

func (s *HandlerSuite) TestSignatureCoversRawBytes() {
	signedBody := `{"id":"evt_1","type":"x"}`
	rec := s.deliver(`{"id": "evt_1", "type": "x"}`, s.signed(signedBody))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestInvalidEnvelope() {
	for _, body := range []string{`not json`, `{"type":"x"}`, `{"id":"evt_1"}`} {
		rec := s.deliver(body, s.signed(body))
		s.Equal(http.StatusBadRequest, rec.Code, body)
		s.Equal("invalid_envelope", decode(s.T(), rec)["error"], body)
	}
}

func (s *HandlerSuite) TestOutcomes() {
	body := `{"id":"evt_1","type":"invoice.paid"}`
	tests := []struct {
		name       string
		outcome    service.Outcome
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{"applied", service.OutcomeApplied, nil, http.StatusOK, map[string]any{"received": true}},
		{"duplicate", service.OutcomeAlreadyHandled, nil, http.StatusOK, map[string]any{"received": true, "idempotent": true}},
		{"processing failed", "", fmt.Errorf("%w: evt_1: %w", service.ErrEventProcessingFailed, errors.New("db")), http.StatusInternalServerError, nil},
		{"ledger down", "", fmt.Errorf("%w: evt_1: %w", service.ErrLedgerUnavailable, errors.New("db")), http.StatusServiceUnavailable, nil},
		{"invalid object", "", fmt.Errorf("%w: evt_1", service.ErrInvalidEnvelope), http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.mockGate.EXPECT().Apply(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, env *models.Envelope) (service.Outcome, error) {
					s.Equal("evt_1", env.ID)
					return tt.outcome, tt.err
				})

			rec := s.deliver(body, s.signed(body))
			s.Equal(tt.wantStatus, rec.Code)
			if tt.wantBody != nil {
				s.Equal(tt.wantBody, decode(s.T(), rec))
			}
		})
	}
}

func (s *HandlerSuite) TestProcessingFailureBody() {
	body := `{"id":"evt_1","type":"invoice.paid"}`
	s.mockGate.EXPECT().Apply(gomock.Any(), gomock.Any()).
		Return(service.Outcome(""), fmt.Errorf("%w: evt_1: %w", service.ErrEventProcessingFailed, errors.New("secret detail")))

	rec := s.deliver(body, s.signed(body))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("event_processing_failed", decode(s.T(), rec)["error"])
	s.NotContains(rec.Body.String(), "secret detail")
}

func (s *HandlerSuite) TestOversizedBody() {
	body := `{"id":"evt_1","type":"x","pad":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	rec := s.deliver(body, s.signed(body))
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

// Exercises the handler with the real gate and in-memory stores.
func TestWebhookEndToEnd(t *testing.T) {
	ctx := context.Background()
	subs := subscription.NewInMemoryStore()
	events := ledger.NewInMemoryStore()
	gate, err := service.NewGate(events, service.NewSubscriptionApplier(subs, discardLogger()),
		service.WithLogger(discardLogger()))
	require.NoError(t, err)

	r := chi.NewRouter()
	New(newVerifier(t), gate, discardLogger()).Register(r)

	deliver := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
		req.Header.Set(signature.HeaderName, signature.Sign([]byte(body), testSecret, signedAt))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	checkout := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","customer":"cus_1","subscription":"sub_1","metadata":{"organizationId":"org_1"}}}}`

	first := deliver(checkout)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"received":true}`, first.Body.String())

	second := deliver(checkout)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"received":true,"idempotent":true}`, second.Body.String())

	rows, err := subs.ListByTenant(ctx, "org_1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SubscriptionActive, rows[0].Status)

	updated := `{"id":"evt_2","type":"customer.subscription.updated","data":{"object":{
		"id":"sub_1","customer":"cus_1","status":"active",
		"items":{"data":[{"price":{"lookup_key":"creator_monthly"}}]}}}}`
	assert.Equal(t, http.StatusOK, deliver(updated).Code)

	sub, err := subs.FindBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanCreator, sub.PlanKey)
	assert.Equal(t, "org_1", sub.TenantID)

	rec, err := events.Find(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, rec.IsProcessed())
}
