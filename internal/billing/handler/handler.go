package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"framewise/internal/billing/metrics"
	"framewise/internal/billing/models"
	"framewise/internal/billing/service"
	"framewise/internal/billing/signature"
	"framewise/internal/platform/tracer"
	dErrors "framewise/pkg/domain-errors"
	"framewise/pkg/platform/httputil"
	"framewise/pkg/requestcontext"
)

// MaxBodyBytes bounds webhook payloads. Provider events are far smaller.
const MaxBodyBytes = 1 << 20

// Verifier checks the signature header against the raw body.
type Verifier interface {
	Verify(rawBody []byte, header string) bool
}

type Gate interface {
	Apply(ctx context.Context, env *models.Envelope) (service.Outcome, error)
}

// Handler receives billing provider webhooks.
type Handler struct {
	verifier Verifier
	gate     Gate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(h *Handler) {
		h.tracer = t
	}
}

func New(verifier Verifier, gate Gate, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		verifier: verifier,
		gate:     gate,
		logger:   logger,
		tracer:   tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/billing", h.HandleWebhook)
}

// HandleWebhook implements POST /webhooks/billing.
//
// The signature is checked against the exact bytes received before any
// parsing. Status codes follow the provider's retry contract: 2xx stops
// redelivery, 4xx is permanent, 5xx is retried.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload_too_large"})
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body"))
		return
	}

	if !h.verify(ctx, body, r.Header.Get(signature.HeaderName)) {
		h.logger.WarnContext(ctx, "billing_signature_invalid",
			"request_id", requestID,
			"has_header", r.Header.Get(signature.HeaderName) != "",
		)
		if h.metrics != nil {
			h.metrics.IncSignatureFailure()
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidSignature, ""))
		return
	}

	env, err := models.ParseEnvelope(body)
	if err != nil {
		h.logger.WarnContext(ctx, "billing_envelope_invalid",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	outcome, err := h.gate.Apply(ctx, env)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.WebhookAck{
		Received:   true,
		Idempotent: outcome == service.OutcomeAlreadyHandled,
	})
}

func (h *Handler) verify(ctx context.Context, body []byte, header string) bool {
	_, span := h.tracer.Start(ctx, tracer.SpanWebhookVerify)
	ok := h.verifier.Verify(body, header)
	span.SetAttributes(tracer.Bool(tracer.AttrSignatureValid, ok))
	span.End(nil)
	return ok
}
