package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	platformMW "framewise/internal/platform/middleware"
	"framewise/internal/platform/privacy"
	"framewise/internal/ratelimit/config"
	"framewise/internal/ratelimit/middleware"
	"framewise/internal/ratelimit/models"
	"framewise/internal/ratelimit/service"
	audit "framewise/pkg/platform/audit"
	"framewise/pkg/platform/httputil"
	"framewise/pkg/requestcontext"
)

// maxBodyBytes bounds admission API request bodies.
const maxBodyBytes = 16 << 10

const auditActionReset = "admission_window_reset"

type Service interface {
	Admit(ctx context.Context, class models.OperationClass, identity string, discriminator ...string) (*service.Decision, error)
	AdmitWith(ctx context.Context, class models.OperationClass, policy config.Policy, identity string, discriminator ...string) (*service.Decision, error)
	Reset(ctx context.Context, class models.OperationClass, identity string, discriminator ...string) (string, error)
}

// Handler serves the internal admission API used by edge services that
// cannot link the limiter directly.
type Handler struct {
	service        Service
	logger         *slog.Logger
	auditor        audit.Emitter
	resetAdmission []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithAuditor records operator resets.
func WithAuditor(a audit.Emitter) Option {
	return func(h *Handler) {
		h.auditor = a
	}
}

// WithResetAdmission budgets the reset route, which clears windows and so
// must not be callable without bound.
func WithResetAdmission(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.resetAdmission = append(h.resetAdmission, mw...)
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/admission/check", h.HandleCheck)
	r.With(h.resetAdmission...).Post("/v1/admission/reset", h.HandleReset)
}

// HandleCheck implements POST /v1/admission/check.
// Input: { "operation": "write:invite", "identity": "203.0.113.5", "discriminator": "a@example.com" }
// Output: 200 with the admission result, or 429 with the rejection body.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	req, ok := httputil.Bind[models.CheckRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	class, err := models.ParseOperationClass(req.Operation)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var decision *service.Decision
	if req.HasOverride() {
		decision, err = h.service.AdmitWith(ctx, class, config.Policy{Max: req.Max, Window: req.Window()}, req.Identity, req.Discriminator)
	} else {
		decision, err = h.service.Admit(ctx, class, req.Identity, req.Discriminator)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "admission check failed",
			"error", err,
			"class", class.String(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	middleware.AddHeaders(w, &decision.AdmissionResult)
	if !decision.Allowed {
		middleware.WriteRateLimited(w, &decision.AdmissionResult)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CheckResponse{
		Key:             decision.Key,
		AdmissionResult: decision.AdmissionResult,
	})
}

// HandleReset implements POST /v1/admission/reset.
// Input: { "operation": "auth:login", "identity": "203.0.113.5" }
// Output: { "key": "auth:login:203.0.113.5", "reset": true }
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	req, ok := httputil.Bind[models.ResetRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	class, err := models.ParseOperationClass(req.Operation)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	key, err := h.service.Reset(ctx, class, req.Identity, req.Discriminator)
	if err != nil {
		h.logger.ErrorContext(ctx, "admission reset failed",
			"error", err,
			"class", class.String(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	caller := platformMW.GetService(ctx)
	h.logger.InfoContext(ctx, "admission window reset",
		"class", class.String(),
		"ip_prefix", privacy.AnonymizeIP(req.Identity),
		"service", caller,
		"request_id", requestID,
	)
	if h.auditor != nil {
		// The window is already cleared; a failed audit write must not turn
		// the reset into an error the caller would retry.
		if err := h.auditor.Emit(ctx, audit.Event{
			Action:  auditActionReset,
			Actor:   caller,
			Subject: class.String(),
			Reason:  privacy.AnonymizeIP(req.Identity),
			Outcome: "reset",
		}); err != nil {
			h.logger.WarnContext(ctx, "admission reset audit failed", "error", err, "request_id", requestID)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, models.ResetResponse{Key: key, Reset: true})
}
