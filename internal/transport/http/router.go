package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	billinghandler "framewise/internal/billing/handler"
	"framewise/internal/platform/health"
	platformMW "framewise/internal/platform/middleware"
	ratelimithandler "framewise/internal/ratelimit/handler"
	ratelimitMW "framewise/internal/ratelimit/middleware"
	"framewise/internal/ratelimit/models"
	ratelimitservice "framewise/internal/ratelimit/service"
	audit "framewise/pkg/platform/audit"
)

const defaultRequestTimeout = 15 * time.Second

// Routes are the handlers the router mounts. A nil optional field leaves its
// routes unmounted.
type Routes struct {
	Health  *health.Handler
	Limiter *ratelimitservice.Limiter

	// Webhook serves POST /webhooks/billing. Optional.
	Webhook *billinghandler.Handler
	// BillingQuery serves the internal billing reads. Optional.
	BillingQuery *billinghandler.QueryHandler
	// ServiceTokens guards the internal API. Without it the admission and
	// billing read APIs are not mounted.
	ServiceTokens platformMW.TokenValidator
	Auditor       audit.Emitter

	HTTPMetrics    *platformMW.HTTPMetrics
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// NewRouter wires every endpoint with the shared middleware stack.
func NewRouter(routes Routes, logger *slog.Logger) http.Handler {
	timeout := routes.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(platformMW.Recovery(logger))
	r.Use(platformMW.RequestID)
	r.Use(platformMW.RequestTime)
	r.Use(platformMW.ClientMetadata)
	r.Use(platformMW.Logger(logger))
	if routes.HTTPMetrics != nil {
		r.Use(routes.HTTPMetrics.Instrument)
	}
	r.Use(platformMW.Timeout(timeout))

	routes.Health.Register(r)
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}

	admit := ratelimitMW.New(routes.Limiter, logger)

	if routes.Webhook != nil {
		r.Group(func(r chi.Router) {
			r.Use(admit.Admit(models.ClassWebhookBilling))
			routes.Webhook.Register(r)
		})
	}

	if routes.ServiceTokens == nil {
		logger.Warn("service token validator not configured; internal API is not mounted")
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(platformMW.RequireServiceToken(routes.ServiceTokens, logger))

		opts := []ratelimithandler.Option{
			ratelimithandler.WithResetAdmission(
				admit.Admit(models.ClassAdmissionReset, ratelimitMW.JSONField("identity")),
			),
		}
		if routes.Auditor != nil {
			opts = append(opts, ratelimithandler.WithAuditor(routes.Auditor))
		}
		ratelimithandler.New(routes.Limiter, logger, opts...).Register(r)

		if routes.BillingQuery != nil {
			routes.BillingQuery.Register(r,
				admit.Admit(models.ClassReadBillingTenant, ratelimitMW.URLParam("tenantID")),
			)
		}
	})
	return r
}
