package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"framewise/internal/platform/privacy"
	"framewise/internal/ratelimit/models"
	"framewise/internal/ratelimit/service"
	"framewise/pkg/platform/httputil"
	"framewise/pkg/requestcontext"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderStatus     = "X-RateLimit-Status"
	HeaderRetryAfter = "Retry-After"

	// maxPeekBytes bounds how much of a request body a discriminator may read.
	maxPeekBytes = 64 << 10
)

type Limiter interface {
	Admit(ctx context.Context, class models.OperationClass, identity string, discriminator ...string) (*service.Decision, error)
}

// Discriminator extracts an optional per-resource key segment from a request.
// An empty result means the request is counted per caller only.
type Discriminator func(r *http.Request) string

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// Admit enforces class's budget for the calling client. Requests are keyed by
// the identity ClientMetadata resolved, plus each discriminator's value.
// A store failure lets the request through.
func (m *Middleware) Admit(class models.OperationClass, discriminators ...Discriminator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := requestcontext.ClientIP(ctx)

			parts := make([]string, 0, len(discriminators))
			for _, d := range discriminators {
				parts = append(parts, d(r))
			}

			decision, err := m.limiter.Admit(ctx, class, identity, parts...)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate_limit_check_failed",
					"class", class.String(),
					"error", err,
					"ip_prefix", privacy.AnonymizeIP(identity),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, &decision.AdmissionResult)
			if !decision.Allowed {
				WriteRateLimited(w, &decision.AdmissionResult)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// URLParam discriminates by a chi route parameter.
func URLParam(name string) Discriminator {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// JSONField discriminates by a top-level string field of a JSON body, such as
// the invited email address. The body is restored for the next handler.
// Values are lowercased so case variants share a budget.
func JSONField(field string) Discriminator {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
		rest := r.Body
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), rest), rest}
		if err != nil {
			return ""
		}

		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return ""
		}
		var value string
		if err := json.Unmarshal(body[field], &value); err != nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.AdmissionResult) {
	if result == nil {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set(HeaderStatus, "degraded")
	}
}

// WriteRateLimited writes the 429 rejection with its Retry-After header.
func WriteRateLimited(w http.ResponseWriter, result *models.AdmissionResult) {
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(result.RetryAfterSec))
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.NewRateLimitedResponse(*result))
}

// AddHeaders sets the X-RateLimit-* headers for result.
func AddHeaders(w http.ResponseWriter, result *models.AdmissionResult) {
	addRateLimitHeaders(w, result)
}
