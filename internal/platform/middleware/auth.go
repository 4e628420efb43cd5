package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"framewise/pkg/requestcontext"
)

// ServiceAudience is the audience every internal service token must carry.
const ServiceAudience = "framewise-edge"

// TokenValidator defines the interface for validating service tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*ServiceClaims, error)
}

// ServiceClaims are the claims carried by tokens minted for internal callers
// such as the CMS edge.
type ServiceClaims struct {
	Service string `json:"svc"`
	jwt.RegisteredClaims
}

type contextKeyService struct{}

// ContextKeyService is exported for use in handlers
var ContextKeyService = contextKeyService{}

// GetService retrieves the authenticated calling service from the context
func GetService(ctx context.Context) string {
	service, ok := ctx.Value(ContextKeyService).(string)
	if !ok {
		return ""
	}
	return service
}

// HS256Validator validates HMAC-signed service tokens.
type HS256Validator struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

func NewHS256Validator(secret string) *HS256Validator {
	return &HS256Validator{
		secret:   []byte(secret),
		audience: ServiceAudience,
		leeway:   30 * time.Second,
	}
}

func (v *HS256Validator) ValidateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("parse service token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("service token invalid")
	}
	return claims, nil
}

// IssueServiceToken mints a token accepted by HS256Validator. Used by
// operators and tests.
func IssueServiceToken(secret, service string, ttl time.Duration, now time.Time) (string, error) {
	claims := ServiceClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			Audience:  jwt.ClaimStrings{ServiceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireServiceToken rejects requests without a valid bearer service token.
func RequireServiceToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(ctx, w, logger, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(ctx, w, logger, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, ContextKeyService, claims.Service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, err := fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, description)
	if err != nil {
		logger.ErrorContext(ctx, "failed to write unauthorized response",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
