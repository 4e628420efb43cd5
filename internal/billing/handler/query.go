package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"framewise/internal/billing/models"
	dErrors "framewise/pkg/domain-errors"
	"framewise/pkg/platform/httputil"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/requestcontext"
)

const maxIDLength = 255

type SubscriptionReader interface {
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Subscription, error)
}

type EventReader interface {
	Find(ctx context.Context, id string) (*models.EventRecord, error)
}

// QueryHandler serves read-only billing state to internal services: a
// tenant's subscriptions and the ledger status of a provider event.
type QueryHandler struct {
	subscriptions SubscriptionReader
	events        EventReader
	logger        *slog.Logger
}

func NewQueryHandler(subscriptions SubscriptionReader, events EventReader, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		subscriptions: subscriptions,
		events:        events,
		logger:        logger,
	}
}

// Register mounts the routes. tenantAdmission wraps the per-tenant listing.
func (h *QueryHandler) Register(r chi.Router, tenantAdmission ...func(http.Handler) http.Handler) {
	r.With(tenantAdmission...).Get("/v1/billing/tenants/{tenantID}/subscriptions", h.HandleListSubscriptions)
	r.Get("/v1/billing/events/{eventID}", h.HandleGetEvent)
}

// HandleListSubscriptions implements GET /v1/billing/tenants/{tenantID}/subscriptions.
func (h *QueryHandler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" || len(tenantID) > maxIDLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid tenant id"))
		return
	}

	subs, err := h.subscriptions.ListByTenant(ctx, tenantID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list subscriptions failed",
			"error", err,
			"tenant_id", tenantID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "subscription store unavailable"))
		return
	}

	resp := models.SubscriptionListResponse{
		TenantID:      tenantID,
		Subscriptions: make([]models.SubscriptionResponse, 0, len(subs)),
	}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toSubscriptionResponse(sub))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleGetEvent implements GET /v1/billing/events/{eventID}.
func (h *QueryHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" || len(eventID) > maxIDLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid event id"))
		return
	}

	rec, err := h.events.Find(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "event not seen"))
			return
		}
		h.logger.ErrorContext(ctx, "find billing event failed",
			"error", err,
			"event_id", eventID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "event ledger unavailable"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.EventRecordResponse{
		EventID:     rec.ExternalEventID,
		EventType:   rec.EventType,
		TenantID:    rec.TenantID,
		Status:      rec.Status(),
		ProcessedAt: rec.ProcessedAt,
		CreatedAt:   rec.CreatedAt,
	})
}

func toSubscriptionResponse(sub *models.Subscription) models.SubscriptionResponse {
	return models.SubscriptionResponse{
		SubscriptionID:   sub.SubscriptionID,
		CustomerID:       sub.CustomerID,
		TenantID:         sub.TenantID,
		PlanKey:          sub.PlanKey,
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        sub.UpdatedAt,
	}
}
