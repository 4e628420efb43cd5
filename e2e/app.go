package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	billinghandler "framewise/internal/billing/handler"
	billingmetrics "framewise/internal/billing/metrics"
	"framewise/internal/billing/models"
	billingservice "framewise/internal/billing/service"
	"framewise/internal/billing/signature"
	"framewise/internal/billing/store/ledger"
	"framewise/internal/billing/store/subscription"
	"framewise/internal/platform/health"
	platformMW "framewise/internal/platform/middleware"
	ratelimitmetrics "framewise/internal/ratelimit/metrics"
	ratelimitservice "framewise/internal/ratelimit/service"
	"framewise/internal/ratelimit/store/window"
	httptransport "framewise/internal/transport/http"
	auditpublisher "framewise/pkg/platform/audit/publisher"
	auditmemory "framewise/pkg/platform/audit/store/memory"
)

const (
	webhookSecret = "whsec_e2e"
	serviceSecret = "e2e-internal-secret"
	serviceName   = "cms"
)

// clock is the time seen by admission windows and signature checks.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errSubscriptionStoreDown = errors.New("subscription store unavailable")

// flakySubscriptions fails every Save while failing is set.
type flakySubscriptions struct {
	*subscription.InMemoryStore
	failing atomic.Bool
}

func (s *flakySubscriptions) Save(ctx context.Context, sub *models.Subscription) error {
	if s.failing.Load() {
		return errSubscriptionStoreDown
	}
	return s.InMemoryStore.Save(ctx, sub)
}

// app is the framewise router on in-memory stores, served over a real
// listener. Every scenario gets its own.
type app struct {
	server        *httptest.Server
	clock         *clock
	subscriptions *flakySubscriptions
	audit         *auditmemory.InMemoryStore
}

func startApp() (*app, error) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	limiter, err := ratelimitservice.New(window.NewInMemoryStore(window.WithClock(clk.Now)), nil,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithMetrics(ratelimitmetrics.NewWithRegistry(reg)),
	)
	if err != nil {
		return nil, err
	}

	verifier, err := signature.NewVerifier([]string{webhookSecret}, signature.WithClock(clk.Now))
	if err != nil {
		return nil, err
	}

	events := ledger.NewInMemoryStore()
	subs := &flakySubscriptions{InMemoryStore: subscription.NewInMemoryStore()}
	auditStore := auditmemory.NewInMemoryStore()
	auditor := auditpublisher.NewPublisher(auditStore, auditpublisher.WithPublisherLogger(log))
	billing := billingmetrics.NewWithRegistry(reg)

	gate, err := billingservice.NewGate(events, billingservice.NewSubscriptionApplier(subs, log),
		billingservice.WithLogger(log),
		billingservice.WithMetrics(billing),
		billingservice.WithAuditor(auditor),
	)
	if err != nil {
		return nil, err
	}

	router := httptransport.NewRouter(httptransport.Routes{
		Health:        health.New("e2e"),
		Limiter:       limiter,
		Webhook:       billinghandler.New(verifier, gate, log, billinghandler.WithMetrics(billing)),
		BillingQuery:  billinghandler.NewQueryHandler(subs, events, log),
		ServiceTokens: platformMW.NewHS256Validator(serviceSecret),
		Auditor:       auditor,
		HTTPMetrics:   platformMW.NewHTTPMetricsWithRegistry(reg),
	}, log)

	return &app{
		server:        httptest.NewServer(router),
		clock:         clk,
		subscriptions: subs,
		audit:         auditStore,
	}, nil
}

func (a *app) close() {
	a.server.Close()
}
