package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	billinghandler "framewise/internal/billing/handler"
	billingmetrics "framewise/internal/billing/metrics"
	billingservice "framewise/internal/billing/service"
	"framewise/internal/billing/signature"
	"framewise/internal/billing/store/ledger"
	"framewise/internal/billing/store/subscription"
	"framewise/internal/platform/config"
	"framewise/internal/platform/database"
	"framewise/internal/platform/health"
	"framewise/internal/platform/kafka/producer"
	"framewise/internal/platform/logger"
	platformMW "framewise/internal/platform/middleware"
	"framewise/internal/platform/redis"
	"framewise/internal/platform/tracer"
	ratelimitconfig "framewise/internal/ratelimit/config"
	ratelimitmetrics "framewise/internal/ratelimit/metrics"
	ratelimitservice "framewise/internal/ratelimit/service"
	"framewise/internal/ratelimit/store/window"
	"framewise/internal/ratelimit/workers/sweeper"
	httptransport "framewise/internal/transport/http"
	"framewise/migrations"
	"framewise/pkg/platform/audit"
	outboxmetrics "framewise/pkg/platform/audit/outbox/metrics"
	outboxpostgres "framewise/pkg/platform/audit/outbox/store/postgres"
	outboxworker "framewise/pkg/platform/audit/outbox/worker"
	auditpublisher "framewise/pkg/platform/audit/publisher"
	auditmemory "framewise/pkg/platform/audit/store/memory"
	auditpostgres "framewise/pkg/platform/audit/store/postgres"
	"framewise/pkg/platform/circuit"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// infra holds the optional backing services. Each field is nil when its
// connection URL is not configured.
type infra struct {
	db       *database.Pool
	redis    *redis.Client
	producer *producer.Producer
}

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing framewise",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"rate_limit_backend", string(cfg.RateLimit.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connect(cfg, log)
	if err != nil {
		log.Error("failed to connect backing services", "error", err)
		os.Exit(1)
	}
	defer deps.close(log)

	if err := run(ctx, cfg, deps, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func connect(cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{}
	var err error

	if deps.db, err = database.New(cfg.Database); err != nil {
		return nil, err
	}
	if deps.db != nil {
		log.Info("postgres connected")
		if cfg.Database.AutoMigrate {
			applied, err := migrations.Up(context.Background(), deps.db.DB())
			if err != nil {
				deps.close(log)
				return nil, err
			}
			log.Info("migrations applied", "applied", applied)
		}
	}

	if deps.redis, err = redis.New(cfg.Redis); err != nil {
		deps.close(log)
		return nil, err
	}
	if deps.redis != nil {
		log.Info("redis connected")
	}

	if deps.producer, err = producer.New(cfg.Kafka, log); err != nil {
		deps.close(log)
		return nil, err
	}
	if deps.producer != nil {
		log.Info("kafka producer created", "brokers", cfg.Kafka.Brokers)
	}
	return deps, nil
}

func (d *infra) close(log *slog.Logger) {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			log.Warn("failed to close kafka producer", "error", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if err := d.db.Close(); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

func run(ctx context.Context, cfg config.Server, deps *infra, log *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	admissionTracer := tracer.NewOTel(tracer.ScopeAdmission)
	billingTracer := tracer.NewOTel(tracer.ScopeBilling)

	healthHandler := health.New(cfg.Environment)

	limiter, err := buildLimiter(gctx, g, cfg, deps, healthHandler, admissionTracer, log)
	if err != nil {
		return err
	}

	auditor := buildAuditor(gctx, g, cfg, deps, log)

	webhook, billingQuery, err := buildBilling(cfg, deps, auditor, billingTracer, log)
	if err != nil {
		return err
	}

	if deps.db != nil {
		healthHandler.RegisterCheck("postgres", deps.db.Health)
		if err := deps.db.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("database pool stats not exported", "error", err)
		}
	}
	if deps.redis != nil {
		// Admission falls back to local windows without Redis.
		healthHandler.RegisterOptionalCheck("redis", deps.redis.Health)
		if err := deps.redis.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("redis pool stats not exported", "error", err)
		}
	}
	if deps.producer != nil {
		// Audit entries wait in the outbox while the broker is away.
		healthHandler.RegisterOptionalCheck("kafka", deps.producer.Health)
	}

	routes := httptransport.Routes{
		Health:         healthHandler,
		Limiter:        limiter,
		Webhook:        webhook,
		BillingQuery:   billingQuery,
		Auditor:        auditor,
		HTTPMetrics:    platformMW.NewHTTPMetrics(),
		Metrics:        promhttp.Handler(),
		RequestTimeout: requestTimeout,
	}
	if cfg.InternalJWTSecret != "" {
		routes.ServiceTokens = platformMW.NewHS256Validator(cfg.InternalJWTSecret)
	}
	r := httptransport.NewRouter(routes, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildLimiter selects the window store for the configured backend. Shared
// backends are wrapped so an outage degrades to per-instance counting.
func buildLimiter(ctx context.Context, g *errgroup.Group, cfg config.Server, deps *infra, hc *health.Handler, trc tracer.Tracer, log *slog.Logger) (*ratelimitservice.Limiter, error) {
	policies, err := ratelimitconfig.LoadPolicies(cfg.RateLimit.PoliciesFile)
	if err != nil {
		return nil, err
	}

	m := ratelimitmetrics.New()
	local := window.NewInMemoryStore(window.WithMaxKeys(cfg.RateLimit.MaxKeys))
	sweepers := []sweeper.Store{local}

	var store ratelimitservice.WindowStore = local
	var primary window.Store
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		if deps.redis == nil {
			return nil, errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
		primary = window.NewRedisStore(deps.redis.Client)
	case config.BackendPostgres:
		if deps.db == nil {
			return nil, errors.New("RATE_LIMIT_BACKEND=postgres requires DATABASE_URL")
		}
		pg := window.NewPostgresStore(deps.db.DB())
		primary = pg
		sweepers = append(sweepers, pg)
	case config.BackendMemory:
	default:
		return nil, errors.New("unknown RATE_LIMIT_BACKEND " + string(cfg.RateLimit.Backend))
	}
	if primary != nil {
		breaker := circuit.New("ratelimit-" + string(cfg.RateLimit.Backend))
		store = window.NewFallbackStore(primary, local, breaker,
			window.WithFallbackLogger(log),
			window.WithStateHook(m.SetDegraded),
		)
		hc.RegisterOptionalCheck(breaker.Name(), func(context.Context) error {
			if breaker.State() == circuit.StateOpen {
				return errors.New("circuit open, admitting from local windows")
			}
			return nil
		})
	}

	for _, s := range sweepers {
		sw := sweeper.New(s,
			sweeper.WithLogger(log),
			sweeper.WithInterval(cfg.RateLimit.SweepInterval),
			sweeper.WithMetrics(m),
		)
		g.Go(func() error {
			if err := sw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return ratelimitservice.New(store, policies,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithMetrics(m),
		ratelimitservice.WithTracer(trc),
	)
}

// buildAuditor persists audit events to Postgres with an outbox relay to Kafka
// when both are configured, and keeps them in memory otherwise.
func buildAuditor(ctx context.Context, g *errgroup.Group, cfg config.Server, deps *infra, log *slog.Logger) *auditpublisher.Publisher {
	if deps.db == nil {
		return auditpublisher.NewPublisher(auditmemory.NewInMemoryStore(),
			auditpublisher.WithPublisherLogger(log))
	}

	var store audit.Store = auditpostgres.New(deps.db.DB())
	if deps.producer != nil {
		w := outboxworker.New(outboxpostgres.New(deps.db.DB()), deps.producer,
			outboxworker.WithTopic(cfg.Kafka.AuditTopic),
			outboxworker.WithMaxAttempts(cfg.Kafka.OutboxMaxAttempts),
			outboxworker.WithMetrics(outboxmetrics.New()),
			outboxworker.WithLogger(log),
		)
		g.Go(func() error {
			return w.Run(ctx)
		})
	} else {
		log.Warn("KAFKA_BROKERS not set; audit outbox entries are not relayed")
	}
	return auditpublisher.NewPublisher(store, auditpublisher.WithPublisherLogger(log))
}

// subscriptionStore is what both the applier and the read API need.
type subscriptionStore interface {
	billingservice.SubscriptionStore
	billinghandler.SubscriptionReader
}

// buildBilling returns the webhook handler, nil when no signing secret is
// configured, and the read API over the same stores.
func buildBilling(cfg config.Server, deps *infra, auditor audit.Emitter, trc tracer.Tracer, log *slog.Logger) (*billinghandler.Handler, *billinghandler.QueryHandler, error) {
	var (
		events        billingservice.EventLedger
		subscriptions subscriptionStore
	)
	if deps.db != nil {
		events = ledger.NewPostgresStore(deps.db.DB())
		subscriptions = subscription.NewPostgresStore(deps.db.DB())
	} else {
		events = ledger.NewInMemoryStore()
		subscriptions = subscription.NewInMemoryStore()
	}
	query := billinghandler.NewQueryHandler(subscriptions, events, log)

	if len(cfg.Billing.WebhookSecrets) == 0 {
		log.Warn("BILLING_WEBHOOK_SECRETS not set; billing webhook is not mounted")
		return nil, query, nil
	}
	verifier, err := signature.NewVerifier(cfg.Billing.WebhookSecrets,
		signature.WithTolerance(cfg.Billing.SignatureMaxSkew))
	if err != nil {
		return nil, nil, err
	}

	m := billingmetrics.New()
	opts := []billingservice.Option{
		billingservice.WithLogger(log),
		billingservice.WithMetrics(m),
		billingservice.WithTracer(trc),
		billingservice.WithAuditor(auditor),
	}
	if deps.db != nil {
		opts = append(opts, billingservice.WithStoreTx(newBillingPostgresTx(deps.db.DB())))
	}

	gate, err := billingservice.NewGate(events,
		billingservice.NewSubscriptionApplier(subscriptions, log), opts...)
	if err != nil {
		return nil, nil, err
	}
	return billinghandler.New(verifier, gate, log,
		billinghandler.WithMetrics(m),
		billinghandler.WithTracer(trc),
	), query, nil
}
