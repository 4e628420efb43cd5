package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitBackend selects where admission windows are counted.
type RateLimitBackend string

const (
	BackendMemory   RateLimitBackend = "memory"
	BackendRedis    RateLimitBackend = "redis"
	BackendPostgres RateLimitBackend = "postgres"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string

	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig

	// InternalJWTSecret signs service tokens presented to /v1/admission/check.
	InternalJWTSecret string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    string
	AuditTopic string
	Acks       string
	Retries    int
	// OutboxMaxAttempts parks an audit outbox entry after this many failed
	// publishes. Zero retries forever.
	OutboxMaxAttempts int
}

type BillingConfig struct {
	// WebhookSecrets holds every accepted signing secret; more than one is
	// configured while a rotation is in progress.
	WebhookSecrets   []string
	SignatureMaxSkew time.Duration
	MaxBodyBytes     int64
}

type RateLimitConfig struct {
	Backend       RateLimitBackend
	PoliciesFile  string
	MaxKeys       int
	SweepInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() Server {
	_ = godotenv.Load() // optional; missing file is not an error for us

	return Server{
		Addr:        getEnv("FRAMEWISE_ADDR", ":8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:    os.Getenv("KAFKA_BROKERS"),
			AuditTopic: getEnv("AUDIT_TOPIC", "framewise.audit.events"),
			Acks:       getEnv("KAFKA_ACKS", "all"),
			Retries:    getEnvInt("KAFKA_RETRIES", 3),

			OutboxMaxAttempts: getEnvInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
		Billing: BillingConfig{
			WebhookSecrets:   splitList(os.Getenv("BILLING_WEBHOOK_SECRETS")),
			SignatureMaxSkew: getEnvDuration("BILLING_SIGNATURE_TOLERANCE", 300*time.Second),
			MaxBodyBytes:     int64(getEnvInt("BILLING_WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			Backend:       RateLimitBackend(strings.ToLower(getEnv("RATE_LIMIT_BACKEND", string(BackendMemory)))),
			PoliciesFile:  os.Getenv("RATE_LIMIT_POLICIES_FILE"),
			MaxKeys:       getEnvInt("RATE_LIMIT_MAX_KEYS", 100_000),
			SweepInterval: getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		InternalJWTSecret: os.Getenv("INTERNAL_JWT_SECRET"),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
