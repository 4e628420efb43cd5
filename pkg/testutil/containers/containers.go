//go:build integration

// Package containers starts shared testcontainers fixtures for integration
// tests. Each container is started on first use and reused by every suite in
// the test binary; Ryuk removes them when the process exits.
package containers

import (
	"sync"
	"testing"
)

// fixture starts a container at most once. A failed start is retried by
// the next caller rather than cached.
type fixture[T any] struct {
	mu    sync.Mutex
	value *T
	start func(*testing.T) *T
}

func (f *fixture[T]) get(t *testing.T) *T {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value == nil {
		f.value = f.start(t)
	}
	return f.value
}

type Manager struct {
	postgres fixture[PostgresContainer]
	redis    fixture[RedisContainer]
	kafka    fixture[KafkaContainer]
}

var manager = &Manager{
	postgres: fixture[PostgresContainer]{start: NewPostgresContainer},
	redis:    fixture[RedisContainer]{start: NewRedisContainer},
	kafka:    fixture[KafkaContainer]{start: NewKafkaContainer},
}

func GetManager() *Manager { return manager }

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer { return m.postgres.get(t) }

func (m *Manager) GetRedis(t *testing.T) *RedisContainer { return m.redis.get(t) }

func (m *Manager) GetKafka(t *testing.T) *KafkaContainer { return m.kafka.get(t) }
