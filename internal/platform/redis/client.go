// Package redis connects the shared admission window backend.
package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"framewise/internal/platform/config"
)

type Client struct {
	*redis.Client
}

// New dials and pings Redis. It returns a nil Client when no URL is
// configured.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Register exposes pool statistics, read at scrape time.
func (c *Client) Register(reg prometheus.Registerer) error {
	return reg.Register(newPoolCollector(c.Client))
}

type poolStatser interface {
	PoolStats() *redis.PoolStats
}

type poolCollector struct {
	src      poolStatser
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	timeouts *prometheus.Desc
	conns    *prometheus.Desc
}

func newPoolCollector(src poolStatser) *poolCollector {
	name := func(n string) string { return prometheus.BuildFQName("framewise", "redis_pool", n) }
	return &poolCollector{
		src:      src,
		hits:     prometheus.NewDesc(name("hits_total"), "Connections found free in the pool.", nil, nil),
		misses:   prometheus.NewDesc(name("misses_total"), "Connections not found free in the pool.", nil, nil),
		timeouts: prometheus.NewDesc(name("timeouts_total"), "Waits for a connection that timed out.", nil, nil),
		conns:    prometheus.NewDesc(name("conns"), "Pool connections by state.", []string{"state"}, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.conns
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.PoolStats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.TotalConns-s.IdleConns), "in_use")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.StaleConns), "stale")
}
