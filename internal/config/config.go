// Package config centralizes the typed settings the control plane needs,
// built from urfave/cli flags the same way the teacher's cmd/server bound
// flags directly to local variables, but collected into one struct so every
// service constructor takes a single Config instead of a long argument list.
package config

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// Config holds every externally-tunable setting the server needs to start.
type Config struct {
	Host string
	Port int

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EtcdEndpoints     []string
	MonitorInterval   time.Duration
	HeartbeatInterval time.Duration
	LeaseTTL          int64

	StripeSecretKey     string
	StripeWebhookSecret string

	OIDCIssuer   string
	OIDCAudience string

	MaxConcurrentRunsPerInstance int
	RunResponseTTL               time.Duration

	ReconcileInterval time.Duration
}

// Flags returns the urfave/cli flag set the server and migrate commands
// share, each bound to an AGENTCORE_-prefixed environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "0.0.0.0", EnvVars: []string{"AGENTCORE_HOST"}},
		&cli.IntFlag{Name: "port", Value: 8080, EnvVars: []string{"AGENTCORE_PORT"}},
		&cli.StringFlag{Name: "database", Usage: "postgres connection string", EnvVars: []string{"AGENTCORE_DATABASE"}},
		&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", EnvVars: []string{"AGENTCORE_REDIS_ADDR"}},
		&cli.StringFlag{Name: "redis-password", EnvVars: []string{"AGENTCORE_REDIS_PASSWORD"}},
		&cli.IntFlag{Name: "redis-db", Value: 0, EnvVars: []string{"AGENTCORE_REDIS_DB"}},
		&cli.StringSliceFlag{Name: "etcd-endpoints", Usage: "comma-separated etcd endpoints; empty runs single-instance", EnvVars: []string{"AGENTCORE_ETCD_ENDPOINTS"}},
		&cli.DurationFlag{Name: "monitor-interval", Value: 30 * time.Second, EnvVars: []string{"AGENTCORE_MONITOR_INTERVAL"}},
		&cli.DurationFlag{Name: "heartbeat-interval", Value: 10 * time.Second, EnvVars: []string{"AGENTCORE_HEARTBEAT_INTERVAL"}},
		&cli.Int64Flag{Name: "lease-ttl", Value: 15, EnvVars: []string{"AGENTCORE_LEASE_TTL"}},
		&cli.StringFlag{Name: "stripe-secret-key", EnvVars: []string{"AGENTCORE_STRIPE_SECRET_KEY"}},
		&cli.StringFlag{Name: "stripe-webhook-secret", EnvVars: []string{"AGENTCORE_STRIPE_WEBHOOK_SECRET"}},
		&cli.StringFlag{Name: "oidc-issuer", EnvVars: []string{"AGENTCORE_OIDC_ISSUER"}},
		&cli.StringFlag{Name: "oidc-audience", EnvVars: []string{"AGENTCORE_OIDC_AUDIENCE"}},
		&cli.IntFlag{Name: "max-concurrent-runs", Value: 50, EnvVars: []string{"AGENTCORE_MAX_CONCURRENT_RUNS"}},
		&cli.DurationFlag{Name: "run-response-ttl", Value: 24 * time.Hour, EnvVars: []string{"AGENTCORE_RUN_RESPONSE_TTL"}},
		&cli.DurationFlag{Name: "reconcile-interval", Value: 5 * time.Minute, EnvVars: []string{"AGENTCORE_RECONCILE_INTERVAL"}},
	}
}

// FromContext builds a Config from a populated cli.Context.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		Host:                         c.String("host"),
		Port:                         c.Int("port"),
		DatabaseURL:                  c.String("database"),
		RedisAddr:                    c.String("redis-addr"),
		RedisPassword:                c.String("redis-password"),
		RedisDB:                      c.Int("redis-db"),
		EtcdEndpoints:                c.StringSlice("etcd-endpoints"),
		MonitorInterval:              c.Duration("monitor-interval"),
		HeartbeatInterval:            c.Duration("heartbeat-interval"),
		LeaseTTL:                     c.Int64("lease-ttl"),
		StripeSecretKey:              c.String("stripe-secret-key"),
		StripeWebhookSecret:          c.String("stripe-webhook-secret"),
		OIDCIssuer:                   c.String("oidc-issuer"),
		OIDCAudience:                 c.String("oidc-audience"),
		MaxConcurrentRunsPerInstance: c.Int("max-concurrent-runs"),
		RunResponseTTL:               c.Duration("run-response-ttl"),
		ReconcileInterval:            c.Duration("reconcile-interval"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: database connection string is required")
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("config: stripe secret key is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return Config{}, fmt.Errorf("config: stripe webhook secret is required")
	}
	return cfg, nil
}

// Addr returns the host:port pair the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Distributed reports whether etcd coordination is configured.
func (c Config) Distributed() bool {
	return len(c.EtcdEndpoints) > 0
}
