// Command server runs the agentcore control plane: agent run lifecycle and
// streaming, credit/billing, and Stripe webhook ingestion behind one HTTP
// API, the way the teacher's cmd/server ran its GraphQL control plane.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/auth"
	"github.com/volaticloud/agentcore/internal/broker"
	"github.com/volaticloud/agentcore/internal/circuitbreaker"
	"github.com/volaticloud/agentcore/internal/config"
	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/httpapi"
	"github.com/volaticloud/agentcore/internal/logger"
	"github.com/volaticloud/agentcore/internal/monitor"
	"github.com/volaticloud/agentcore/internal/reconcile"
	"github.com/volaticloud/agentcore/internal/runs"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/stream"
	"github.com/volaticloud/agentcore/internal/stripeapi"
	"github.com/volaticloud/agentcore/internal/webhook"
)

func main() {
	app := &cli.App{
		Name:    "agentcore",
		Usage:   "Agentcore control plane - agent run lifecycle, billing, and webhook ingestion",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "Start the control plane server",
				Flags:  config.Flags(),
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Flags:  config.Flags(),
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.NewProductionLogger().Fatal("fatal", zap.Error(err))
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	log := logger.NewProductionLogger()
	defer log.Sync()

	log.Info("running migrations")
	if err := s.Migrate(context.Background()); err != nil {
		return err
	}
	log.Info("migrations complete")
	return nil
}

func runServer(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	log := logger.NewLoggerFromEnv()
	defer log.Sync()
	ctx := logger.WithLogger(context.Background(), log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	s, err := store.Open(cfg.DatabaseURL, store.WithQueryLog(logger.SQLAdapter(log)))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	bk := broker.NewRedisBroker(redisClient)

	monitorManager, err := monitor.NewManager(monitor.Config{
		EtcdEndpoints:     cfg.EtcdEndpoints,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LeaseTTL:          cfg.LeaseTTL,
	})
	if err != nil {
		return fmt.Errorf("create monitor manager: %w", err)
	}
	if err := monitorManager.Start(ctx); err != nil {
		return fmt.Errorf("start monitor manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monitorManager.Stop(shutdownCtx); err != nil {
			log.Warn("error stopping monitor manager", zap.Error(err))
		}
	}()

	var breakerStore breakerStateStore
	if monitorManager.IsDistributed() {
		breakerStore = monitorManager.EtcdClient()
	} else {
		breakerStore = newMemStateStore()
	}
	breaker := circuitbreaker.New(breakerStore, circuitbreaker.Config{Name: "stripe"})

	stripe.Key = cfg.StripeSecretKey
	stripeClient := stripeapi.New(breaker)

	cm := credit.New(s)
	workQueue := runs.NewRedisWorkQueue(redisClient)
	runsSvc := runs.New(s, cm, bk, workQueue, monitorManager.GetInstanceID(), cfg.MaxConcurrentRunsPerInstance, cfg.RunResponseTTL)
	streamSvc := stream.New(s, bk)
	webhookSvc := webhook.New(s, cm, stripeClient, bk, cfg.StripeWebhookSecret)

	var verifier *auth.OIDCVerifier
	if cfg.OIDCIssuer != "" {
		verifier, err = auth.InitOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL: cfg.OIDCIssuer,
			Audience:  cfg.OIDCAudience,
		})
		if err != nil {
			return fmt.Errorf("init oidc verifier: %w", err)
		}
	} else {
		log.Warn("AGENTCORE_OIDC_ISSUER not set, running with auth disabled (local dev only)")
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:   s,
		Credits: cm,
		Runs:    runsSvc,
		Stream:  streamSvc,
		Webhook: webhookSvc,
		Stripe:  stripeClient,
		Auth:    verifier,
		CORSOrigins: []string{
			"http://localhost:5173", "http://localhost:5174", "http://localhost:3000",
		},
	})

	reconciler := reconcile.New(s)
	reconciler.SetInterval(cfg.ReconcileInterval)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("agentcore control plane starting",
		zap.String("addr", cfg.Addr()),
		zap.Bool("distributed", monitorManager.IsDistributed()),
		zap.String("instance_id", monitorManager.GetInstanceID()),
	)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// breakerStateStore is the subset of etcd.Client (or the in-memory fallback
// below) a circuitbreaker.CircuitBreaker needs.
type breakerStateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// memStateStore is the single-instance fallback for circuitbreaker state
// when no etcd endpoints are configured: the breaker still needs somewhere
// to persist its trip state across calls, it just doesn't need that state
// shared across instances.
type memStateStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemStateStore() *memStateStore {
	return &memStateStore{vals: make(map[string]string)}
}

func (m *memStateStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStateStore) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}
