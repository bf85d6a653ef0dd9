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

	httpadapter "github.com/couchcryptid/storm-impact-alerts/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-impact-alerts/internal/adapter/kafka"
	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/postgres"
	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/push"
	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/sms"
	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/smtp"
	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/impact"
	"github.com/couchcryptid/storm-impact-alerts/internal/observability"
	"github.com/couchcryptid/storm-impact-alerts/internal/pipeline"
	"github.com/couchcryptid/storm-impact-alerts/internal/ratelimit"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	repCacheSize = 1000
	repCacheTTL  = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	store := postgres.NewStore(pool)

	// Rate limiter backend (RATE_LIMIT_BACKEND=postgres|redis).
	var limitStore ratelimit.Store
	switch cfg.RateLimitBackend {
	case config.RateLimitRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limitStore = ratelimit.NewRedisStore(rdb, cfg.RateLimitWindow)
	default:
		limitStore = postgres.NewRateLimitStore(pool)
	}
	logger.Info("sms rate limiter configured", "backend", cfg.RateLimitBackend, "window", cfg.RateLimitWindow)
	limiter := ratelimit.New(limitStore, cfg.RateLimitWindow, clock, logger, metrics)

	senders := make(map[domain.Channel]dispatch.Sender)
	if cfg.SMS.Enabled() {
		senders[domain.ChannelSMS] = sms.NewClient(cfg.SMS, logger)
	}
	if cfg.SMTP.Enabled() {
		senders[domain.ChannelEmail] = smtp.NewSender(cfg.SMTP, logger)
	}
	if cfg.Push.Enabled() {
		senders[domain.ChannelPush] = push.NewClient(cfg.Push, logger)
	}
	for _, ch := range []domain.Channel{domain.ChannelSMS, domain.ChannelEmail, domain.ChannelPush} {
		_, ok := senders[ch]
		logger.Info("notification channel", "channel", ch, "enabled", ok)
	}

	ledger := impact.NewLedger(store, domain.DefaultSeverityPolicy(), clock, logger)
	dispatcher := dispatch.New(dispatch.Config{
		Ledger:     ledger,
		Properties: store,
		Reps:       dispatch.NewCachedDirectory(store, repCacheSize, repCacheTTL, clock),
		Limiter:    limiter,
		Senders:    senders,
		Region:     cfg.SMS.DefaultRegion,
		Clock:      clock,
		Logger:     logger,
		Metrics:    metrics,
	})

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Matcher:      impact.NewMatcher(store, logger),
		Ledger:       ledger,
		Dispatcher:   dispatcher,
		Runs:         store,
		Publisher:    writer,
		SendInterval: cfg.SMS.SendInterval,
		Clock:        clock,
		Logger:       logger,
		Metrics:      metrics,
	})

	p := pipeline.New(reader, orchestrator, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness{p, store}, ledger, dispatcher, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start monitoring pipeline.
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	// A batch in flight runs to completion; the reader, writer and pool must
	// outlive it.
	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// readiness is ready when every check passes.
type readiness []httpadapter.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
