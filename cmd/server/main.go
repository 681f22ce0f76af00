package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/lozlokesh-lgtm/taxi/internal/config"
	"github.com/lozlokesh-lgtm/taxi/internal/estimate"
	"github.com/lozlokesh-lgtm/taxi/internal/events"
	httpapi "github.com/lozlokesh-lgtm/taxi/internal/http"
	"github.com/lozlokesh-lgtm/taxi/internal/llm"
	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/replies"
	"github.com/lozlokesh-lgtm/taxi/internal/router"
	"github.com/lozlokesh-lgtm/taxi/internal/sim"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
	"github.com/lozlokesh-lgtm/taxi/internal/stream"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		slog.Error("env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()
	store := storage.NewMemoryStore()
	if cfg.SeedDemoTrips {
		if err := sim.Seed(store, clock.Now()); err != nil {
			return err
		}
	}

	var (
		cache estimate.Cache = estimate.NewMemoryCache(cfg.EstimateCacheTTL, clock)
		ready func(context.Context) error
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		cache = estimate.NewRedisCache(rdb, cfg.EstimateCacheTTL)
		ready = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("estimate cache on redis", "addr", cfg.RedisAddr)
	}

	// Left nil on failure so the gateways degrade instead of calling a nil client.
	var completer llm.Completer
	if gc, err := llm.New(ctx, llm.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, Timeout: cfg.AITimeout}); err != nil {
		logger.Warn("ai gateways disabled", "error", err)
	} else {
		completer = gc
	}

	var publisher events.Publisher = events.LogPublisher{Logger: logging.Component(logger, "events")}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing trip events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	// Sessions and arrivals publish through one queue so a slow broker never
	// holds up an intent and events keep their order.
	queue := events.NewQueue(publisher, 1024, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			logger.Warn("trip events left unpublished", "error", err)
		}
	}()
	publisher = queue

	sessions := router.NewRegistry(router.Deps{
		Store:            store,
		Estimator:        estimate.NewGateway(completer, cache, logger),
		Replies:          replies.NewGateway(completer, logger),
		Publisher:        publisher,
		Clock:            clock,
		Logger:           logger,
		CallConnectDelay: cfg.CallConnectDelay,
		Context:          ctx,
	}, cfg.SessionIdleTTL)
	go sessions.RunJanitor(ctx, time.Minute)

	if cfg.ArrivalsEnabled {
		arrivals := sim.NewArrivals(store, clock, cfg.ArrivalInterval, cfg.ArrivalProbability, cfg.ArrivalMaxTrips)
		arrivals.Publisher = publisher
		arrivals.Logger = logging.Component(logger, "sim")
		go arrivals.Run(ctx)
	}

	api := httpapi.NewServer(sessions, store, stream.NewHub(clock, cfg.ViewRefreshInterval, logger), logger)
	api.Ready = ready

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tealcab listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
