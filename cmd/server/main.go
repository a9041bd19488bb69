/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the staking ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file + environment)
  2. Build the logger
  3. Open the store (sqlite3, postgres, or memory) and run migrations
  4. Load the rate table and start its refresh schedule
  5. Connect notifiers and the rate limiter
  6. Build the ledger service, API handler and router
  7. Start server with graceful shutdown

ENVIRONMENT:
  See config/config.go. JWT_SECRET is required. RABBITMQ_URL and REDIS_URL
  are optional; without them events are logged and rate limits are kept
  in process.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the rate refresher
  4. Close broker, cache and database connections
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/service.go: Ledger operations
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/api"
	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/ledger"
	"github.com/warp/stake-ledger/ledger/store"
	"github.com/warp/stake-ledger/metrics"
	"github.com/warp/stake-ledger/notify"
	"github.com/warp/stake-ledger/store/sqlstore"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := newLogger(cfg)

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer closeStore()

	// Rate table
	rates, err := config.LoadRates(cfg.RatesFile)
	if err != nil {
		log.WithError(err).WithField("file", cfg.RatesFile).Warn("Rate table unavailable, using default rate")
		rates = config.NewRateTable(ledger.DefaultRate, nil)
	}
	refresher := api.NewRateRefresher(rates, cfg.RatesRefreshSchedule, log)
	if err := refresher.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start rate refresher")
	}

	// Notifications
	notifiers := notify.Fanout{notify.NewLog(log)}
	if cfg.RabbitMQURL != "" {
		mq, err := notify.NewRabbitMQ(cfg.RabbitMQURL, cfg.NotifyExchange, log)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable, events will only be logged")
		} else {
			defer mq.Close()
			notifiers = append(notifiers, mq)
		}
	}

	// Rate limiter
	var limiter api.Limiter = api.NewLocalLimiter(cfg.RateLimitPerMinute)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, rate limits are per instance")
		} else {
			limiter = api.NewRedisLimiter(rdb, cfg.RateLimitPrefix, cfg.RateLimitPerMinute)
		}
		cancel()
	}

	m := metrics.New()

	svc := ledger.NewService(ledger.Config{
		Store:    st,
		Clock:    ledger.SystemClock{},
		Rates:    rates,
		Notifier: notifiers,
		Logger:   log,
		Recorder: m,
		Retry: ledger.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Backoff:  ledger.DefaultRetryPolicy.Backoff,
		},
	})

	handler := api.NewHandler(svc, rates, log)
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           api.NewAuthenticator(cfg.JWTSecret, log),
		Limiter:        limiter,
		Metrics:        m,
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins(),
		Scenarios:      cfg.EnableScenarios,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.ServerPort,
			"driver": cfg.DatabaseDriver,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	refresher.Stop()

	log.Info("Server stopped")
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func openStore(cfg config.Config) (ledger.TxStore, func(), error) {
	switch cfg.DatabaseDriver {
	case "memory":
		return store.NewTxMemory(), func() {}, nil
	case sqlstore.DriverSQLite:
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && cfg.DatabaseURL != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}
	s, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}
