// Package main is the trading engine's composition root: it loads
// configuration, opens the Persistence Store, builds the Credentials
// Service, the Event Bus, the Supervisor and the Request Surface, then
// runs until an interrupt or termination signal is received.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/activity"
	"github.com/nimbustrade/tradeengine/internal/api"
	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/config"
	"github.com/nimbustrade/tradeengine/internal/engine"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)
	logger.WithField("mode", cfg.Environment.Mode).Info("starting trading engine")

	st, err := store.Open(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open store")
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("error closing store")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	migrateErr := st.Migrate(ctx)
	cancel()
	if migrateErr != nil {
		logger.WithError(migrateErr).Error("failed to migrate schema")
		return 1
	}

	bus, err := buildEventBus(cfg.EventBus, logger)
	if err != nil {
		logger.WithError(err).Error("failed to build event bus")
		return 1
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.WithError(err).Warn("error closing event bus")
		}
	}()

	registry := broker.NewRegistry(
		broker.CircuitBreakerConfig{
			MaxRequests: cfg.Broker.Breaker.MaxRequests,
			Interval:    cfg.Broker.Breaker.Interval,
			Timeout:     cfg.Broker.Breaker.Timeout,
		},
		cfg.Broker.Timeout,
		buildFallbackBroker(cfg.Broker, logger),
	)

	actLogger := activity.NewLogger(st, logger)

	marketBroker, ok := registry.ForUser("__market_monitor__", nil)
	if !ok {
		logger.Error("no default broker configured; the market monitor requires one")
		return 1
	}

	sup := engine.NewSupervisor(st, registry, marketBroker, bus, actLogger, logger, engine.Config{
		MarketMonitorPeriod: cfg.Engine.MarketMonitorPeriod,
		ReconcilerPeriod:    cfg.Engine.ReconcilerPeriod,
		ConsecutiveErrorCap: cfg.Engine.ConsecutiveErrorCap,
		FillPollAttempts:    cfg.Engine.FillPollAttempts,
		FillPollInterval:    cfg.Engine.FillPollInterval,
		StalePendingAge:     cfg.Engine.StalePendingAge,
	})

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start supervisor")
		return 1
	}

	apiServer := api.NewServer(api.Config{Port: cfg.API.Port, AuthToken: cfg.API.AuthToken}, st, sup, logger)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("request surface server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, stopping engine")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down request surface")
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error stopping supervisor")
	}

	logger.Info("trading engine stopped")
	return 0
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Environment.Mode == "live" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func buildEventBus(cfg config.EventBusConfig, logger logrus.FieldLogger) (eventbus.Bus, error) {
	if cfg.Driver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
		}
		return eventbus.NewRedisBus(client), nil
	}
	return eventbus.NewMemoryBus(logger), nil
}

// buildFallbackBroker constructs the default, env-sourced broker adapter
// used for users without their own BrokerCredentials row. Returns nil if no
// API key is configured, in which case every bot needs per-user credentials.
func buildFallbackBroker(cfg config.BrokerConfig, logger logrus.FieldLogger) broker.Broker {
	if cfg.APIKey == "" || cfg.Secret == "" {
		logger.Warn("no default broker credentials configured; only users with their own BrokerCredentials can run bots")
		return nil
	}
	client := broker.NewAlpacaClient(cfg.BaseURL, cfg.APIKey, cfg.Secret, cfg.Timeout)
	return broker.NewCircuitBreakerAdapter("broker-default", client, broker.CircuitBreakerConfig{
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
	})
}
