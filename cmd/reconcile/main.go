// Package main is a one-shot operational entrypoint: it runs a single
// Reconciler pass across every user with broker credentials and exits,
// for use outside the long-running server process (cron, manual ops).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

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
	var timeout time.Duration
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "Maximum time allowed for the reconciliation pass")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

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

	fallback := buildFallbackBroker(cfg.Broker, logger)
	registry := broker.NewRegistry(
		broker.CircuitBreakerConfig{
			MaxRequests: cfg.Broker.Breaker.MaxRequests,
			Interval:    cfg.Broker.Breaker.Interval,
			Timeout:     cfg.Broker.Breaker.Timeout,
		},
		cfg.Broker.Timeout,
		fallback,
	)

	bus := eventbus.NewMemoryBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.WithError(err).Warn("error closing event bus")
		}
	}()

	rc := engine.NewReconciler(st, registry, bus, logger, cfg.Engine.StalePendingAge)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rc.RunOnce(ctx); err != nil {
		logger.WithError(err).Error("reconciliation pass failed")
		return 1
	}
	logger.Info("reconciliation pass completed")
	return 0
}

func buildFallbackBroker(cfg config.BrokerConfig, logger logrus.FieldLogger) broker.Broker {
	if cfg.APIKey == "" || cfg.Secret == "" {
		return nil
	}
	client := broker.NewAlpacaClient(cfg.BaseURL, cfg.APIKey, cfg.Secret, cfg.Timeout)
	return broker.NewCircuitBreakerAdapter("broker-default", client, broker.CircuitBreakerConfig{
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
	})
}
