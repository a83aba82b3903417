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

	"go.uber.org/zap"

	"github.com/peerderiv/coordinator/internal/config"
	"github.com/peerderiv/coordinator/internal/engine"
	"github.com/peerderiv/coordinator/internal/feed"
	"github.com/peerderiv/coordinator/internal/intake"
	"github.com/peerderiv/coordinator/internal/logging"
	"github.com/peerderiv/coordinator/internal/observability"
	"github.com/peerderiv/coordinator/internal/store"
)

func main() {
	cfg := config.LoadConfig("coordinator")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting coordinator",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("data_dir", cfg.DataDir),
		zap.String("symbol", cfg.Symbol),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	dbPath := filepath.Join(cfg.DataDir, "orderbook.db")
	orderStore, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err))
	}
	defer orderStore.Close()

	logger.Info("order store opened", zap.String("path", dbPath))

	health := observability.NewHealth(logger)
	health.SetStoreReady(true)

	priceFeed, err := feed.NewKafka(cfg.Brokers(), cfg.FeedTopic, logger)
	if err != nil {
		logger.Fatal("failed to create price feed publisher", zap.Error(err))
	}
	defer priceFeed.Close()
	health.SetFeedReady(true)

	eng := engine.New(engine.Config{
		Symbol:   cfg.Symbol,
		OracleID: cfg.OraclePubkey,
	}, orderStore, priceFeed, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineErrCh := make(chan error, 1)
	go func() {
		if err := eng.Run(runCtx); err != nil && err != context.Canceled {
			engineErrCh <- err
		}
	}()

	consumer, err := intake.NewConsumer(cfg.Brokers(), cfg.ConsumerGroup, cfg.OrdersTopic, eng, logger)
	if err != nil {
		logger.Fatal("failed to create order intake", zap.Error(err))
	}
	defer consumer.Close()

	intakeErrCh := make(chan error, 1)
	go func() {
		if err := consumer.Run(runCtx); err != nil && err != context.Canceled {
			intakeErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := health.Start(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-engineErrCh:
		logger.Error("trading engine error", zap.Error(err))
	case err := <-intakeErrCh:
		logger.Error("order intake error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("health server error", zap.Error(err))
	}

	logger.Info("shutting down gracefully...")
	cancel()
	consumer.Close()
	priceFeed.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health server", zap.Error(err))
	}

	logger.Info("coordinator stopped")
}
