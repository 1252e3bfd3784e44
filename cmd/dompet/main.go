package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/backend"
	"dompet/internal/cache"
	"dompet/internal/cli"
	apphttp "dompet/internal/http"
	"dompet/internal/reconcile"
	"dompet/internal/services"
	"dompet/internal/stats"
)

func main() {
	cfg, logger := cli.MustBootstrap()

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(nil).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	// Events are optional; without a broker writes still succeed.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, events disabled", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	store := res.Store
	reconciler := reconcile.NewFromStore(store)
	aggregator := stats.NewAggregator(store, stats.WithLocation(cfg.Location()))
	statsService := services.NewStatsService(aggregator, cfg.StatsCacheTTL)

	caches := cache.NewManager()
	caches.Register(statsService.Cache())
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	txService := services.NewTransactionService(store, store, reconciler, res.Uploader, publisher, statsService)
	walletService := services.NewWalletService(store, store, res.Uploader, publisher, statsService)

	srv := apphttp.NewServer(":"+cfg.Port, txService, walletService, statsService, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              store.Ping,
		Location:           cfg.Location(),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting dompet server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err, "port", cfg.Port)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped gracefully")
}
