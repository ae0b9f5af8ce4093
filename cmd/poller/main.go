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

	"github.com/prometheus/client_golang/prometheus"

	_ "time/tzdata"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/handler"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/bootstrap"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/config"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogRedactFields)
	log.Info("starting poller worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	st, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer st.DB.Close()
	log.Info("connected to database", "driver", cfg.DBDriver)

	sealer, err := bootstrap.NewSealer(cfg)
	if err != nil {
		log.Error("failed to create credential sealer", "error", err)
		os.Exit(1)
	}

	// Without Redis a single poller replica must be deployed.
	rdb := bootstrap.ConnectRedis(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	notifiers := bootstrap.NewNotifiers(cfg, rdb, log, m)
	defer notifiers.Close()

	provider := bootstrap.NewProviderClient(cfg, log, m)
	pipeline, err := bootstrap.NewPipeline(cfg, st, provider, sealer, notifiers, log, m)
	if err != nil {
		log.Error("failed to build ingestion pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Spool.Close()

	scheduler := bootstrap.NewScheduler(cfg, st.Tenants, pipeline.Ingestor, rdb, log, m)

	adminHandler := handler.NewAdminHandler(st.DB, log)
	adminHandler.Spool = pipeline.Spool
	adminHandler.Circuits = provider
	adminHandler.Scheduler = scheduler
	if notifiers.Stream != nil {
		adminHandler.Stream = notifiers.Stream
	}
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.NewAdminRouter(prometheus.DefaultGatherer, adminHandler),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped unexpectedly", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	log.Info("poller worker shut down gracefully")
}
