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
	"golang.org/x/sync/errgroup"

	_ "time/tzdata"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/handler"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/cached"
	"github.com/Wilsonc7/mp-notifier/internal/bootstrap"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/config"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/logger"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogRedactFields)
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	st, err := bootstrap.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer st.DB.Close()

	tenants, err := cached.NewTenantRepository(st.Tenants, cfg.TenantCacheTTL, logger, m)
	if err != nil {
		logger.Error("failed to create tenant cache", "error", err)
		os.Exit(1)
	}
	defer tenants.Close()

	sealer, err := bootstrap.NewSealer(cfg)
	if err != nil {
		logger.Error("failed to create credential sealer", "error", err)
		os.Exit(1)
	}

	rdb := bootstrap.ConnectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	// --- Notifiers and ingestion ---
	events := handler.NewSSEBroker(logger, 0)
	notifiers := bootstrap.NewNotifiers(cfg, rdb, logger, m)
	notifiers.Add("sse", events)
	defer func() {
		if err := notifiers.Close(); err != nil {
			logger.Warn("failed to close notifiers", "error", err)
		}
	}()

	provider := bootstrap.NewProviderClient(cfg, logger, m)
	pipeline, err := bootstrap.NewPipeline(cfg, st, provider, sealer, notifiers, logger, m)
	if err != nil {
		logger.Error("failed to build ingestion pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Spool.Close()

	// --- Use cases ---
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	dashboard := usecase.NewDashboard(usecase.DashboardDeps{
		Tenants:   tenants,
		Store:     st.Store,
		Cache:     pipeline.Cache,
		Sealer:    sealer,
		Location:  cfg.Location(),
		FeedLimit: cfg.DeviceFeedLimit,
	}, logger)
	authUseCase := usecase.NewAuth(tenants, issuer, logger)
	tenantAdmin := usecase.NewTenantAdmin(tenants, sealer, pipeline.Cache, logger)

	// --- Routers ---
	publicRouter := api.NewRouter(logger, issuer, api.Handlers{
		Device:    handler.NewDeviceHandler(dashboard, cfg.Location(), logger),
		Auth:      handler.NewAuthHandler(authUseCase, logger),
		Dashboard: handler.NewDashboardHandler(dashboard, logger),
		Tenants:   handler.NewTenantHandler(tenantAdmin, logger),
		Events:    events,
	})

	adminHandler := handler.NewAdminHandler(st.DB, logger)
	adminHandler.Spool = pipeline.Spool
	adminHandler.Events = events
	adminHandler.Circuits = provider
	if notifiers.Stream != nil {
		adminHandler.Stream = notifiers.Stream
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.PollEnabled {
		scheduler := bootstrap.NewScheduler(cfg, tenants, pipeline.Ingestor, rdb, logger, m)
		adminHandler.Scheduler = scheduler
		g.Go(func() error {
			if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("in-process polling disabled")
	}

	publicServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           publicRouter,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /api/events responses stay open.
	}
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.NewAdminRouter(prometheus.DefaultGatherer, adminHandler),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	for _, srv := range []struct {
		name string
		s    *http.Server
	}{{"public", publicServer}, {"admin", adminServer}} {
		g.Go(func() error {
			logger.Info("starting server", "server", srv.name, "addr", srv.s.Addr)
			if err := srv.s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server failed", "server", srv.name, "error", err)
				return err
			}
			return nil
		})
	}

	// --- Wait for shutdown signal or a failed component ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()

		if err := publicServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("public server shutdown failed", "error", err)
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("servers shut down gracefully")
}
