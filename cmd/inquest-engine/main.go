package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inquestlabs/inquest-engine/internal/api"
	"github.com/inquestlabs/inquest-engine/internal/config"
	"github.com/inquestlabs/inquest-engine/internal/engine"
	"github.com/inquestlabs/inquest-engine/internal/extractors"
	"github.com/inquestlabs/inquest-engine/internal/metrics"
	"github.com/inquestlabs/inquest-engine/internal/repo"
	"github.com/inquestlabs/inquest-engine/internal/services"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting inquest-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	searchClient := repo.NewLogSearchClient(cfg.Search, logger)
	vcsClient, err := repo.NewVCSClient(cfg.VCS, logger)
	if err != nil {
		logger.Error("failed to create VCS client", slog.Any("error", err))
		os.Exit(1)
	}

	knowledge, err := engine.NewKnowledgeBase(cfg.Knowledge.Path)
	if err != nil {
		logger.Error("failed to load knowledge base", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(
		engine.NewWindowResolver(searchClient, logger),
		engine.NewSessionFanOut(searchClient, searchClient, cfg.Investigation.SessionCap, cfg.Investigation.SessionConcurrency, logger),
		engine.NewRepositoryResolver(vcsClient, cfg.Investigation.RepoFallbackSuffix, logger),
		engine.NewDeploymentCorrelator(vcsClient, cfg.VCS.DeployRepo, cfg.Investigation.DeploymentLookback, logger),
		engine.NewCodeChangeAnalyzer(vcsClient, logger),
		engine.NewExceptionCorrelator(knowledge, cfg.Investigation.ProximityLines, logger),
		extractors.NewStackTraceParser(cfg.Investigation.OwnedPackagePrefixes),
		searchClient,
		cfg.Investigation,
		logger,
	)

	service := services.NewInvestigationService(logger, pipeline)
	handler := api.NewHandler(service, logger)

	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("inquest-engine stopped")
}
