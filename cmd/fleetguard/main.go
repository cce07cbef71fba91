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

	"github.com/fleetstack/fleetguard/internal/agents"
	"github.com/fleetstack/fleetguard/internal/api"
	"github.com/fleetstack/fleetguard/internal/assist"
	"github.com/fleetstack/fleetguard/internal/cache"
	"github.com/fleetstack/fleetguard/internal/config"
	"github.com/fleetstack/fleetguard/internal/engine"
	"github.com/fleetstack/fleetguard/internal/metrics"
	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/services"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/telemetry"
	"github.com/fleetstack/fleetguard/internal/ueba"
	"github.com/fleetstack/fleetguard/internal/utils"
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
	logger.Info("starting fleetguard", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			logger.Error("postgres store unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		st = pg
		logger.Info("using postgres store")
	default:
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}
	defer st.Close()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var redisCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			redisCloser = provider
		}
	}
	if redisCloser != nil {
		defer redisCloser.Close()
	}

	var assistClient *assist.Client
	if cfg.Assist.BaseURL != "" {
		assistClient = assist.NewClient(cfg.Assist.BaseURL, cfg.Assist.APIKey, cfg.Assist.Model, cfg.Assist.Timeout)
		logger.Info("assist backend configured", slog.String("model", cfg.Assist.Model))
	}

	profiles := make([]models.EntityProfile, 0, len(cfg.Monitor.Profiles))
	for entity, profile := range cfg.Monitor.Profiles {
		profiles = append(profiles, models.EntityProfile{
			Entity:            entity,
			MaxCallsPerMinute: profile.MaxCallsPerMinute,
			AllowedActions:    profile.AllowedActions,
		})
	}
	registry := ueba.NewRegistry(profiles)

	ledger, err := ueba.NewLedger(cfg.Monitor.LedgerCapacity)
	if err != nil {
		logger.Error("failed to create activity ledger", slog.Any("error", err))
		os.Exit(1)
	}
	evaluator := ueba.NewEvaluator(registry, cfg.Monitor.RateWindow)

	var scorer *ueba.OutlierScorer
	if cfg.Outlier.Enabled {
		scorer = ueba.NewOutlierScorer(logger, ueba.ScorerConfig{
			ModelPath:  cfg.Outlier.ModelPath,
			Threshold:  cfg.Outlier.Threshold,
			Trees:      cfg.Outlier.Trees,
			SampleSize: cfg.Outlier.SampleSize,
			MinHistory: cfg.Outlier.MinHistory,
		}, registry, ledger)
	}

	var handler ueba.AnomalyHandler
	if cfg.Alerts.Sink == "webhook" && cfg.Alerts.WebhookURL != "" {
		handler = ueba.NewWebhookHandler(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout)
		logger.Info("anomaly webhook configured", slog.String("url", cfg.Alerts.WebhookURL))
	}
	monitor := ueba.NewMonitor(logger, ledger, evaluator, scorer, handler)

	analyzer := agents.NewTelemetryAnalyzer(logger, st, cacheProvider, cfg.Cache.TTL)
	diagnoser := agents.NewFailureDiagnoser(logger, st)

	var renderer agents.MessageRenderer
	if assistClient.Configured() {
		renderer = agents.NewAssistRenderer(assistClient)
	}
	notifier := agents.NewCustomerNotifier(logger, st, renderer)
	scheduler := agents.NewMaintenanceScheduler(logger, st,
		cfg.Scheduler.OpeningHour, cfg.Scheduler.ClosingHour, cfg.Scheduler.HorizonDays)
	feedbackAgent := agents.NewFeedbackAgent(logger, st)

	pipeline := engine.NewPipeline(logger, analyzer, diagnoser, notifier, scheduler, monitor)
	fleetService := services.NewFleetService(logger, pipeline, st, cacheProvider, cfg.Cache.TTL,
		scheduler, feedbackAgent, assistClient, monitor)

	server, err := api.NewServer(cfg.Server, logger, fleetService)
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

	if cfg.Simulator.Enabled {
		simulator := telemetry.NewSimulator(logger, fleetService, cfg.Simulator.Interval)
		simulator.Start(ctx)
		logger.Info("telemetry simulator started", slog.Duration("interval", cfg.Simulator.Interval))
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
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
	logger.Info("fleetguard stopped")
}
