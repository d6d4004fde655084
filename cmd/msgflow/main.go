package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msgflow/internal/config"
	"msgflow/internal/constants"
	"msgflow/internal/database"
	"msgflow/internal/features"
	"msgflow/internal/models"
	"msgflow/internal/retry"
	"msgflow/internal/service"
	"msgflow/internal/tracing"
	"msgflow/pkg/provider"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("msgflow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting msgflow")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	flags := features.NewFlagManager()

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer func() { _ = db.Close() }()

	dedupWindow := time.Duration(cfg.Redis.DedupWindowHours) * time.Hour
	var dedup service.DedupStore
	if cfg.Redis.Addr != "" && flags.IsEnabled(features.FlagRedisDedup) {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		defer func() { _ = rdb.Close() }()
		dedup = service.NewRedisDedup(rdb, dedupWindow)
		logger.WithField("addr", cfg.Redis.Addr).Info("Using Redis webhook dedup")
	} else {
		dedup = service.NewMemoryDedup(dedupWindow)
		logger.Info("Using in-process webhook dedup")
	}

	providerClient := provider.NewClient(provider.ClientConfig{
		BaseURL: cfg.Provider.APIBaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: time.Duration(cfg.Provider.TimeoutSec) * time.Second,
	})

	var hub *service.WebsocketHub
	var notifier service.Notifier = service.NoopNotifier{}
	if flags.IsEnabled(features.FlagWebsocketEvents) {
		hub = service.NewWebsocketHub(logger)
		notifier = hub
	}

	var breaker *service.CircuitBreaker
	if flags.IsEnabled(features.FlagCircuitBreaker) {
		breaker = service.NewCircuitBreaker("provider",
			constants.CBMaxFailures,
			time.Duration(constants.CBTimeoutSec)*time.Second,
			logger)
	}

	retryController := service.NewRetryController(db,
		cfg.Dispatch.MaxRetryAttempts,
		time.Duration(cfg.Dispatch.RetryBaseIntervalSec)*time.Second,
		logger)

	dispatcher := service.NewDispatcher(db, providerClient, breaker, retryController, notifier, service.DispatcherConfig{
		BatchSize:        cfg.Dispatch.BatchSize,
		Concurrency:      cfg.Dispatch.Concurrency,
		MaxRetryAttempts: cfg.Dispatch.MaxRetryAttempts,
	}, logger)

	reconciler := service.NewReconciler(db, dedup, notifier, logger)
	messageService := service.NewMessageService(db, logger)
	templateService := service.NewTemplateService(db, providerClient, notifier, logger)
	templateSync := service.NewTemplateSync(db, providerClient, notifier, logger)
	deliveryMonitor := service.NewDeliveryMonitor(db,
		time.Duration(cfg.Dispatch.StaleThresholdSec)*time.Second, logger)

	schedulers := []*service.Scheduler{
		service.NewScheduler("dispatch-normal",
			time.Duration(cfg.Dispatch.TickIntervalSec)*time.Second,
			func(ctx context.Context) { dispatcher.DispatchDue(ctx, models.PriorityNormal) }, logger),
		service.NewScheduler("dispatch-high",
			time.Duration(cfg.Dispatch.HighVolumeTickIntervalSec)*time.Second,
			func(ctx context.Context) { dispatcher.DispatchDue(ctx, models.PriorityHigh) }, logger),
		service.NewScheduler("retry-sweep",
			time.Duration(cfg.Dispatch.TickIntervalSec)*time.Second,
			dispatcher.SweepFailed, logger),
	}
	if cfg.Templates.SyncEnabled && flags.IsEnabled(features.FlagTemplateSync) {
		schedulers = append(schedulers,
			service.NewScheduler("template-sync",
				time.Duration(cfg.Templates.SyncIntervalSec)*time.Second,
				templateSync.SyncAll, logger),
			service.NewScheduler("template-backfill",
				time.Duration(cfg.Templates.BackfillIntervalSec)*time.Second,
				templateSync.BackfillContentRefs, logger),
		)
	}
	if flags.IsEnabled(features.FlagStaleMonitor) {
		schedulers = append(schedulers,
			service.NewScheduler("stale-monitor",
				time.Duration(cfg.Dispatch.StaleCheckIntervalSec)*time.Second,
				deliveryMonitor.Check, logger))
	}
	for _, sched := range schedulers {
		sched.Start(ctx)
	}
	defer func() {
		for _, sched := range schedulers {
			sched.Stop()
		}
	}()

	server := NewServer(cfg.Server, messageService, templateService, reconciler, retryController, hub, flags, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
