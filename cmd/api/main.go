package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"networth/internal/interfaces/scheduler"
	"networth/internal/shared/config"
	"networth/internal/shared/logging"
	"networth/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(tctx); err != nil {
				logger.Error("Telemetry shutdown error", zap.Error(err))
			}
		}()
	}

	// Initialize all dependencies
	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	bg := Background{Listener: deps.Listener, LiveSync: deps.LiveSync}

	// Background processes use their own lifetime, ended by GracefulShutdown
	bgCtx := context.WithoutCancel(ctx)

	deps.Listener.Start(bgCtx)
	deps.ConnectLiveSync(ctx, cfg.LiveSync.Token, logger.Named("livesync"))

	// Initialize scheduler (if enabled)
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			WorkerCount:   cfg.Scheduler.WorkerCount,
			JobDelay:      cfg.Scheduler.JobDelay,
			JobTimeout:    cfg.Scheduler.JobTimeout,
			QueueSize:     cfg.Scheduler.QueueSize,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   scheduler.RefreshJobProvider(deps.Coordinator, logger.Named("refresh")),
		}, logger.Named("scheduler"))
		if err != nil {
			deps.Listener.Stop()
			return err
		}
		sched.Start()
		bg.Scheduler = sched
	} else {
		logger.Info("Scheduler is disabled")
	}

	// Setup routes and start servers
	handler := SetupRoutes(deps, cfg, logger)
	errCh := make(chan error, 1)
	srv, redirectSrv := StartServers(NewServerConfigFromConfig(handler, cfg), logger, errCh)

	// Wait for a signal or a fatal server error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("Server error", zap.Error(err))
	}

	GracefulShutdown(srv, redirectSrv, bg, shutdownTimeout, logger)
	return err
}
