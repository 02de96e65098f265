// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	serviceName     = "narration-service"
	shutdownTimeout = 15 * time.Second
)

// Log formats.
const (
	logFmtConfigFailed        = "Failed to load configuration: %v"
	logFmtLogDirFailed        = "Failed to create log directory: %v"
	logFmtFinalLoggerFailed   = "Failed to create final logger: %v"
	logFmtInitFailed          = "Failed to initialize service: %v"
	logFmtListening           = "Narration-Service successfully initialized. Listening for jobs on subject: %s"
	logFmtMetricsShutdownFail = "Failed to shut down metrics server: %v"
	logFmtServingMetrics      = "Serving metrics on %s/metrics"
	logFmtMetricsFailed       = "Metrics server failed: %v"
	logFmtBlobBackend         = "Audio blobs stored with the %s backend"
	logFmtProviderOrder       = "Synthesis providers in failover order: %v"
	logFmtTraceFlushFailed    = "Failed to flush traces: %v"
	logFmtStoreCloseFailed    = "Failed to close record store: %v"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narration-service-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error(logFmtConfigFailed, err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	err = ttsutils.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error(logFmtLogDirFailed, err)

		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error(logFmtFinalLoggerFailed, err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Connect to NATS; the worker always needs it, the blob store may.
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	// 5. Wire every component
	app, err := newApp(ctx, cfg, natsConnection, finalLog)
	if err != nil {
		finalLog.Error(logFmtInitFailed, err)

		return err
	}
	defer app.close(finalLog)

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Config{
		RequestedSubject: cfg.NATS.RequestedSubject,
		CompletedSubject: cfg.NATS.CompletedSubject,
		HandleTimeout:    time.Duration(cfg.NATS.HandleTimeoutSeconds) * time.Second,
		DefaultLimit:     cfg.Schedule.Limit,
	}, app.orchestrator, app.source, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	metricsServer := startMetricsServer(cfg.Observability.MetricsAddr, app.metrics, finalLog)

	if app.scheduler != nil {
		app.scheduler.Start()
	}

	finalLog.System(logFmtListening, cfg.NATS.RequestedSubject)

	// 6. Run until a termination signal arrives
	runErr := natsWorker.Run(ctx)

	finalLog.System("Shutting down narration-service.")

	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := metricsServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			finalLog.Warn(logFmtMetricsShutdownFail, shutdownErr)
		}
	}

	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

func startMetricsServer(addr string, metrics *observability.Metrics, log *logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(logFmtServingMetrics, addr)

		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error(logFmtMetricsFailed, serveErr)
		}
	}()

	return server
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
