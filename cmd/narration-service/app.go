package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/failover"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/orchestrator"
	"github.com/book-expert/narration-service/internal/scheduler"
	"github.com/book-expert/narration-service/internal/selection"
	"github.com/book-expert/narration-service/internal/source"
	"github.com/book-expert/narration-service/internal/store"
	"github.com/book-expert/narration-service/internal/tts"
	"github.com/book-expert/narration-service/internal/tts/text"
	"github.com/nats-io/nats.go"
)

// app holds the long-lived components of the service.
type app struct {
	records      *store.Store
	metrics      *observability.Metrics
	tracing      *observability.Tracing
	orchestrator *orchestrator.Orchestrator
	source       *source.Client
	scheduler    *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (*app, error) {
	records, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	a := &app{records: records, metrics: observability.NewMetrics()}

	a.tracing, err = observability.NewTracing(cfg.Observability.TraceExporter, serviceName, os.Stdout)
	if err != nil {
		a.close(log)

		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	blobs, err := openBlobStore(ctx, cfg, natsConnection)
	if err != nil {
		a.close(log)

		return nil, err
	}

	log.Info(logFmtBlobBackend, cfg.Storage.Backend)

	providers := tts.NewProviders(cfg.Providers, log)

	synthesizer, err := failover.NewManager(providers, failoverPolicy(cfg.Failover), log,
		failover.WithObserver(a.metrics))
	if err != nil {
		a.close(log)

		return nil, fmt.Errorf("failed to create failover manager: %w", err)
	}

	log.Info(logFmtProviderOrder, synthesizer.Providers())

	scorer, err := selection.NewScorer(selectionOptions(cfg.Selection))
	if err != nil {
		a.close(log)

		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}

	a.orchestrator = orchestrator.New(
		selection.NewSelector(scorer),
		synthesizer,
		records,
		blobs,
		log,
		orchestrator.WithCleaner(text.NewCleaner()),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracing(a.tracing),
	)

	a.source = source.NewClient(source.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
	})

	a.scheduler, err = newScheduler(cfg.Schedule, a.orchestrator, a.source,
		orchestrator.NewRepairer(records, log, a.metrics), log)
	if err != nil {
		a.close(log)

		return nil, err
	}

	return a, nil
}

func (a *app) close(log *logger.Logger) {
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := a.tracing.Shutdown(ctx)
		if shutdownErr != nil {
			log.Warn(logFmtTraceFlushFailed, shutdownErr)
		}
	}

	closeErr := a.records.Close()
	if closeErr != nil {
		log.Warn(logFmtStoreCloseFailed, closeErr)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config, natsConnection *nats.Conn) (core.BlobStore, error) {
	if cfg.Storage.Backend == config.StorageBackendMinio {
		minioCfg := cfg.Storage.Minio

		blobs, err := objectstore.NewMinio(ctx, objectstore.MinioConfig{
			Endpoint:   minioCfg.Endpoint,
			AccessKey:  os.Getenv(minioCfg.AccessKeyEnv),
			SecretKey:  os.Getenv(minioCfg.SecretKeyEnv),
			Bucket:     minioCfg.Bucket,
			Region:     minioCfg.Region,
			UseSSL:     minioCfg.UseSSL,
			PublicBase: minioCfg.PublicBase,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open minio blob store: %w", err)
		}

		return blobs, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	blobs, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open NATS object store: %w", err)
	}

	return blobs, nil
}

func failoverPolicy(cfg config.FailoverConfig) failover.Policy {
	return failover.Policy{
		MaxAttempts:       cfg.MaxAttempts,
		InitialDelay:      cfg.InitialDelay(),
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxDelay:          cfg.MaxDelay(),
		AttemptTimeout:    cfg.AttemptTimeout(),
		ProbeTimeout:      cfg.ProbeTimeout(),
	}
}

func selectionOptions(cfg config.SelectionConfig) selection.Options {
	return selection.Options{
		Weights: selection.Weights{
			Engagement:     cfg.Weights.Engagement,
			TextLength:     cfg.Weights.TextLength,
			ContentQuality: cfg.Weights.ContentQuality,
		},
		Length: selection.LengthBounds{
			Min:      cfg.Length.Min,
			IdealMin: cfg.Length.IdealMin,
			IdealMax: cfg.Length.IdealMax,
			Max:      cfg.Length.Max,
		},
		MinWords:      cfg.MinWords,
		LinkOnlyRatio: cfg.LinkOnlyRatio,
	}
}

// newScheduler returns nil when no schedule is configured.
func newScheduler(
	cfg config.ScheduleConfig,
	narrator scheduler.Narrator,
	src core.ContentSource,
	repairer scheduler.Repairer,
	log *logger.Logger,
) (*scheduler.Scheduler, error) {
	if cfg.Cron == "" && cfg.RepairCron == "" {
		return nil, nil
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", cfg.Timezone, err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Cron:        cfg.Cron,
		RepairCron:  cfg.RepairCron,
		Collections: cfg.Collections,
		Limit:       cfg.Limit,
		Location:    location,
	}, narrator, src, repairer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return sched, nil
}
