// Package config provides the configuration structure for the narration-service.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Supported backends.
const (
	StorageBackendNATS  = "nats"
	StorageBackendMinio = "minio"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverMySQL    = "mysql"

	ProviderKindHTTP    = "http"
	ProviderKindOpenAI  = "openai"
	ProviderKindChatLLM = "chatllm"
)

const weightTolerance = 1e-6

var (
	// ErrWeightsSum indicates that the selection weights do not add up to 1.
	ErrWeightsSum = errors.New("selection weights must sum to 1")
	// ErrLengthBounds indicates that the text length bounds are not ordered.
	ErrLengthBounds = errors.New("length bounds must satisfy 0 < min <= ideal_min <= ideal_max <= max")
	// ErrMaxAttempts indicates a retry budget below one attempt.
	ErrMaxAttempts = errors.New("failover max_attempts must be at least 1")
	// ErrUnknownStorageBackend indicates an unsupported blob storage backend.
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
	// ErrUnknownDatabaseDriver indicates an unsupported database driver.
	ErrUnknownDatabaseDriver = errors.New("unknown database driver")
	// ErrUnknownProviderKind indicates an unsupported synthesis provider kind.
	ErrUnknownProviderKind = errors.New("unknown provider kind")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	RequestedSubject       string `toml:"requested_subject"`
	CompletedSubject       string `toml:"completed_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	HandleTimeoutSeconds   int    `toml:"handle_timeout_seconds"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// MinioConfig holds the connection details for an S3-compatible store.
type MinioConfig struct {
	Endpoint     string `toml:"endpoint"`
	AccessKeyEnv string `toml:"access_key_env"`
	SecretKeyEnv string `toml:"secret_key_env"`
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	UseSSL       bool   `toml:"use_ssl"`
	PublicBase   string `toml:"public_base_url"`
}

// StorageConfig selects where audio blobs are uploaded.
type StorageConfig struct {
	Backend string      `toml:"backend"`
	Minio   MinioConfig `toml:"minio"`
}

// WeightsConfig holds the total-score weights.
type WeightsConfig struct {
	Engagement     float64 `toml:"engagement"`
	TextLength     float64 `toml:"text_length"`
	ContentQuality float64 `toml:"content_quality"`
}

// LengthConfig holds the word-count bounds of the length score.
type LengthConfig struct {
	Min      int `toml:"min"`
	IdealMin int `toml:"ideal_min"`
	IdealMax int `toml:"ideal_max"`
	Max      int `toml:"max"`
}

// SelectionConfig configures candidate scoring.
type SelectionConfig struct {
	Weights       WeightsConfig `toml:"weights"`
	Length        LengthConfig  `toml:"length"`
	MinWords      int           `toml:"min_words"`
	LinkOnlyRatio float64       `toml:"link_only_ratio"`
}

// FailoverConfig configures the per-provider retry policy.
type FailoverConfig struct {
	MaxAttempts           int     `toml:"max_attempts"`
	InitialDelayMillis    int     `toml:"initial_delay_ms"`
	BackoffMultiplier     float64 `toml:"backoff_multiplier"`
	MaxDelayMillis        int     `toml:"max_delay_ms"`
	AttemptTimeoutSeconds int     `toml:"attempt_timeout_seconds"`
	ProbeTimeoutSeconds   int     `toml:"probe_timeout_seconds"`
}

// ProviderConfig describes one synthesis backend. Order in the file is failover order.
type ProviderConfig struct {
	Name           string  `toml:"name"`
	Kind           string  `toml:"kind"`
	BaseURL        string  `toml:"base_url"`
	APIKeyEnv      string  `toml:"api_key_env"`
	Model          string  `toml:"model"`
	Voice          string  `toml:"voice"`
	Language       string  `toml:"language"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	QuotaRate      string  `toml:"quota_rate"`
	BinaryPath     string  `toml:"binary_path"`
	ModelPath      string  `toml:"model_path"`
	SnacModelPath  string  `toml:"snac_model_path"`
}

// SourceConfig configures the content source client.
type SourceConfig struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ScheduleConfig configures periodic runs.
type ScheduleConfig struct {
	Cron        string   `toml:"cron"`
	RepairCron  string   `toml:"repair_cron"`
	Collections []string `toml:"collections"`
	Limit       int      `toml:"limit"`
	Timezone    string   `toml:"timezone"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr   string `toml:"metrics_addr"`
	TraceExporter string `toml:"trace_exporter"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS          NATSConfig          `toml:"nats"`
	Database      DatabaseConfig      `toml:"database"`
	Storage       StorageConfig       `toml:"storage"`
	Selection     SelectionConfig     `toml:"selection"`
	Failover      FailoverConfig      `toml:"failover"`
	Providers     []ProviderConfig    `toml:"providers"`
	Source        SourceConfig        `toml:"source"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Observability ObservabilityConfig `toml:"observability"`
	Paths         PathsConfig         `toml:"paths"`
}

// Load loads the configuration for the narration-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills every zero value that has a documented default.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, "nats://127.0.0.1:4222")
	setString(&c.NATS.RequestedSubject, "narration.requested")
	setString(&c.NATS.CompletedSubject, "narration.completed")
	setString(&c.NATS.AudioObjectStoreBucket, "NARRATION_AUDIO")
	setInt(&c.NATS.HandleTimeoutSeconds, 300)

	setString(&c.Database.Driver, DatabaseDriverSQLite)
	setString(&c.Database.DSN, "narration.db")
	setString(&c.Storage.Backend, StorageBackendNATS)
	setString(&c.Storage.Minio.Region, "us-east-1")

	weights := &c.Selection.Weights
	if weights.Engagement == 0 && weights.TextLength == 0 && weights.ContentQuality == 0 {
		weights.Engagement, weights.TextLength, weights.ContentQuality = 0.4, 0.3, 0.3
	}

	setInt(&c.Selection.Length.Min, 50)
	setInt(&c.Selection.Length.IdealMin, 100)
	setInt(&c.Selection.Length.IdealMax, 500)
	setInt(&c.Selection.Length.Max, 800)
	setInt(&c.Selection.MinWords, 10)
	setFloat(&c.Selection.LinkOnlyRatio, 0.8)

	setInt(&c.Failover.MaxAttempts, 3)
	setInt(&c.Failover.InitialDelayMillis, 1000)
	setFloat(&c.Failover.BackoffMultiplier, 2)
	setInt(&c.Failover.MaxDelayMillis, 5000)
	setInt(&c.Failover.AttemptTimeoutSeconds, 60)
	setInt(&c.Failover.ProbeTimeoutSeconds, 5)

	setString(&c.Source.UserAgent, "narration-service/1.0")
	setInt(&c.Source.TimeoutSeconds, 30)

	setInt(&c.Schedule.Limit, 25)
	setString(&c.Schedule.Timezone, "UTC")

	setString(&c.Observability.TraceExporter, "none")

	setString(&c.Paths.BaseLogsDir, "logs")

	for i := range c.Providers {
		setInt(&c.Providers[i].TimeoutSeconds, 60)
		setString(&c.Providers[i].Language, "en")
	}
}

// Validate checks invariants that the rest of the service relies on.
func (c *Config) Validate() error {
	weights := c.Selection.Weights

	sum := weights.Engagement + weights.TextLength + weights.ContentQuality
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrWeightsSum, sum)
	}

	bounds := c.Selection.Length
	if bounds.Min <= 0 || bounds.Min > bounds.IdealMin || bounds.IdealMin > bounds.IdealMax ||
		bounds.IdealMax > bounds.Max {
		return fmt.Errorf("%w: got %+v", ErrLengthBounds, bounds)
	}

	if c.Failover.MaxAttempts < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxAttempts, c.Failover.MaxAttempts)
	}

	switch c.Storage.Backend {
	case StorageBackendNATS, StorageBackendMinio:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorageBackend, c.Storage.Backend)
	}

	switch c.Database.Driver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres, DatabaseDriverMySQL:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownDatabaseDriver, c.Database.Driver)
	}

	for _, provider := range c.Providers {
		switch provider.Kind {
		case ProviderKindHTTP, ProviderKindOpenAI, ProviderKindChatLLM:
		default:
			return fmt.Errorf("%w: '%s' for provider '%s'", ErrUnknownProviderKind, provider.Kind, provider.Name)
		}
	}

	return nil
}

// InitialDelay returns the first backoff delay.
func (f FailoverConfig) InitialDelay() time.Duration {
	return time.Duration(f.InitialDelayMillis) * time.Millisecond
}

// MaxDelay returns the backoff ceiling.
func (f FailoverConfig) MaxDelay() time.Duration {
	return time.Duration(f.MaxDelayMillis) * time.Millisecond
}

// AttemptTimeout bounds a single synthesize call.
func (f FailoverConfig) AttemptTimeout() time.Duration {
	return time.Duration(f.AttemptTimeoutSeconds) * time.Second
}

// ProbeTimeout bounds a single availability or quota probe.
func (f FailoverConfig) ProbeTimeout() time.Duration {
	return time.Duration(f.ProbeTimeoutSeconds) * time.Second
}

func setString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if *target == 0 {
		*target = value
	}
}

func setFloat(target *float64, value float64) {
	if *target == 0 {
		*target = value
	}
}
