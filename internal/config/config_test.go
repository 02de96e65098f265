// Package config_test tests the configuration loading for the narration-service.
package config_test

import (
	"testing"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
requested_subject = "narration.requested"
completed_subject = "narration.completed"
audio_object_store_bucket = "AUDIO_FILES"

[database]
driver = "postgres"
dsn = "postgres://narration@localhost/narration"

[storage]
backend = "minio"

[storage.minio]
endpoint = "minio:9000"
bucket = "narrations"
access_key_env = "MINIO_ACCESS_KEY"
secret_key_env = "MINIO_SECRET_KEY"

[selection.weights]
engagement = 0.5
text_length = 0.25
content_quality = 0.25

[failover]
max_attempts = 4
initial_delay_ms = 250

[[providers]]
name = "voicecloud"
kind = "http"
base_url = "https://voice.example.com"
api_key_env = "VOICECLOUD_API_KEY"
voice = "narrator"
quota_rate = "500-D"

[[providers]]
name = "openai"
kind = "openai"
model = "tts-1"
voice = "alloy"

[schedule]
cron = "0 */6 * * *"
collections = ["AskHistorians", "TrueOffMyChest"]
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, 300, cfg.NATS.HandleTimeoutSeconds)
	assert.Equal(t, config.DatabaseDriverPostgres, cfg.Database.Driver)
	assert.Equal(t, config.StorageBackendMinio, cfg.Storage.Backend)
	assert.Equal(t, "narrations", cfg.Storage.Minio.Bucket)
	assert.InEpsilon(t, 0.5, cfg.Selection.Weights.Engagement, 0.001)
	assert.Equal(t, 50, cfg.Selection.Length.Min)
	assert.Equal(t, 800, cfg.Selection.Length.Max)
	assert.Equal(t, 4, cfg.Failover.MaxAttempts)
	assert.Equal(t, int64(250), cfg.Failover.InitialDelay().Milliseconds())
	assert.Equal(t, int64(5000), cfg.Failover.MaxDelay().Milliseconds())

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "voicecloud", cfg.Providers[0].Name)
	assert.Equal(t, "500-D", cfg.Providers[0].QuotaRate)
	assert.Equal(t, 60, cfg.Providers[1].TimeoutSeconds)
	assert.Equal(t, "en", cfg.Providers[1].Language)
	assert.Equal(t, []string{"AskHistorians", "TrueOffMyChest"}, cfg.Schedule.Collections)
	assert.Equal(t, 25, cfg.Schedule.Limit)
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.InEpsilon(t, 0.4, cfg.Selection.Weights.Engagement, 0.001)
	assert.InEpsilon(t, 0.3, cfg.Selection.Weights.TextLength, 0.001)
	assert.InEpsilon(t, 0.3, cfg.Selection.Weights.ContentQuality, 0.001)
	assert.Equal(t, 100, cfg.Selection.Length.IdealMin)
	assert.Equal(t, 500, cfg.Selection.Length.IdealMax)
	assert.Equal(t, 10, cfg.Selection.MinWords)
	assert.InEpsilon(t, 0.8, cfg.Selection.LinkOnlyRatio, 0.001)
	assert.Equal(t, 3, cfg.Failover.MaxAttempts)
	assert.InEpsilon(t, 2.0, cfg.Failover.BackoffMultiplier, 0.001)
	assert.Equal(t, config.StorageBackendNATS, cfg.Storage.Backend)
	assert.Equal(t, config.DatabaseDriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "none", cfg.Observability.TraceExporter)
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{
			name: "weights do not sum to one",
			mutate: func(cfg *config.Config) {
				cfg.Selection.Weights.Engagement = 0.9
			},
			wantErr: config.ErrWeightsSum,
		},
		{
			name: "inverted length bounds",
			mutate: func(cfg *config.Config) {
				cfg.Selection.Length.IdealMin = 600
			},
			wantErr: config.ErrLengthBounds,
		},
		{
			name: "zero attempts",
			mutate: func(cfg *config.Config) {
				cfg.Failover.MaxAttempts = -1
			},
			wantErr: config.ErrMaxAttempts,
		},
		{
			name: "unknown storage backend",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Backend = "ftp"
			},
			wantErr: config.ErrUnknownStorageBackend,
		},
		{
			name: "unknown database driver",
			mutate: func(cfg *config.Config) {
				cfg.Database.Driver = "oracle"
			},
			wantErr: config.ErrUnknownDatabaseDriver,
		},
		{
			name: "unknown provider kind",
			mutate: func(cfg *config.Config) {
				cfg.Providers = []config.ProviderConfig{{Name: "x", Kind: "carrier-pigeon"}}
			},
			wantErr: config.ErrUnknownProviderKind,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			testCase.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), testCase.wantErr)
		})
	}
}
