package tts

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
)

var (
	// ErrMissingBaseURL is returned for an HTTP provider without an endpoint.
	ErrMissingBaseURL = errors.New("missing base_url")
	// ErrUnsupportedKind is returned for a provider kind this package cannot build.
	ErrUnsupportedKind = errors.New("unsupported provider kind")
)

const (
	logFmtProviderOmitted = "Omitting provider %s (%s): %v"
	logFmtProviderReady   = "Provider %s (%s) ready"
)

// NewProviders builds the configured providers in order. A provider that
// cannot be constructed is logged and left out of the list.
func NewProviders(cfgs []config.ProviderConfig, log *logger.Logger) []core.SynthesisProvider {
	providers := make([]core.SynthesisProvider, 0, len(cfgs))

	for _, cfg := range cfgs {
		provider, err := NewProvider(cfg, log)
		if err != nil {
			log.Warn(logFmtProviderOmitted, cfg.Name, cfg.Kind, err)

			continue
		}

		log.Info(logFmtProviderReady, cfg.Name, cfg.Kind)

		providers = append(providers, provider)
	}

	return providers
}

// NewProvider builds one provider, wrapping it in a QuotaGuard when a quota rate is set.
func NewProvider(cfg config.ProviderConfig, log *logger.Logger) (core.SynthesisProvider, error) {
	provider, err := newBaseProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.QuotaRate == "" {
		return provider, nil
	}

	return NewQuotaGuard(provider, cfg.QuotaRate)
}

func newBaseProvider(cfg config.ProviderConfig, log *logger.Logger) (core.SynthesisProvider, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Kind {
	case config.ProviderKindHTTP:
		if cfg.BaseURL == "" {
			return nil, ErrMissingBaseURL
		}

		if cfg.APIKeyEnv != "" && apiKey == "" {
			return nil, fmt.Errorf("%w: env %s is empty", ErrMissingAPIKey, cfg.APIKeyEnv)
		}

		return NewHTTPProvider(HTTPProviderConfig{
			Name:        cfg.Name,
			BaseURL:     cfg.BaseURL,
			APIKey:      apiKey,
			Voice:       cfg.Voice,
			Language:    cfg.Language,
			Temperature: cfg.Temperature,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		}), nil
	case config.ProviderKindOpenAI:
		return NewOpenAIProvider(OpenAIProviderConfig{
			Name:    cfg.Name,
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
		})
	case config.ProviderKindChatLLM:
		return NewChatLLMProvider(ChatLLMConfig{
			Name:          cfg.Name,
			BinaryPath:    cfg.BinaryPath,
			ModelPath:     cfg.ModelPath,
			SnacModelPath: cfg.SnacModelPath,
			Voice:         cfg.Voice,
			Temperature:   cfg.Temperature,
		}, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
	}
}
