package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = string(openai.TTSModel1)
	defaultOpenAIVoice = string(openai.VoiceAlloy)
)

// ErrMissingAPIKey is returned when a provider that needs credentials has none.
var ErrMissingAPIKey = errors.New("missing API key")

// OpenAIProviderConfig configures an OpenAIProvider.
type OpenAIProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// OpenAIProvider synthesizes speech through the OpenAI audio API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIProviderConfig
}

// NewOpenAIProvider creates a provider. BaseURL may point at any compatible endpoint.
func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, cfg.Name)
	}

	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	if cfg.Voice == "" {
		cfg.Voice = defaultOpenAIVoice
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string {
	return p.cfg.Name
}

// Synthesize renders text as MP3 audio.
func (p *OpenAIProvider) Synthesize(
	ctx context.Context,
	text string,
	opts core.SynthesisOptions,
) (core.Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return core.Synthesis{}, ErrEmptyText
	}

	voice := firstNonEmpty(opts.Voice, p.cfg.Voice)

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return core.Synthesis{}, p.mapError(err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return core.Synthesis{}, ErrEmptyAudio
	}

	return core.Synthesis{Audio: audioData, Voice: voice, ContentType: contentTypeMPEG}, nil
}

// IsAvailable reports whether the model listing endpoint answers. A 4xx answer
// means the API is reachable; credential and rate-limit failures are left for
// Synthesize to report.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	if err == nil {
		return true
	}

	status := core.StatusOf(p.mapError(err))

	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

// RemainingQuota is unknown; the API does not expose it.
func (p *OpenAIProvider) RemainingQuota(context.Context) int {
	return core.UnknownQuota
}

// mapError turns API failures into provider errors with their HTTP status.
func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &core.ProviderError{Provider: p.cfg.Name, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return &core.ProviderError{Provider: p.cfg.Name, StatusCode: requestErr.HTTPStatusCode, Err: err}
	}

	return fmt.Errorf("openai speech request failed: %w", err)
}
