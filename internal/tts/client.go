// Package tts provides the concrete voice-synthesis providers used by the
// failover manager: a remote HTTP voice service, the OpenAI speech API and
// the local chatllm binary.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
	apiQuota          = "/v1/quota"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeWAV      = "audio/wav"
	contentTypeMPEG     = "audio/mpeg"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
	maxErrorBodyBytes  = 4096
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "voice service error: %s (code: %s)"
	errFmtServiceNonOKStatus   = "voice service returned non-OK status: %s, body: %s"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnexpectedContentType is returned when the service answers with something other than audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio is returned when the service answers with an empty body.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Voice       string
	Language    string
	Temperature float64
	Timeout     time.Duration
}

// HTTPProvider talks to a remote voice service over its JSON API.
type HTTPProvider struct {
	httpClient *http.Client
	cfg        HTTPProviderConfig
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// ServiceErrorResponse is the structured error body returned by the service.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type quotaResponse struct {
	Remaining int `json:"remaining"`
}

// NewHTTPProvider creates a provider for the voice service at cfg.BaseURL.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}

	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the configured provider name.
func (p *HTTPProvider) Name() string {
	return p.cfg.Name
}

// Synthesize sends text to the service and returns the audio it produced.
// Non-2xx answers become a *core.ProviderError carrying the status code.
func (p *HTTPProvider) Synthesize(
	ctx context.Context,
	text string,
	opts core.SynthesisOptions,
) (core.Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return core.Synthesis{}, ErrEmptyText
	}

	req := SpeechRequest{
		Text:        text,
		Voice:       firstNonEmpty(opts.Voice, p.cfg.Voice),
		Language:    firstNonEmpty(opts.Language, p.cfg.Language),
		Temperature: p.cfg.Temperature,
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.cfg.BaseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV+", "+contentTypeMPEG)
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf(
			"failed to send request to voice service at %s: %w",
			p.cfg.BaseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return core.Synthesis{}, &core.ProviderError{
			Provider:   p.cfg.Name,
			StatusCode: resp.StatusCode,
			Err:        parseErrorResponse(resp),
		}
	}

	contentType := mediaType(resp.Header.Get(headerContentType))
	if contentType != contentTypeWAV && contentType != contentTypeMPEG {
		return core.Synthesis{}, fmt.Errorf("%w: %q", ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return core.Synthesis{}, ErrEmptyAudio
	}

	return core.Synthesis{Audio: audioData, Voice: req.Voice, ContentType: contentType}, nil
}

// IsAvailable reports whether the service health endpoint answers 200.
func (p *HTTPProvider) IsAvailable(ctx context.Context) bool {
	return p.healthCheck(ctx) == nil
}

// RemainingQuota asks the service for its remaining request budget.
func (p *HTTPProvider) RemainingQuota(ctx context.Context) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+apiQuota, http.NoBody)
	if err != nil {
		return core.UnknownQuota
	}

	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return core.UnknownQuota
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.UnknownQuota
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.UnknownQuota
	}

	var quota quotaResponse

	err = parseJSON(body, &quota)
	if err != nil {
		return core.UnknownQuota
	}

	return quota.Remaining
}

func (p *HTTPProvider) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", p.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+p.cfg.APIKey)
	}
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp ServiceErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
}

func mediaType(header string) string {
	value, _, _ := strings.Cut(header, ";")

	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
