package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
)

const (
	defaultChatLLMBinary = "chatllm"
	defaultChatLLMVoice  = "default"

	logFmtTempRemoveFailed = "Failed to remove temp file '%s': %v"
)

// ErrBinaryNotFound is returned when the chatllm binary cannot be located.
var ErrBinaryNotFound = errors.New("chatllm binary not found")

// ChatLLMConfig configures a ChatLLMProvider.
type ChatLLMConfig struct {
	Name          string
	BinaryPath    string
	ModelPath     string
	SnacModelPath string
	Voice         string
	Temperature   float64
}

// ChatLLMProvider synthesizes speech by running the local chatllm binary.
// Its failures are local and never carry a remote status code.
type ChatLLMProvider struct {
	config ChatLLMConfig
	binary string
	log    *logger.Logger
}

// NewChatLLMProvider resolves the binary on PATH and creates the provider.
func NewChatLLMProvider(cfg ChatLLMConfig, log *logger.Logger) (*ChatLLMProvider, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = defaultChatLLMBinary
	}

	if cfg.Voice == "" {
		cfg.Voice = defaultChatLLMVoice
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}

	binary, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, cfg.BinaryPath, err)
	}

	cfg.ModelPath, err = resolveModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	cfg.SnacModelPath, err = resolveModel(cfg.SnacModelPath)
	if err != nil {
		return nil, err
	}

	return &ChatLLMProvider{
		config: cfg,
		binary: binary,
		log:    log,
	}, nil
}

// Name returns the configured provider name.
func (p *ChatLLMProvider) Name() string {
	return p.config.Name
}

// Synthesize runs chatllm with text as the prompt and returns the exported WAV.
func (p *ChatLLMProvider) Synthesize(
	ctx context.Context,
	text string,
	opts core.SynthesisOptions,
) (core.Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return core.Synthesis{}, ErrEmptyText
	}

	tempFile, err := os.CreateTemp("", "narration-output-*.wav")
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !os.IsNotExist(removeErr) {
			p.log.Warn(logFmtTempRemoveFailed, tempFile.Name(), removeErr)
		}
	}()

	voice := firstNonEmpty(opts.Voice, p.config.Voice)
	args := p.buildArgs(voice, text, tempFile.Name())

	// #nosec G204 -- binary resolved via LookPath at construction, args are not shell-interpreted
	cmd := exec.CommandContext(ctx, p.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return core.Synthesis{}, ErrEmptyAudio
	}

	return core.Synthesis{Audio: audioData, Voice: voice, ContentType: contentTypeWAV}, nil
}

func (p *ChatLLMProvider) buildArgs(voice, text, outputPath string) []string {
	args := []string{}

	if p.config.ModelPath != "" {
		args = append(args, "-m", p.config.ModelPath)
	}

	if p.config.SnacModelPath != "" {
		args = append(args, "--snac_model", p.config.SnacModelPath)
	}

	return append(args,
		"-p", fmt.Sprintf("{%s}: %s", voice, text),
		"--tts_export", outputPath,
		"--temp", fmt.Sprintf("%.2f", p.config.Temperature),
	)
}

// IsAvailable reports whether the binary and the configured model files exist.
func (p *ChatLLMProvider) IsAvailable(context.Context) bool {
	for _, path := range []string{p.binary, p.config.ModelPath, p.config.SnacModelPath} {
		if path == "" {
			continue
		}

		_, err := os.Stat(path)
		if err != nil {
			return false
		}
	}

	return true
}

func resolveModel(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	resolved, err := ttsutils.GetModelPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve chatllm model: %w", err)
	}

	return resolved, nil
}

// RemainingQuota is unknown for a local binary.
func (p *ChatLLMProvider) RemainingQuota(context.Context) int {
	return core.UnknownQuota
}
