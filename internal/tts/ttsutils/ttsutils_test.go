package ttsutils_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/tts/ttsutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCacheDir_WithOverride(t *testing.T) {
	t.Setenv("NARRATION_CACHE_DIR", "/custom/cache/dir")

	assert.Equal(t, "/custom/cache/dir", ttsutils.GetCacheDir())
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, ttsutils.EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, ttsutils.EnsureDir(testPath), "existing directory is fine")
}

func TestGetModelPath_InCacheDir(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("NARRATION_CACHE_DIR", cacheDir)

	modelsDir := filepath.Join(cacheDir, "models")
	require.NoError(t, os.MkdirAll(modelsDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "voice.bin"), []byte("w"), 0o600))

	path, err := ttsutils.GetModelPath("voice.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelsDir, "voice.bin"), path)
}

func TestGetModelPath_Absolute(t *testing.T) {
	t.Parallel()

	modelPath := filepath.Join(t.TempDir(), "abs.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("w"), 0o600))

	path, err := ttsutils.GetModelPath(modelPath)
	require.NoError(t, err)
	assert.Equal(t, modelPath, path)
}

func TestGetModelPath_NotFound(t *testing.T) {
	t.Parallel()

	_, err := ttsutils.GetModelPath("non_existent_model_for_narration.bin")
	require.ErrorIs(t, err, ttsutils.ErrModelNotFound)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds  float64
		expected string
	}{
		{seconds: 0, expected: "0.0s"},
		{seconds: 45.2, expected: "45.2s"},
		{seconds: 90, expected: "1m 30.0s"},
		{seconds: 3599.5, expected: "59m 59.5s"},
		{seconds: 4500, expected: "1h 15m"},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.expected, ttsutils.FormatDuration(testCase.seconds))
	}
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes    int64
		expected string
	}{
		{bytes: 12, expected: "12 B"},
		{bytes: 3072, expected: "3.0 KB"},
		{bytes: 5 * 1024 * 1024, expected: "5.0 MB"},
		{bytes: 3 * 1024 * 1024 * 1024 / 2, expected: "1.5 GB"},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.expected, ttsutils.FormatFileSize(testCase.bytes))
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c_d", ttsutils.SanitizeFilename("a/b:c d"))
	assert.Equal(t, "what_is_this_", ttsutils.SanitizeFilename("what is this?"))
	assert.Equal(t, "t3_abc123", ttsutils.SanitizeFilename("t3_abc123"))
	assert.Equal(t, "line_break", ttsutils.SanitizeFilename("line\nbreak"))
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2024, time.March, 9, 7, 5, 3, 42, time.FixedZone("CET", 3600))

	assert.Equal(t,
		"t3_abc_voice_cloud_20240309T060503.000000042Z.mp3",
		ttsutils.ObjectName("t3/abc", "voice cloud", ".mp3", createdAt),
	)
	assert.Equal(t,
		"unnamed_openai_20240309T060503.000000042Z.bin",
		ttsutils.ObjectName("  ", "openai", "", createdAt),
	)
}
