// Package ttsutils holds small helpers shared by the synthesis providers and the
// orchestrator: model path resolution, object naming and log formatting.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const envCacheDir = "NARRATION_CACHE_DIR"

const (
	appName               = "narration-service"
	cacheDirName          = "cache"
	modelsDirName         = "models"
	dotCache              = ".cache"
	defaultDirPermissions = 0o750
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// GetCacheDir returns the cache directory, honouring NARRATION_CACHE_DIR.
func GetCacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, cacheDirName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// GetModelPath resolves modelName against the working directory, ./models and
// the cache's models directory, in that order.
func GetModelPath(modelName string) (string, error) {
	candidatePaths := []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
		filepath.Join(GetCacheDir(), modelsDirName, modelName),
	}

	for _, path := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		}

		if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
}

// resolveSinglePath reports found=false without error when path does not exist.
func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("error checking model path %q: %w", path, statErr)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("could not resolve absolute path for %q: %w", path, err)
	}

	return absPath, true, nil
}
