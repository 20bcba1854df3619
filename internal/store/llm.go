package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdamTech2025/twitter-autobot/internal/config"
)

// LLMExchange represents a prompt/response pair kept for debugging
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Topic     string    `json:"topic"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// ArtifactDir returns the cache subdirectory for a kind of artifact, for
// example "llm" or "runs".
func ArtifactDir(kind string) (string, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, kind), nil
}

// SaveLLMExchange writes an exchange to a timestamped file under dir.
// Returns the path to the saved file.
func SaveLLMExchange(dir string, exchange LLMExchange) (string, error) {
	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = time.Now()
	}
	// Dashes instead of colons for filesystem compatibility
	return SaveArtifact(dir, exchange.Timestamp.Format("2006-01-02T15-04-05.000000000"), exchange)
}

// SaveArtifact serializes data as indented JSON to dir/name.json.
func SaveArtifact[T any](dir, name string, data T) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}

	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}
