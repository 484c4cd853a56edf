package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alexbotov/betledger/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		logger, err := New("betledger", "local", config.LogConfig{})
		if err != nil {
			t.Fatalf("Failed to build logger: %v", err)
		}
		logger.Info("hello")
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New("betledger", "production", config.LogConfig{Level: "chatty"}); err == nil {
			t.Error("Expected invalid level error")
		}
	})

	t.Run("FileSink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "betledger.log")
		logger, err := New("betledger", "production", config.LogConfig{
			Level:      "info",
			File:       path,
			MaxSizeMB:  1,
			MaxBackups: 1,
			MaxAgeDays: 1,
		})
		if err != nil {
			t.Fatalf("Failed to build logger: %v", err)
		}
		logger.Info("deposit recorded")
		logger.Debug("filtered out")
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "deposit recorded") {
			t.Errorf("Expected entry in log file, got %s", data)
		}
		if strings.Contains(string(data), "filtered out") {
			t.Error("Debug entry should be filtered at info level")
		}
		if !strings.Contains(string(data), `"service":"betledger"`) {
			t.Errorf("Expected service field, got %s", data)
		}
	})
}
