// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vantor-labs/concierge/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer for capturing console
// output without touching the real stdout.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("console format produces a single readable line", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
		}
		Initialize(cfg, &buf)
		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO", "Output should contain the log level")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, "TestService.", "Logger name should be a dot-suffixed prefix")
	})

	t.Run("json format emits valid structured entries", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		cfg := config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		}
		Initialize(cfg, &buf)
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("writes to a log file if configured", func(t *testing.T) {
		ResetForTest()
		tmpFile, err := os.CreateTemp("", "logger-test-*.log")
		require.NoError(t, err)
		defer os.Remove(tmpFile.Name())

		cfg := config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: tmpFile.Name(),
			MaxSize: 1, // MB
		}
		Initialize(cfg, zapcore.AddSync(&syncBuffer{}))
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(tmpFile.Name())
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("initializes only once", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, &buf)
		logger1 := GetLogger()

		// Second call must be a no-op.
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, &buf)
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		ResetForTest()
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, zapcore.AddSync(&syncBuffer{}))

		logger := GetLogger()
		assert.Equal(t, globalLogger.Load(), logger)
	})
}

func TestIsInitialized(t *testing.T) {
	ResetForTest()
	assert.False(t, IsInitialized())

	Initialize(config.LoggerConfig{Level: "info", ServiceName: "InitTest"}, zapcore.AddSync(&syncBuffer{}))
	assert.True(t, IsInitialized())
}
