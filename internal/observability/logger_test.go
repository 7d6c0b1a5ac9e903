package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

func newBuffered(t *testing.T, cfg config.LoggerConfig) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return logger, &buf
}

func TestNew(t *testing.T) {
	t.Run("console with colors", func(t *testing.T) {
		logger, buf := newBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "pilot",
			Colors:      config.ColorConfig{Info: "green"},
		})
		logger.Named("orchestrator").Info("Task started", zap.String("task", "open the news"))
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, colorCodes["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "pilot.orchestrator.")
		assert.Contains(t, out, "Task started")
		assert.Contains(t, out, `"task": "open the news"`)
	})

	t.Run("uncolored level without a color", func(t *testing.T) {
		logger, buf := newBuffered(t, config.LoggerConfig{Level: "debug", Colors: config.ColorConfig{Debug: "mauve"}})
		logger.Debug("scan")
		assert.Contains(t, buf.String(), "DEBUG")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("json", func(t *testing.T) {
		logger, buf := newBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "pilot"})
		logger.Warn("Fast path failed", zap.String("skill", "fast_path"))
		logger.Debug("dropped")

		var entry map[string]any
		require.NoError(t, jsoniter.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "pilot", entry["logger"])
		assert.Equal(t, "Fast path failed", entry["msg"])
		assert.Equal(t, "fast_path", entry["skill"])
		assert.NotContains(t, buf.String(), "dropped")
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "pilot.log")
		logger, _ := newBuffered(t, config.LoggerConfig{Level: "debug", LogFile: path, MaxSize: 1})
		logger.Error("Skill panicked")
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Skill panicked"`)
	})

	t.Run("rejected configuration", func(t *testing.T) {
		_, err := New(config.LoggerConfig{Level: "chatty"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.ErrorContains(t, err, "invalid log level")
		_, err = New(config.LoggerConfig{Format: "xml"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.ErrorContains(t, err, "unknown log format")
	})
}

func TestInitialize(t *testing.T) {
	t.Cleanup(ResetForTest)

	t.Run("first call wins", func(t *testing.T) {
		ResetForTest()
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "first"}, zapcore.AddSync(&buf))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "second"}, zapcore.AddSync(&buf))

		assert.Same(t, first, GetLogger())
		GetLogger().Info("hello")
		Sync()
		assert.Contains(t, buf.String(), "first.")
		assert.False(t, strings.Contains(buf.String(), "second"))
	})

	t.Run("bad configuration falls back", func(t *testing.T) {
		ResetForTest()
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "loud"}, zapcore.AddSync(&buf))
		assert.Contains(t, buf.String(), "Logger configuration rejected")
		assert.NotNil(t, GetLogger())
	})

	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
		assert.Nil(t, globalLogger.Load())
		Sync()
	})
}
