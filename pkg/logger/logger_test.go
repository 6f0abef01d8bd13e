package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		environment string
	}{
		{name: "debug level development", level: "debug", environment: "development"},
		{name: "info level production", level: "info", environment: "production"},
		{name: "warn level", level: "warn", environment: "production"},
		{name: "error level", level: "error", environment: "production"},
		{name: "invalid level defaults to info", level: "invalid", environment: "production"},
		{name: "empty level defaults to info", level: "", environment: "production"},
		{name: "case insensitive level", level: "DEBUG", environment: "development"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.environment)
			require.NoError(t, err)
			require.NotNil(t, logger)
			require.NotNil(t, logger.SugaredLogger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestLogger_WithFields(t *testing.T) {
	logger, err := New("debug", "test")
	require.NoError(t, err)

	for _, fields := range []map[string]interface{}{
		{"account_id": "alice.test.near"},
		{"method": "stake", "epoch": 4, "ok": true},
		{},
		nil,
	} {
		child := logger.WithFields(fields)
		assert.NotNil(t, child)
		assert.NotSame(t, logger, child)
	}
}

func TestLogger_StructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)
	logger := &Logger{SugaredLogger: zap.New(core).Sugar()}

	logger.WithFields(map[string]interface{}{"farm_id": 3}).Infow("Reward claimed", "amount", "1000")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Reward claimed", entry["msg"])
	assert.Equal(t, "1000", entry["amount"])
	assert.EqualValues(t, 3, entry["farm_id"])
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.Infow("discarded", "key", "value")
		logger.WithFields(nil).Error("discarded")
	})
}
