package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/untibullet/request-desk/internal/config"
)

func TestNew_Levels(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New(config.LoggerConfig{Level: "garbage", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(config.LoggerConfig{
		Level:  "info",
		Format: "json",
		File:   config.LoggerFileConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	log.Info("request created", zap.String("request_id", "r-1"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"r-1"`)
}

func TestNew_FileWithoutPath(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "info", File: config.LoggerFileConfig{Enabled: true}})
	assert.Error(t, err)
}
