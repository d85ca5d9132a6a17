package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/unity-host/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		enabled zapcore.Level
		skipped zapcore.Level
	}{
		{"info console", config.LogConfig{Level: "info", Format: "console"}, zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn json", config.LogConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel, zapcore.InfoLevel},
		{"debug development", config.LogConfig{Level: "debug", Development: true}, zapcore.DebugLevel, zapcore.InvalidLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.enabled))
			if tt.skipped != zapcore.InvalidLevel {
				assert.False(t, l.Core().Enabled(tt.skipped))
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty", Format: "json"})
	assert.ErrorContains(t, err, "log level")

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
}

func TestMust_Panics(t *testing.T) {
	assert.Panics(t, func() { Must(config.LogConfig{Level: "?"}) })
}
