package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		quiet   zapcore.Level
	}{
		{"", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"ERROR", zapcore.ErrorLevel, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(tt.level, FormatJSON)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.enabled))
			assert.False(t, log.Core().Enabled(tt.quiet))
			assert.Same(t, log, zap.L())
		})
	}
}

func TestNew_Console(t *testing.T) {
	log, err := New("info", FormatConsole)
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("loud", FormatJSON)
	assert.ErrorContains(t, err, `invalid log level "loud"`)

	_, err = New("info", "xml")
	assert.ErrorContains(t, err, `invalid log format "xml"`)
}
