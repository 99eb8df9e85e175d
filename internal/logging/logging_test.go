package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  bool
		check func(l *zap.Logger) bool
	}{
		{name: "debug enables debug", level: "debug", check: func(l *zap.Logger) bool { return l.Core().Enabled(zap.DebugLevel) }, want: true},
		{name: "default is info", level: "", check: func(l *zap.Logger) bool { return l.Core().Enabled(zap.DebugLevel) }, want: false},
		{name: "error hides warn", level: "error", check: func(l *zap.Logger) bool { return l.Core().Enabled(zap.WarnLevel) }, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, "json")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.check(l))
		})
	}
}

func TestNewConsole(t *testing.T) {
	l, err := New("info", "console")
	require.NoError(t, err)
	l.Info("console logger works")
}
