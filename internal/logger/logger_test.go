package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode, level string
		debug, info bool
	}{
		{"dev", "", false, true},
		{"dev", "debug", true, true},
		{"production", "warn", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode+"/"+tt.level, func(t *testing.T) {
			l, err := New(tt.mode, tt.level, filepath.Join(dir, tt.mode+tt.level+".log"))
			require.NoError(t, err)
			assert.Equal(t, tt.debug, l.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.info, l.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("dev", "chatty", "")
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.log")
	l, err := New("production", "info", path)
	require.NoError(t, err)
	l.Info("ingestion complete")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ingestion complete")
}
