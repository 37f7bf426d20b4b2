package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spoofdet.log")
	require.NoError(t, Init(Config{Level: "debug", File: path, MaxSizeMB: 1}))
	Log().Info("engine created", zap.String("id", "abc"))
	Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"engine created"`)
	assert.Contains(t, string(b), `"timestamp"`)
	assert.Same(t, Log(), zap.L())
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init(Config{Level: "loud"}))
}

func TestDevelopment(t *testing.T) {
	require.NoError(t, InitDevelopment())
	assert.NotNil(t, S())
	assert.True(t, Log().Core().Enabled(zap.DebugLevel))
	require.NoError(t, InitProduction())
	assert.False(t, Log().Core().Enabled(zap.DebugLevel))
}
