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
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, Init(Options{File: path}))
	defer setLogger(zap.NewNop())

	Log().Info("session created", zap.String("sessionID", "abc"))
	S().Infow("frame dropped", "reason", "busy")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session created"`)
	assert.Contains(t, string(data), `"sessionID":"abc"`)
	assert.Contains(t, string(data), `"reason":"busy"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestDevelopmentDPanics(t *testing.T) {
	require.NoError(t, InitDevelopment())
	defer setLogger(zap.NewNop())
	assert.Panics(t, func() { Log().DPanic("malformed landmarks") })
}

func TestProductionDPanicLogs(t *testing.T) {
	require.NoError(t, InitProduction())
	defer setLogger(zap.NewNop())
	assert.NotPanics(t, func() { Log().DPanic("malformed landmarks") })
}

func TestLogBeforeInit(t *testing.T) {
	assert.NotNil(t, Log())
	assert.NotNil(t, S())
}
