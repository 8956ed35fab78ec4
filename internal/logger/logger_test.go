package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/coin-hopper/internal/config"
)

func TestBuildFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
		File: config.LogFileConfig{
			Path:       dir,
			Filename:   "hopper.log",
			MaxSize:    1,
			MaxAge:     1,
			MaxBackups: 1,
		},
		Modules: map[string]string{ModuleSerial: "warn"},
	}

	l, modules, err := build(cfg)
	require.NoError(t, err)
	require.Contains(t, modules, ModuleSerial)

	l.Info("payout started", zap.String("payout_id", "p-1"))
	l.Error("hopper stalled", zap.Uint32("dispensed", 2))
	modules[ModuleSerial].Info("filtered by module level")
	_ = l.Sync()

	main, err := os.ReadFile(filepath.Join(dir, "hopper.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "payout started")
	assert.Contains(t, string(main), "hopper stalled")
	assert.NotContains(t, string(main), "filtered by module level")

	errLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "hopper stalled")
	assert.NotContains(t, string(errLog), "payout started")
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	assert.Equal(t, "debug", Level())

	SetLevel("warn")
	assert.Equal(t, "warn", Level())

	SetLevel("bogus")
	assert.Equal(t, "info", Level())
}

func TestGetModuleLoggerFallback(t *testing.T) {
	assert.NotNil(t, GetModuleLogger("unknown"))
	assert.NotNil(t, GetSugar())
}
