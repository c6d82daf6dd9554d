package config

import (
	"os"
	"path/filepath"
	"testing"

	"backlab/internal/optimize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.App.Env)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":9980", cfg.Server.Addr)
	assert.False(t, cfg.Report.PNG)
	assert.Equal(t, "data/candles", cfg.Data.Root)
	assert.Equal(t, 480, cfg.Data.RateLimitPerMin)
	assert.Equal(t, optimize.ModeBayesian, cfg.Search.Defaults.Mode)
	assert.Equal(t, 100, cfg.Search.Defaults.TrialBudget)
	assert.Equal(t, int64(42), cfg.Search.Defaults.Seed)
	assert.Equal(t, 5, cfg.Search.Defaults.TopK)
	assert.InDelta(t, 0.02, cfg.Search.Defaults.RiskFreeRate, 1e-12)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
  log_level: debug
data:
  root: /tmp/candles
server:
  addr: ":8088"
search:
  runs_db: /tmp/runs.db
  defaults:
    mode: grid
    trial_budget: 12
    seed: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, "/tmp/candles", cfg.Data.Root)
	assert.Equal(t, optimize.ModeGrid, cfg.Search.Defaults.Mode)
	assert.Equal(t, 12, cfg.Search.Defaults.TrialBudget)
	assert.Equal(t, int64(7), cfg.Search.Defaults.Seed)
	// 未覆盖字段保留默认值
	assert.Equal(t, 10, cfg.Search.Defaults.MinTrades)
	assert.Equal(t, "binance", cfg.Data.Exchange)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "data:\n  root: \"\"\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "search:\n  defaults:\n    mode: simulated_annealing\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOneShotMode(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  enabled: false\n"))
	require.Error(t, err, "one-shot mode without run block must fail")

	cfg, err := Load(writeConfig(t, `
server:
  enabled: false
run:
  strategy: ma_cross
  symbol: BTCUSDT
  timeframe: 1h
`))
	require.NoError(t, err)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "ma_cross", cfg.Run.Strategy)
	assert.Equal(t, "BTCUSDT", cfg.Run.Symbol)
}
