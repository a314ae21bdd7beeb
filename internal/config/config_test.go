package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.NotContains(t, cfg.Store.DatabaseURL, "~")
	assert.NotContains(t, cfg.Scan.LockFile, "~")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Classify.BatchSize)
	assert.Equal(t, 3, cfg.Scan.FirstScanMultiplier)
	assert.Equal(t, 50, cfg.Limits.GoogleNews)
	assert.Equal(t, 5, cfg.Narrative.MinItems)
	assert.Equal(t, 200, cfg.Narrative.MaxItems)
	assert.True(t, cfg.Narrative.Enabled)
	assert.Equal(t, "0 0 7 * * *", cfg.Scheduler.DailyCron)
	assert.Equal(t, 30, cfg.Scheduler.PauseSecs)
	assert.InDelta(t, 0.20, cfg.Scoring.Weights["volume"], 0.001)
	assert.InDelta(t, 0.25, cfg.Scoring.Weights["press"], 0.001)
	assert.InDelta(t, 0.15, cfg.Scoring.Weights["no_controversy"], 0.001)
	assert.Equal(t, 3, cfg.Alerts.NegativePressMin)
	assert.Equal(t, 7, cfg.Alerts.InactivityDays)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/monitor
log:
  level: debug
  format: console
classify:
  batch_size: 20
scheduler:
  pause_secs: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/monitor", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Classify.BatchSize)
	assert.Equal(t, 5, cfg.Scheduler.PauseSecs)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Limits.Reddit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("MONITOR_LOG_LEVEL", "warn")
	t.Setenv("MONITOR_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerAuto(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "auto"})
	require.NoError(t, err)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "monitor.db"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Classify.BatchSize = 30
	cfg.Scan.FirstScanMultiplier = 3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateScan_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("scan"))
}

func TestValidateScan_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStore_NoKeyNeeded(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateBatchSizeBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Classify.BatchSize = 31
	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify.batch_size must be between 1 and 30")

	cfg.Classify.BatchSize = 0
	assert.Error(t, cfg.Validate("scan"))

	cfg.Classify.BatchSize = 1
	assert.NoError(t, cfg.Validate("scan"))
}

func TestValidateNegativeWeight(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.Weights = map[string]float64{"volume": -0.1}

	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.weights.volume must be >= 0")
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
