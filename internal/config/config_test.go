package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/stress"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 365, cfg.Retention.Days)
	assert.Equal(t, 11.58, cfg.Sources.Shanghai.ObservedPremiumUSD)
	assert.Equal(t, 12.0, cfg.Sources.Premiums.EstimatePct)
	assert.True(t, cfg.Sources.Kitco.Enabled)
	assert.Equal(t, "https://www.kitco.com/charts/livesilver.html", cfg.Sources.Kitco.URL)

	engine := cfg.Stress.Engine()
	require.NoError(t, engine.Validate())
	assert.Equal(t, stress.DefaultTable(), engine.Thresholds)
	assert.Equal(t, stress.DefaultBands(), engine.CompositeBands)
	assert.Equal(t, 5.0, engine.TrendThreshold)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadThresholdSetReplacesDefault(t *testing.T) {
	path := writeConfig(t, `
stress:
  thresholds:
    lease_rate:
      levels:
        normal_high: 4
        stressed: 12
  trend_threshold_moz: 7.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	lease := cfg.Stress.Thresholds[stress.ThresholdLeaseRate]
	assert.Equal(t, stress.HigherIsWorse, lease.Direction)
	assert.Equal(t, map[stress.Level]float64{stress.NormalHigh: 4, stress.Stressed: 12}, lease.Levels)
	_, ok := lease.Get(stress.Extreme)
	assert.False(t, ok)

	def := stress.DefaultTable()
	assert.Equal(t, def[stress.ThresholdPremiumPct], cfg.Stress.Thresholds[stress.ThresholdPremiumPct])
	assert.Equal(t, def[stress.ThresholdInventoryTotal], cfg.Stress.Thresholds[stress.ThresholdInventoryTotal])
	assert.Equal(t, 7.5, cfg.Stress.TrendThresholdMoz)
}

func TestLoadThresholdDirectionOnlyKeepsDefaultLevels(t *testing.T) {
	path := writeConfig(t, `
stress:
  thresholds:
    shanghai_premium:
      direction: higher_is_worse
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, stress.DefaultTable()[stress.ThresholdShanghaiPremium], cfg.Stress.Thresholds[stress.ThresholdShanghaiPremium])
}

func TestLoadRejectsIncompleteThresholdSet(t *testing.T) {
	path := writeConfig(t, `
stress:
  thresholds:
    premium_pct:
      levels:
        stressed: 10
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.premium_pct: missing normal_high")
}

func TestLoadRejectsNonMonotonicThresholds(t *testing.T) {
	path := writeConfig(t, `
stress:
  thresholds:
    premium_pct:
      levels:
        normal_high: 15
        watch: 10
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.premium_pct")
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Alerting.Telegram.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "bot_token")

	cfg.Alerting.Telegram.BotToken = "token"
	assert.ErrorContains(t, cfg.Validate(), "chat_id")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "database.driver")
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 20, cfg.ResolveMaxPoints(20))
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
