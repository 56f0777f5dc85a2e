package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8, c.Forecast.Horizon)
	assert.Equal(t, 7, c.Forecast.StepDays)
	assert.Equal(t, "370", c.Forecast.DefaultCode)
	assert.Equal(t, 3, c.Forecast.ValidationWindow.Months)
	assert.True(t, c.Trainer.RefitFullSeries)
	assert.Equal(t, "badger", c.Registry.Backend)
	assert.Equal(t, "tunning_results", c.Registry.TuningRoot)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, 5, c.Server.RunBurst)
	assert.Equal(t, DefaultGrid(), c.Forecast.Grid)
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
environment: production
trainer:
  refit_full_series: false
  test_window:
    periods: 12
forecast:
  grid:
    p: [0, 1]
    d: [1]
    q: [0]
    seasonal_p: [0]
    seasonal_d: [0]
    seasonal_q: [0]
    s: [52]
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.False(t, c.Trainer.RefitFullSeries)
	assert.Equal(t, 12, c.Trainer.TestWindow.Periods)
	assert.Equal(t, []int{0, 1}, c.Forecast.Grid.P)
	assert.Equal(t, []int{52}, c.Forecast.Grid.S)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("registry:\n  backend: s3\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("registry:\n  backend: gcs\n"))
	assert.Error(t, err, "gcs needs a bucket")

	_, err = Parse([]byte("forecast:\n  validation_window:\n    months: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("forecast:\n  grid:\n    p: [-1]\n"))
	assert.Error(t, err)
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o644))

	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REGISTRY_BACKEND", "gcs")
	t.Setenv("GCS_BUCKET", "epicast-models")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "ch.internal", c.ClickHouse.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "gcs", c.Registry.Backend)
	assert.Equal(t, "epicast-models", c.Registry.Bucket)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 9090, c.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
