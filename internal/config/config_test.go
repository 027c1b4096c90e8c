package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default("acme")
	assert.Equal(t, "acme", cfg.Workspace.Name)
	assert.Equal(t, 90, cfg.Freshness.DefaultReviewFrequencyDays)
	assert.Equal(t, 15, cfg.Freshness.DefaultReviewDueLeadDays)
	assert.False(t, cfg.Freshness.BlockInProgressWhenExpired)
	assert.Equal(t, time.Minute, cfg.Reactor.Interval)
	assert.Equal(t, 50, cfg.Reactor.HealthAlertThreshold)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
workspace:
  name: ops
freshness:
  block_in_progress_when_expired: true
webhooks:
  - url: https://hooks.example.com/procline
    events: [run.health.critical]
`))
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Workspace.Name)
	assert.True(t, cfg.Freshness.BlockInProgressWhenExpired)
	assert.Equal(t, 90, cfg.Freshness.DefaultReviewFrequencyDays)
	assert.Equal(t, time.Minute, cfg.Reactor.Interval)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"run.health.critical"}, cfg.Webhooks[0].Events)
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"negative cadence": "freshness:\n  default_review_frequency_days: -1\n",
		"zero interval":    "reactor:\n  interval: 0s\n",
		"threshold range":  "reactor:\n  health_alert_threshold: 120\n",
		"webhook url":      "webhooks:\n  - url: not-a-url\n",
		"empty name":       "workspace:\n  name: \"\"\n",
		"bad yaml":         "workspace: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "finance")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "finance", cfg.Workspace.Name, "missing file falls back to defaults named after the directory")

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("workspace:\n  name: books\nreactor:\n  interval: 5m\n"), 0o644))
	cfg, err = config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "books", cfg.Workspace.Name)
	assert.Equal(t, 5*time.Minute, cfg.Reactor.Interval)
}
