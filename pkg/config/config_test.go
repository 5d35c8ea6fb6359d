package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  read_timeout: 5s
redis:
  addr: "redis.internal:6379"
database:
  enabled: true
  host: db.internal
  dbname: logshield
ensemble:
  weights:
    isolation_forest: 0.6
    dbscan: 0.2
    gmm: 0.2
  thresholds:
    low: 0.3
    medium: 0.5
    high: 0.7
    critical: 0.9
features:
  privileged_users: [root, admin]
`), 0o644))

	t.Setenv("REDIS_ADDR", "override:6380")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "override:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.InDelta(t, 0.6, cfg.Ensemble.Weights.IsolationForest, 1e-9)
	assert.Equal(t, 0.5, cfg.Ensemble.Thresholds.Medium)
	assert.Equal(t, []string{"root", "admin"}, cfg.Features.PrivilegedUsers)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  weights:
    isolation_forest: 0.9
    dbscan: 0.9
    gmm: 0.9
`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "ensemble weights")
}

func TestLoadRejectsUnorderedThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  thresholds:
    low: 0.8
    medium: 0.6
    high: 0.7
    critical: 0.9
`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "ensemble thresholds")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
