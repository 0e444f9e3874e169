package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, time.Second, cfg.Transport.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Persistence.Debounce)
	assert.Equal(t, 60*time.Second, cfg.Persistence.Interval)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Notifications.TTL)
	assert.Equal(t, 3*time.Second, cfg.Notifications.HideDeadDelay)
	assert.Equal(t, 24.0, cfg.Motion.CollisionRadius)
	assert.Equal(t, 800.0, cfg.Motion.CanvasWidth)
	assert.Equal(t, BackendGraphQL, cfg.Authority.Backend)
	assert.Equal(t, SessionSQLite, cfg.Session.Backend)
}

func TestLoad_ExpandsEnvAndKeepsOverrides(t *testing.T) {
	t.Setenv("PETSYNC_TEST_AUTHORITY", "http://authority.test/graphql")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
authority:
  url: ${PETSYNC_TEST_AUTHORITY}
transport:
  base_delay: 250ms
persistence:
  debounce: 5s
  enabled: false
feed:
  source: kafka
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://authority.test/graphql", cfg.Authority.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxDelay)
	assert.Equal(t, 5*time.Second, cfg.Persistence.Debounce)
	assert.False(t, cfg.Persistence.Enabled)
	assert.Equal(t, FeedSourceKafka, cfg.Feed.Source)
}

func TestLoad_PersistenceEnabledByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPostgresConnectionString(t *testing.T) {
	c := PostgresConfig{User: "pet", Password: "pw", Host: "db", Port: 5433, Database: "pets"}
	assert.Equal(t, "postgres://pet:pw@db:5433/pets?sslmode=disable", c.ConnectionString())
}
