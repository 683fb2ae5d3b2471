package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
spotify:
  client_id: "test-client-id"
  client_secret: "test-client-secret"
admin:
  token: "test-admin-token"
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "auxbox.db", cfg.Store.Path)
	assert.Equal(t, "http://127.0.0.1:8080/callback", cfg.Spotify.RedirectURL)
	assert.Equal(t, 300, cfg.Credential.RefreshMarginSec)
	assert.Equal(t, 4000, cfg.Reconcile.IntervalMs)
	assert.True(t, cfg.Scheduler.PlaylistRefill)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
store:
  path: /var/lib/auxbox/auxbox.db
spotify:
  client_id: "id"
  client_secret: "secret"
  redirect_url: "https://jukebox.example.com/callback"
admin:
  token: "tok"
credential:
  refresh_margin_sec: 120
reconcile:
  interval_ms: 2000
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 10
  cooldown_filter:
    enabled: false
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/auxbox/auxbox.db", cfg.Store.Path)
	assert.Equal(t, "https://jukebox.example.com/callback", cfg.Spotify.RedirectURL)
	assert.Equal(t, 2*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, 2*time.Minute, cfg.RefreshMargin())

	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("cooldown_filter"))
	// Unconfigured filters default to enabled, like the chain itself.
	assert.True(t, cfg.IsFilterEnabled("unknown_filter"))

	settings := cfg.FilterSettings("duration_limit_filter")
	require.NotNil(t, settings)
	assert.Equal(t, 10, settings["max_minutes"])
	assert.Nil(t, cfg.FilterSettings("unknown_filter"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")
	t.Setenv("ADMIN_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.Equal(t, "env-secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "env-token", cfg.Admin.Token)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")
	_, err := Load(writeConfig(t, `
spotify:
  client_id: "id"
admin:
  token: "tok"
`))
	assert.Error(t, err)
}

func TestLoadInvalidInterval(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
reconcile:
  interval_ms: 100
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
