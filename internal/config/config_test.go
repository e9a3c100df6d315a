package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Server, cfg.Server)
	assert.Equal(t, d.Database, cfg.Database)
	assert.Equal(t, d.Scraper.RequestTimeout, cfg.Scraper.RequestTimeout)
	assert.Equal(t, d.Scheduler.CacheCron, cfg.Scheduler.CacheCron)
	assert.Empty(t, cfg.Providers)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
scraper:
  request_timeout: 10s
  backoff: 2m
  detail_delay: 500ms
scheduler:
  cache_cron: "0 * * * *"
  run_on_start: true
providers:
  IPTorrents:
    enabled: true
    minseed: 2
    digest: "uid=1; pass=abc"
  shazbat:
    enabled: false
    username: alice
    password: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Scraper.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Scraper.Backoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.DetailDelay)
	assert.True(t, cfg.Scheduler.RunOnStart)

	ipt, ok := cfg.Providers["iptorrents"]
	require.True(t, ok)
	assert.Equal(t, 2, ipt.MinSeed)
	assert.Equal(t, map[string]string{"digest": "uid=1; pass=abc"}, ipt.Values())

	assert.Equal(t, []string{"iptorrents"}, cfg.EnabledProviders())
	assert.Equal(t, "alice", cfg.Providers["shazbat"].Values()["username"])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCRAPECORE_SERVER_PORT", "7070")
	t.Setenv("SCRAPECORE_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"negative minseed", "providers:\n  x:\n    minseed: -1\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Errorf("Load() error = nil, want error")
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8585}
	if got := s.Address(); got != "127.0.0.1:8585" {
		t.Errorf("Address() = %q", got)
	}
}
