package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
subscription:
  codes: ["518880.SH"]
  periods: ["1m"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.QMT.Mode)
	assert.Equal(t, "xt:topic:bar", cfg.Redis.Topic)
	assert.Equal(t, "close_only", cfg.Subscription.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "xt:bridge:control", cfg.Control.Channel)
	assert.Equal(t, "xt:bridge:ack", cfg.Control.AckPrefix)
	assert.Equal(t, 5, cfg.Health.IntervalSec)
	assert.Equal(t, 10, cfg.Health.TTLSec)
	assert.Equal(t, 1000, cfg.Mock.IntervalMs)
}

func TestLoad_RejectsBadMode(t *testing.T) {
	path := writeConfig(t, `
subscription:
  mode: "sometimes"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "subscription.mode")
}

func TestLoad_RejectsUnknownPeriod(t *testing.T) {
	path := writeConfig(t, `
subscription:
  periods: ["3m"]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported period")
}

func TestLoad_RejectsLegacyModeWithoutToken(t *testing.T) {
	path := writeConfig(t, `
qmt:
  mode: legacy
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "qmt.token")
}

func TestLoad_EnforcesMinimumHealthTTL(t *testing.T) {
	path := writeConfig(t, `
health:
  enabled: true
  interval_sec: 5
  ttl_sec: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Health.TTLSec)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRedisConfig_AddrPrefersURL(t *testing.T) {
	r := RedisConfig{URL: "redis://example:6380/2", Host: "ignored"}
	addr, _, _, useURL, url := r.Addr()
	assert.True(t, useURL)
	assert.Equal(t, "redis://example:6380/2", url)
	assert.Empty(t, addr)
}

func TestRedisConfig_AddrDefaultsHostPort(t *testing.T) {
	r := RedisConfig{}
	addr, _, db, useURL, _ := r.Addr()
	assert.False(t, useURL)
	assert.Equal(t, "127.0.0.1:6379", addr)
	assert.Equal(t, 0, db)
}
