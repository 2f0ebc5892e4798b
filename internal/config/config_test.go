package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 300*time.Second, cfg.Approval.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Approval.PollInterval)
	assert.Equal(t, "system:kill_switch", cfg.KillSwitch.Key)
	assert.Equal(t, 24*time.Hour, cfg.KillSwitch.TTL)
	assert.False(t, cfg.KillSwitch.FailClosed)
	assert.Equal(t, 1000, cfg.Monitoring.HistorySize)
	assert.Equal(t, 5*time.Minute, cfg.Verification.Delay)
	assert.Equal(t, 24*time.Hour, cfg.Verification.CommunicationDelay)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "careops.yaml")
	content := `
mode: ci
redis:
  host: redis.internal
  port: 6380
approval:
  timeout: 90s
  poll_interval: 1s
kill_switch:
  fail_closed: true
policy:
  path: /etc/careops/policy.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ci", cfg.Mode)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, 90*time.Second, cfg.Approval.Timeout)
	assert.Equal(t, time.Second, cfg.Approval.PollInterval)
	assert.True(t, cfg.KillSwitch.FailClosed)
	assert.Equal(t, "/etc/careops/policy.yaml", cfg.Policy.Path)
	// untouched sections keep defaults
	assert.Equal(t, "system:kill_switch", cfg.KillSwitch.Key)
	assert.Equal(t, 1000, cfg.Monitoring.HistorySize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APPROVAL_TIMEOUT", "45")
	t.Setenv("KILL_SWITCH_REDIS_KEY", "ops:kill")
	t.Setenv("TRUST_BOUNDARIES_CONFIG_PATH", "/tmp/tb.yaml")
	t.Setenv("DATABASE_URL", "postgres://careops@db/careops")
	t.Setenv("REDIS_HOST", "cache")

	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Approval.Timeout)
	assert.Equal(t, "ops:kill", cfg.KillSwitch.Key)
	assert.Equal(t, "/tmp/tb.yaml", cfg.Policy.Path)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "cache", cfg.Redis.Host)
}

func TestKeychainFallback(t *testing.T) {
	keyring.MockInit()
	km := NewKeyringManager()
	require.True(t, km.IsAvailable())
	require.NoError(t, km.Set(KeyringGeminiKeyItem, "gm-secret"))
	require.NoError(t, km.Set(KeyringSMSTokenItem, "sms-secret"))

	t.Setenv("GEMINI_API_KEY", "")
	cfg := Default()
	cfg.LLM.UseKeychain = true
	applyEnvOverrides(cfg)

	assert.Equal(t, "gm-secret", cfg.LLM.GeminiKey)
	assert.Equal(t, "sms-secret", cfg.SMS.AuthToken)

	require.NoError(t, km.Delete(KeyringGeminiKeyItem))
	require.NoError(t, km.Delete(KeyringGeminiKeyItem), "deleting twice is not an error")
	got, err := km.Get(KeyringGeminiKeyItem)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Redis.Host = "redis"
	cfg.Approval.Timeout = 2 * time.Minute
	cfg.LLM.OpenAIKey = "must-not-be-written"

	path := filepath.Join(t.TempDir(), "nested", "careops.yaml")
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "must-not-be-written")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", loaded.Redis.Host)
	assert.Equal(t, 2*time.Minute, loaded.Approval.Timeout)
}
