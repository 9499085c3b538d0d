package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Agent.Host)
	assert.Equal(t, []string{"developer"}, cfg.Agent.Extensions)
	assert.Equal(t, 30*time.Second, cfg.Agent.StartupTimeoutDuration())
	assert.Equal(t, 3*time.Second, cfg.Agent.StopGracePeriodDuration())
	assert.Equal(t, 7331, cfg.Gateway.Port)
	assert.Equal(t, "127.0.0.1:7331", cfg.Gateway.Addr())
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "goose.chat", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
agent:
  provider: openai
  model: gpt-4o
  extensions: [developer, memory]
gateway:
  port: 9001
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "gpt-4o", cfg.Agent.Model)
	assert.Equal(t, []string{"developer", "memory"}, cfg.Agent.Extensions)
	assert.Equal(t, 9001, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GOOSE_BRIDGE_GATEWAY_PORT", "9100")
	t.Setenv("GOOSED_PATH", "/opt/goose/goosed")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Gateway.Port)
	assert.Equal(t, "/opt/goose/goosed", cfg.Agent.BinaryPath)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Agent:   AgentConfig{StartupTimeout: 30, StopGracePeriod: 3, RequestTimeout: 30},
			Gateway: GatewayConfig{Port: 7331},
			Logging: LoggingConfig{Level: "info", Format: "text"},
		}
	}

	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, validate(valid()))
	})

	t.Run("rejects bad port", func(t *testing.T) {
		cfg := valid()
		cfg.Gateway.Port = 70000
		assert.ErrorContains(t, validate(cfg), "gateway.port")
	})

	t.Run("requires secret for external agent", func(t *testing.T) {
		cfg := valid()
		cfg.Agent.URL = "http://127.0.0.1:3000"
		assert.ErrorContains(t, validate(cfg), "agent.secretKey")
	})

	t.Run("rejects unknown log level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "verbose"
		assert.ErrorContains(t, validate(cfg), "logging.level")
	})
}
