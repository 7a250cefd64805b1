package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "config_source: ${TEST_CONFIG_SOURCE}",
			envVars: map[string]string{
				"TEST_CONFIG_SOURCE": "/etc/flashgate/core.json",
			},
			expected: "config_source: /etc/flashgate/core.json",
		},
		{
			name:  "expand multiple env vars",
			input: "redis_addr: ${REDIS_ADDR}\nslack_webhook: ${SLACK_WEBHOOK}",
			envVars: map[string]string{
				"REDIS_ADDR":    "10.0.0.5:6379",
				"SLACK_WEBHOOK": "https://hooks.slack.example/T000",
			},
			expected: "redis_addr: 10.0.0.5:6379\nslack_webhook: https://hooks.slack.example/T000",
		},
		{
			name:     "missing env var returns empty string",
			input:    "config_source: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "config_source: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "flashgate-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `config_source: "${TEST_GATE_CONFIG_SOURCE}"
log_level: "debug"

cache:
  driver: "redis"
  redis_addr: "${TEST_GATE_REDIS_ADDR}"

metrics:
  enabled: true
  listen_addr: ":9109"

alerts:
  slack_webhook: "https://hooks.slack.example/T000/B000/XXX"
`

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	os.Setenv("TEST_GATE_CONFIG_SOURCE", "http://core.local/configs/gate.json")
	os.Setenv("TEST_GATE_REDIS_ADDR", "10.1.2.3:6379")
	defer os.Unsetenv("TEST_GATE_CONFIG_SOURCE")
	defer os.Unsetenv("TEST_GATE_REDIS_ADDR")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "http://core.local/configs/gate.json", cfg.ConfigSource)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, CacheDriverRedis, cfg.Cache.Driver)
	assert.Equal(t, "10.1.2.3:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9109", cfg.Metrics.ListenAddr)
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "flashgate-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString("config_source: \"./core.json\"\n")
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, CacheDriverRedis, cfg.Cache.Driver)
	assert.Equal(t, "127.0.0.1:6379", cfg.Cache.RedisAddr)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ConfigSource: "./core.json",
			LogLevel:     "info",
			Cache:        CacheConfig{Driver: CacheDriverMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(*Config) {},
		},
		{
			name:    "missing config source",
			mutate:  func(c *Config) { c.ConfigSource = "" },
			wantErr: "config_source",
		},
		{
			name:    "unknown cache driver",
			mutate:  func(c *Config) { c.Cache.Driver = "etcd" },
			wantErr: "cache.driver",
		},
		{
			name: "redis driver requires address",
			mutate: func(c *Config) {
				c.Cache.Driver = CacheDriverRedis
				c.Cache.RedisAddr = ""
			},
			wantErr: "cache.redis_addr",
		},
		{
			name: "sqlite driver requires path",
			mutate: func(c *Config) {
				c.Cache.Driver = CacheDriverSQLite
				c.Cache.SQLitePath = ""
			},
			wantErr: "cache.sqlite_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := Config{
		ConfigSource: "./core.json",
		Alerts: AlertsConfig{
			SlackWebhook:  "https://hooks.slack.example/T000/B000/verysecret",
			TelegramToken: "123456:ABCDEF",
		},
	}

	out := cfg.String()
	assert.NotContains(t, out, "verysecret")
	assert.NotContains(t, out, "123456:ABCDEF")
}
