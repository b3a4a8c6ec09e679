package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.API.Port, cfg.API.Port)
	assert.Equal(t, def.Session.HeartbeatIntervalSec, cfg.Session.HeartbeatIntervalSec)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zonemap.json")
	content := `{
		"log_level": "debug",
		"api": {"host": "127.0.0.1", "port": 9090},
		"session": {"heartbeat_interval_s": 15, "operation_timeout_s": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 15, cfg.Session.HeartbeatIntervalSec)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().DatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultConfig().BestZone.DefaultRadiusM, cfg.BestZone.DefaultRadiusM)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zonemap.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZONEMAP_LOG_LEVEL", "warn")
	t.Setenv("ZONEMAP_MQTT_PASSWORD", "hunter2")
	t.Setenv("ZONEMAP_MAPS_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "hunter2", cfg.MQTT.Password)
	assert.Equal(t, "test-key", cfg.Maps.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, false},
		{"bad api port", func(c *Config) { c.API.Port = 0 }, false},
		{"zero heartbeat", func(c *Config) { c.Session.HeartbeatIntervalSec = 0 }, false},
		{"default radius above max", func(c *Config) { c.BestZone.DefaultRadiusM = 100000 }, false},
		{"cache without path", func(c *Config) { c.Auth.CachePath = "" }, false},
		{"cache disabled ignores path", func(c *Config) {
			c.Auth.CacheEnabled = false
			c.Auth.CachePath = ""
		}, true},
		{"mqtt enabled without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = ""
		}, false},
		{"mqtt bad qos", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.QoS = 3
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
