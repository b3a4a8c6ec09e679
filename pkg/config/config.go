// Package config loads zonemapd configuration from a JSON file with sane
// defaults. A missing file is not an error; secrets can be injected through
// ZONEMAP_* environment variables so they stay out of the config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel     string `json:"log_level"`
	DatabasePath string `json:"database_path"`

	API      APIConfig      `json:"api"`
	Auth     AuthConfig     `json:"auth"`
	Session  SessionConfig  `json:"session"`
	BestZone BestZoneConfig `json:"bestzone"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Maps     MapsConfig     `json:"maps"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AuthConfig configures token verification and the verdict cache.
type AuthConfig struct {
	CacheEnabled   bool   `json:"cache_enabled"`
	CachePath      string `json:"cache_path"`
	PositiveTTLSec int    `json:"positive_ttl_s"`
	NegativeTTLSec int    `json:"negative_ttl_s"`
}

// SessionConfig configures streaming session behavior.
type SessionConfig struct {
	HeartbeatIntervalSec int `json:"heartbeat_interval_s"`
	OperationTimeoutSec  int `json:"operation_timeout_s"`
}

// BestZoneConfig configures best-zone search radii in meters.
type BestZoneConfig struct {
	DefaultRadiusM float64 `json:"default_radius_m"`
	MaxRadiusM     float64 `json:"max_radius_m"`
}

// MQTTConfig configures the optional telemetry publisher.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
}

// MapsConfig configures the optional reverse geocoder.
type MapsConfig struct {
	APIKey string `json:"api_key"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		DatabasePath: "/var/lib/zonemap/measurements.db",
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthConfig{
			CacheEnabled:   true,
			CachePath:      "/var/lib/zonemap/token_cache.db",
			PositiveTTLSec: 900,
			NegativeTTLSec: 60,
		},
		Session: SessionConfig{
			HeartbeatIntervalSec: 30,
			OperationTimeoutSec:  10,
		},
		BestZone: BestZoneConfig{
			DefaultRadiusM: 5000,
			MaxRadiusM:     50000,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "localhost",
			Port:        1883,
			ClientID:    "zonemapd",
			TopicPrefix: "zonemap",
			QoS:         1,
		},
	}
}

// Load reads the configuration file at path, layered over the defaults. A
// missing file yields the defaults unchanged. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fall through to env overrides with defaults.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides injects secrets from the environment so they need not be
// written to disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZONEMAP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ZONEMAP_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("ZONEMAP_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("ZONEMAP_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("ZONEMAP_MAPS_API_KEY"); v != "" {
		c.Maps.APIKey = v
	}
}

// Validate rejects configurations that cannot produce a working daemon.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Session.HeartbeatIntervalSec <= 0 {
		return fmt.Errorf("heartbeat_interval_s must be positive, got %d", c.Session.HeartbeatIntervalSec)
	}
	if c.Session.OperationTimeoutSec <= 0 {
		return fmt.Errorf("operation_timeout_s must be positive, got %d", c.Session.OperationTimeoutSec)
	}
	if c.BestZone.DefaultRadiusM <= 0 || c.BestZone.MaxRadiusM <= 0 {
		return fmt.Errorf("bestzone radii must be positive")
	}
	if c.BestZone.DefaultRadiusM > c.BestZone.MaxRadiusM {
		return fmt.Errorf("default_radius_m %.0f exceeds max_radius_m %.0f",
			c.BestZone.DefaultRadiusM, c.BestZone.MaxRadiusM)
	}
	if c.Auth.CacheEnabled {
		if c.Auth.CachePath == "" {
			return fmt.Errorf("auth cache_path must not be empty when the cache is enabled")
		}
		if c.Auth.PositiveTTLSec <= 0 || c.Auth.NegativeTTLSec <= 0 {
			return fmt.Errorf("auth cache TTLs must be positive")
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker must not be empty when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("invalid mqtt port %d", c.MQTT.Port)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
		}
	}

	return nil
}
