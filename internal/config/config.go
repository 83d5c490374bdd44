// Package config provides configuration for the glance relay. Settings
// come from environment variables with the GLANCE_ prefix, with an
// optional YAML file overriding them. Every option has a sensible
// default so the relay runs out of the box with the in-memory store and
// identification disabled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openglance/glance/internal/tracker"
)

// Config holds all settings for the glance relay.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Storage  StorageConfig  `yaml:"storage"`
	Identify IdentifyConfig `yaml:"identify"`
	Tracker  tracker.Params `yaml:"tracker"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Default: 8420
	Host string `yaml:"host"` // Default: 127.0.0.1
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// SecurityMode is "development" (no auth) or "production" (bearer
	// token required on the API).
	SecurityMode string `yaml:"mode"`
	APIToken     string `yaml:"api_token"`

	// AllowedOrigins for websocket upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects and configures the profile store backend.
type StorageConfig struct {
	// Engine is "memory" (default, volatile) or "sqlite" (durable).
	Engine   string `yaml:"engine"`
	DataPath string `yaml:"data_path"` // SQLite data directory (default: ./data)
}

// IdentifyConfig configures the face identification capability.
type IdentifyConfig struct {
	// Enabled turns on the Postgres face index. When false every capture
	// creates a fresh profile.
	Enabled     bool    `yaml:"enabled"`
	PostgresDSN string  `yaml:"postgres_dsn"`
	EmbedderURL string  `yaml:"embedder_url"` // Face embedding service base URL
	MaxDistance float64 `yaml:"max_distance"` // L2 match threshold (default: 0.6)

	// Circuit breaker around the index.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"` // Default: 3
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`      // Default: 30s
}

// LoadConfig loads configuration from environment variables with
// defaults. All variables use the GLANCE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads the base configuration from the environment and
// then applies the YAML file at path on top of it.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildBaseConfig constructs a Config from environment variables and
// defaults. Shared base for LoadConfig and LoadConfigFile.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("GLANCE_PORT", 8420),
			Host: getEnv("GLANCE_HOST", "127.0.0.1"),
		},
		Security: SecurityConfig{
			SecurityMode:   getEnv("GLANCE_SECURITY_MODE", "development"),
			APIToken:       getEnv("GLANCE_API_TOKEN", ""),
			AllowedOrigins: nil, // Same-host origins only unless configured
		},
		Storage: StorageConfig{
			Engine:   getEnv("GLANCE_STORAGE_ENGINE", "memory"),
			DataPath: getEnv("GLANCE_DATA_PATH", "./data"),
		},
		Identify: IdentifyConfig{
			Enabled:            getEnvBool("GLANCE_IDENTIFY_ENABLED", false),
			PostgresDSN:        getEnv("GLANCE_IDENTIFY_POSTGRES_DSN", ""),
			EmbedderURL:        getEnv("GLANCE_IDENTIFY_EMBEDDER_URL", "http://localhost:8900"),
			MaxDistance:        getEnvFloat("GLANCE_IDENTIFY_MAX_DISTANCE", 0.6),
			BreakerMaxFailures: uint32(getEnvInt("GLANCE_IDENTIFY_BREAKER_FAILURES", 3)),
			BreakerTimeout:     getEnvDuration("GLANCE_IDENTIFY_BREAKER_TIMEOUT", 30*time.Second),
		},
		Tracker: tracker.DefaultParams(),
	}
}

// getEnv retrieves a string environment variable or returns a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a
// default when unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a
// default when unset or unparsable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a
// default when unset or unparsable.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a
// default when unset or unparsable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
